package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/secprof/internal/config"
	"github.com/psantana5/secprof/pkg/logging"
)

var (
	cfgFile  string
	logLevel string

	v   *viper.Viper
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "secprof",
	Short: "In-process section profiler",
	Long: `secprof times named sections of a running program, separating the
time a section spends itself from the time spent in sections nested inside
it, and prints a sorted per-section report.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initConfig()
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.secprof/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// initConfig reads in config file and ENV variables if set
func initConfig() error {
	v = viper.New()
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func newLogger(component string) (*logging.Logger, error) {
	logger, err := cfg.Logger(component)
	if err != nil {
		return nil, err
	}
	return logger.WithField("component", component), nil
}
