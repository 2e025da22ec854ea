package cmd

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/psantana5/secprof/internal/workload"
	"github.com/psantana5/secprof/pkg/instrument"
	"github.com/psantana5/secprof/pkg/metrics"
	"github.com/psantana5/secprof/pkg/profiler"
)

var (
	demoMerge   bool
	demoOutput  string
	demoMetrics bool
	demoCount   int
	demoThreads int
	demoUnit    time.Duration
)

var demoCmd = &cobra.Command{
	Use:   "demo [sleeps|nested|threads]",
	Short: "Run a built-in instrumented workload and print its report",
	Long: `Runs one of the built-in workloads under the profiler and prints the
report once the workload returns.

  sleeps   a constructor sleeping count times for 100+count ms
  nested   s1 running s2 three times, the classic self/total example
  threads  the same job on several goroutines, to compare --merge=false

Example:
  secprof demo sleeps
  secprof demo threads --merge=false --output table
  secprof demo nested --output json --metrics`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: workload.Names(),
	RunE:      runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)

	defaults := workload.DefaultOptions()
	demoCmd.Flags().BoolVar(&demoMerge, "merge", true, "merge same-named sections of different goroutines")
	demoCmd.Flags().StringVarP(&demoOutput, "output", "o", "", "report format: text, table, json, yaml (default from config)")
	demoCmd.Flags().BoolVar(&demoMetrics, "metrics", false, "also print the report as Prometheus metrics")
	demoCmd.Flags().IntVar(&demoCount, "count", defaults.Count, "workload repetition count")
	demoCmd.Flags().IntVar(&demoThreads, "threads", defaults.Threads, "goroutines for the threads workload")
	demoCmd.Flags().DurationVar(&demoUnit, "unit", defaults.Unit, "length of one simulated millisecond")
}

func runDemo(cmd *cobra.Command, args []string) error {
	name := "sleeps"
	if len(args) > 0 {
		name = args[0]
	}
	fn, err := workload.Get(name)
	if err != nil {
		return err
	}

	logger, err := newLogger("demo")
	if err != nil {
		return err
	}
	defer logger.Close()

	opts := cfg.ReportOptions()
	if cmd.Flags().Changed("merge") {
		opts.Merge = demoMerge
	}
	format := cfg.OutputFormat()
	if demoOutput != "" {
		if format, err = instrument.ParseFormat(demoOutput); err != nil {
			return err
		}
	}

	p := instrument.New(instrument.Config{
		Registry: profiler.NewRegistry(profiler.WithLogger(logger)),
		Filter:   cfg.Filter(),
		Sink:     instrument.NewWriterSink(cmd.OutOrStdout(), format),
		Logger:   logger,
		Report:   opts,
	})

	logger.Info("Running workload", map[string]interface{}{
		"workload": name,
		"count":    demoCount,
		"threads":  demoThreads,
	})
	wopts := workload.Options{Unit: demoUnit, Count: demoCount, Threads: demoThreads}
	err = p.RunEntryPoint(workload.EntryName(fn), func() error {
		return fn(cmd.Context(), p, wopts)
	})
	if err != nil {
		return fmt.Errorf("workload %s failed: %w", name, err)
	}

	if demoMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewSectionCollector(p.Registry()))
		fmt.Fprintln(cmd.OutOrStdout())
		return metrics.WriteText(cmd.OutOrStdout(), reg)
	}
	return nil
}
