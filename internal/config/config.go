package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/secprof/pkg/instrument"
	"github.com/psantana5/secprof/pkg/logging"
	"github.com/psantana5/secprof/pkg/report"
)

// EnvPrefix is prepended to every environment override,
// e.g. SECPROF_REPORT_MERGE_THREADS.
const EnvPrefix = "SECPROF"

// Config is the complete secprof configuration.
type Config struct {
	Report     ReportConfig     `mapstructure:"report" yaml:"report"`
	Sink       SinkConfig       `mapstructure:"sink" yaml:"sink"`
	Instrument InstrumentConfig `mapstructure:"instrument" yaml:"instrument"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// ReportConfig controls report building and rendering.
type ReportConfig struct {
	MergeThreads     bool   `mapstructure:"merge_threads" yaml:"merge_threads"`
	PerExecThreshold int64  `mapstructure:"per_exec_threshold" yaml:"per_exec_threshold"`
	Output           string `mapstructure:"output" yaml:"output"` // text, table, json, yaml
}

// SinkConfig selects where published reports go.
type SinkConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind"` // stdout, file, log
	Path string `mapstructure:"path" yaml:"path"`
}

// InstrumentConfig selects the recorded sections.
type InstrumentConfig struct {
	RootPackage string   `mapstructure:"root_package" yaml:"root_package"`
	Include     []string `mapstructure:"include" yaml:"include"`
	Exclude     []string `mapstructure:"exclude" yaml:"exclude"`
}

// ServerConfig configures the HTTP API of `secprof serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
}

// ValidationError reports a configuration value that cannot be used.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Report: ReportConfig{
			MergeThreads:     true,
			PerExecThreshold: report.DefaultPerExecThreshold,
			Output:           string(instrument.FormatText),
		},
		Sink: SinkConfig{Kind: "stdout"},
		Instrument: InstrumentConfig{
			Include: []string{},
			Exclude: append([]string(nil), instrument.DefaultExclude...),
		},
		Server: ServerConfig{Addr: ":9464"},
		Log:    LogConfig{Level: "info"},
	}
}

// SetDefaults registers the built-in values with v so that environment
// overrides are honoured even for keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("report.merge_threads", d.Report.MergeThreads)
	v.SetDefault("report.per_exec_threshold", d.Report.PerExecThreshold)
	v.SetDefault("report.output", d.Report.Output)
	v.SetDefault("sink.kind", d.Sink.Kind)
	v.SetDefault("sink.path", d.Sink.Path)
	v.SetDefault("instrument.root_package", d.Instrument.RootPackage)
	v.SetDefault("instrument.include", d.Instrument.Include)
	v.SetDefault("instrument.exclude", d.Instrument.Exclude)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.dir", d.Log.Dir)
}

// DefaultPath returns $HOME/.secprof/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".secprof", "config.yaml"), nil
}

// Load reads the config file at path into v and decodes it. With an empty
// path $HOME/.secprof/config.yaml is tried; a missing default file is not
// an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".secprof"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Decode(v)
}

// Decode builds and validates a Config from the current state of v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with the new configuration every time the file
// backing v changes. Invalid edits are logged and skipped.
func Watch(v *viper.Viper, logger *logging.Logger, onChange func(*Config)) {
	if logger == nil {
		logger = logging.Discard()
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid config change", map[string]interface{}{
				"file":  e.Name,
				"error": err.Error(),
			})
			return
		}
		logger.Info("Config reloaded", map[string]interface{}{
			"file": e.Name,
			"op":   e.Op.String(),
		})
		onChange(cfg)
	})
	v.WatchConfig()
}

// Validate checks every field that has a restricted domain.
func (c *Config) Validate() error {
	if c.Report.PerExecThreshold <= 0 {
		return &ValidationError{"report.per_exec_threshold", c.Report.PerExecThreshold, "must be positive"}
	}
	if _, err := instrument.ParseFormat(c.Report.Output); err != nil {
		return &ValidationError{"report.output", c.Report.Output, "must be text, table, json or yaml"}
	}
	switch c.Sink.Kind {
	case "stdout", "log":
	case "file":
		if c.Sink.Path == "" {
			return &ValidationError{"sink.path", `""`, "required when sink.kind is file"}
		}
	default:
		return &ValidationError{"sink.kind", c.Sink.Kind, "must be stdout, file or log"}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{"log.level", c.Log.Level, "must be debug, info, warn or error"}
	}
	if c.Server.Addr == "" {
		return &ValidationError{"server.addr", `""`, "must not be empty"}
	}
	return nil
}

// ReportOptions converts the report section.
func (c *Config) ReportOptions() report.Options {
	return report.Options{
		Merge:            c.Report.MergeThreads,
		PerExecThreshold: c.Report.PerExecThreshold,
	}
}

// OutputFormat returns the parsed report.output value.
func (c *Config) OutputFormat() instrument.Format {
	f, err := instrument.ParseFormat(c.Report.Output)
	if err != nil {
		return instrument.FormatText
	}
	return f
}

// Filter builds the instrumentation filter.
func (c *Config) Filter() *instrument.Filter {
	opts := []instrument.FilterOption{
		instrument.WithRoot(c.Instrument.RootPackage),
		instrument.WithInclude(c.Instrument.Include...),
	}
	if c.Instrument.Exclude != nil {
		opts = append(opts, instrument.WithExclude(c.Instrument.Exclude...))
	}
	return instrument.NewFilter(opts...)
}

// NewSink builds the report sink.
func (c *Config) NewSink(logger *logging.Logger) instrument.Sink {
	switch c.Sink.Kind {
	case "file":
		return instrument.NewFileSink(c.Sink.Path)
	case "log":
		if logger == nil {
			logger = logging.Discard()
		}
		return instrument.LoggerSink{Logger: logger}
	default:
		return instrument.NewWriterSink(os.Stdout, c.OutputFormat())
	}
}

// Logger builds the logger described by the log section. With log.dir set
// the output goes to a file in that directory.
func (c *Config) Logger(component string) (*logging.Logger, error) {
	level := logging.ParseLevel(c.Log.Level)
	if c.Log.Dir != "" {
		return logging.NewFileLogger(c.Log.Dir, component, level, c.Log.JSON)
	}
	return logging.NewLogger(level, c.Log.JSON), nil
}

// Marshal renders c as YAML, the format `secprof config init` writes.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
