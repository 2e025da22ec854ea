package instrument

import (
	"sync"

	"github.com/psantana5/secprof/pkg/logging"
	"github.com/psantana5/secprof/pkg/profiler"
	"github.com/psantana5/secprof/pkg/report"
)

// Profiler binds a section registry to a filter, report options and a
// sink. It is the surface instrumented code calls into.
type Profiler struct {
	registry *profiler.Registry
	filter   *Filter
	sink     Sink
	logger   *logging.Logger

	mu   sync.RWMutex
	opts report.Options
}

// Config configures a Profiler. Zero values select the defaults.
type Config struct {
	Registry *profiler.Registry
	Filter   *Filter
	Sink     Sink
	Logger   *logging.Logger
	Report   report.Options
}

// New creates a profiler.
func New(cfg Config) *Profiler {
	p := &Profiler{
		registry: cfg.Registry,
		filter:   cfg.Filter,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
		opts:     cfg.Report,
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.registry == nil {
		p.registry = profiler.NewRegistry(profiler.WithLogger(p.logger))
	}
	if p.filter == nil {
		p.filter = NewFilter()
	}
	if p.sink == nil {
		p.sink = StdoutSink()
	}
	if p.opts.PerExecThreshold <= 0 {
		p.opts.PerExecThreshold = report.DefaultPerExecThreshold
	}
	return p
}

var (
	defaultOnce     sync.Once
	defaultProfiler *Profiler
)

// Default returns a process-wide profiler with merged reports printed to
// stdout. It is created on first use.
func Default() *Profiler {
	defaultOnce.Do(func() {
		defaultProfiler = New(Config{Report: report.DefaultOptions()})
	})
	return defaultProfiler
}

// Registry returns the underlying registry.
func (p *Profiler) Registry() *profiler.Registry {
	return p.registry
}

// Filter returns the instrumentation filter.
func (p *Profiler) Filter() *Filter {
	return p.filter
}

// EnterSection starts section name on the calling goroutine when the filter
// admits it.
func (p *Profiler) EnterSection(name string) {
	if p.filter.Allows(name) {
		p.registry.EnterSection(name)
	}
}

// ExitSection stops section name on the calling goroutine.
func (p *Profiler) ExitSection(name string) {
	if p.filter.Allows(name) {
		p.registry.ExitSection(name)
	}
}

// Clear drops all collected timings.
func (p *Profiler) Clear() {
	p.registry.Clear()
}

// Options returns the current report options.
func (p *Profiler) Options() report.Options {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

// SetOptions replaces the report options, e.g. after a config reload.
func (p *Profiler) SetOptions(opts report.Options) {
	if opts.PerExecThreshold <= 0 {
		opts.PerExecThreshold = report.DefaultPerExecThreshold
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
}

// Build builds a report from the current state of the registry.
func (p *Profiler) Build() *report.Report {
	return report.Build(p.registry.Snapshot(), p.Options())
}

// GetReport renders the current report as text.
func (p *Profiler) GetReport() string {
	return p.Build().String()
}

// Publish hands the current report to the configured sink.
func (p *Profiler) Publish(label string) error {
	r := p.Build()
	if err := p.sink.Write(label, r); err != nil {
		p.logger.Error("Failed to publish report", map[string]interface{}{
			"label": label,
			"error": err.Error(),
		})
		return err
	}
	return nil
}
