package metrics

import (
	"bytes"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/secprof/pkg/profiler"
	"github.com/psantana5/secprof/pkg/report"
)

// Snapshotter is the part of a registry the collector reads.
type Snapshotter interface {
	Snapshot() []profiler.SectionStats
}

// SectionCollector exports section timings as Prometheus metrics. Values
// are taken from a registry snapshot on every scrape, merged by section
// name so that goroutine ids do not leak into label values.
type SectionCollector struct {
	source Snapshotter

	totalDesc   *prometheus.Desc
	selfDesc    *prometheus.Desc
	execsDesc   *prometheus.Desc
	runningDesc *prometheus.Desc
	countDesc   *prometheus.Desc
}

// NewSectionCollector creates a collector over source.
func NewSectionCollector(source Snapshotter) *SectionCollector {
	return &SectionCollector{
		source: source,
		totalDesc: prometheus.NewDesc(
			"secprof_section_total_seconds_total",
			"Wall-clock time spent in the section including nested sections",
			[]string{"section"}, nil,
		),
		selfDesc: prometheus.NewDesc(
			"secprof_section_self_seconds_total",
			"Time spent in the section excluding nested sections",
			[]string{"section"}, nil,
		),
		execsDesc: prometheus.NewDesc(
			"secprof_section_executions_total",
			"Number of times the section was entered",
			[]string{"section"}, nil,
		),
		runningDesc: prometheus.NewDesc(
			"secprof_section_running",
			"Whether the section has a run in progress on any goroutine",
			[]string{"section"}, nil,
		),
		countDesc: prometheus.NewDesc(
			"secprof_sections",
			"Number of tracked (goroutine, section) pairs",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *SectionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.selfDesc
	ch <- c.execsDesc
	ch <- c.runningDesc
	ch <- c.countDesc
}

// Collect implements prometheus.Collector
func (c *SectionCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.countDesc, prometheus.GaugeValue, float64(len(stats)))

	for _, e := range report.Merge(stats) {
		ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.CounterValue, e.Total.Seconds(), e.Name)
		ch <- prometheus.MustNewConstMetric(c.selfDesc, prometheus.CounterValue, e.Self.Seconds(), e.Name)
		ch <- prometheus.MustNewConstMetric(c.execsDesc, prometheus.CounterValue, float64(e.Execs), e.Name)
		running := 0.0
		if e.Running {
			running = 1
		}
		ch <- prometheus.MustNewConstMetric(c.runningDesc, prometheus.GaugeValue, running, e.Name)
	}
}

// NewRegistry returns a Prometheus registry holding a collector over
// source plus the Go runtime and process collectors.
func NewRegistry(source Snapshotter) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewSectionCollector(source))
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// WriteText writes every metric family gathered from g in the Prometheus
// text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	metricFamilies, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	_, err = w.Write(buf.Bytes())
	return err
}
