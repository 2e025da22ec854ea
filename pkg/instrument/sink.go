package instrument

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/secprof/pkg/logging"
	"github.com/psantana5/secprof/pkg/report"
)

// Sink receives finished reports.
type Sink interface {
	Write(label string, r *report.Report) error
}

// Format selects how a WriterSink renders reports.
type Format string

const (
	FormatText  Format = "text"
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, table, json or yaml)", s)
	}
}

// WriterSink renders reports to an io.Writer.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

// NewWriterSink creates a sink writing to w in the given format.
func NewWriterSink(w io.Writer, format Format) *WriterSink {
	return &WriterSink{w: w, format: format}
}

// StdoutSink prints text reports to standard output.
func StdoutSink() *WriterSink {
	return NewWriterSink(os.Stdout, FormatText)
}

// Write renders r.
func (s *WriterSink) Write(label string, r *report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Render(s.w, r, s.format)
}

// Render writes r to w in the given format.
func Render(w io.Writer, r *report.Report, format Format) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(r); err != nil {
			return err
		}
		return encoder.Close()
	case FormatTable:
		r.WriteTable(w)
		return nil
	default:
		_, err := io.WriteString(w, r.String())
		return err
	}
}

// FileSink appends dated text reports to a file, one block per report.
type FileSink struct {
	mu    sync.Mutex
	path  string
	runID string
	now   func() time.Time
}

// NewFileSink creates a sink appending to path. Every report it writes is
// tagged with the same run id.
func NewFileSink(path string) *FileSink {
	return &FileSink{
		path:  path,
		runID: uuid.New().String(),
		now:   time.Now,
	}
}

// RunID returns the id written in every report header.
func (s *FileSink) RunID() string {
	return s.runID
}

// Write appends r to the file.
func (s *FileSink) Write(label string, r *report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open report file %s: %w", s.path, err)
	}
	defer f.Close()

	header := fmt.Sprintf("# %s run=%s entry=%s\n", s.now().Format(time.RFC3339), s.runID, label)
	if _, err := io.WriteString(f, header+r.String()+"\n"); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", s.path, err)
	}
	return nil
}

// LoggerSink logs one INFO line per report entry.
type LoggerSink struct {
	Logger *logging.Logger
}

// Write logs r.
func (s LoggerSink) Write(label string, r *report.Report) error {
	s.Logger.Info("Profiling report", map[string]interface{}{
		"entry":    label,
		"sections": len(r.Entries),
	})
	for _, e := range r.Entries {
		s.Logger.Info("Section", map[string]interface{}{
			"entry":    label,
			"section":  e.Display(),
			"total_ms": float64(e.Total.Microseconds()) / 1000,
			"self_ms":  float64(e.Self.Microseconds()) / 1000,
			"execs":    e.Execs,
		})
	}
	return nil
}
