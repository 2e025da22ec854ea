package instrument

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/psantana5/secprof/pkg/logging"
	"github.com/psantana5/secprof/pkg/report"
)

func TestFilter_Allows(t *testing.T) {
	tests := []struct {
		name     string
		filter   *Filter
		section  string
		expected bool
	}{
		{"default allows app code", NewFilter(), "app.Worker.Run()", true},
		{"default denies runtime", NewFilter(), "runtime.gopark()", false},
		{"never times itself", NewFilter(), "github.com.psantana5.secprof.pkg.report.Build()", false},
		{"root package match", NewFilter(WithRoot("app/gc")), "app.gc.Heap.alloc()", true},
		{"root package miss", NewFilter(WithRoot("app/gc")), "app.net.Conn.Read()", false},
		{"inclusion set hit", NewFilter(WithInclude("Heap")), "app.gc.Heap.alloc()", true},
		{"inclusion set miss", NewFilter(WithInclude("Heap")), "app.gc.Sweeper.run()", false},
		{"inclusion beats exclusion", NewFilter(WithInclude("Heap"), WithExclude("app.")), "app.gc.Heap.alloc()", true},
		{"custom exclusion", NewFilter(WithExclude("vendor.")), "vendor.lib.F()", false},
		{"agent args", ParseAgentArgs("app.gc;Heap;HeapTest"), "app.gc.HeapTest.main()", true},
		{"agent args root only", ParseAgentArgs("app.gc"), "app.gc.Sweeper.run()", true},
		{"agent args empty", ParseAgentArgs(""), "anything.F()", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Allows(tt.section); got != tt.expected {
				t.Errorf("Allows(%q) = %v, expected %v", tt.section, got, tt.expected)
			}
			// cached decision must agree
			if got := tt.filter.Allows(tt.section); got != tt.expected {
				t.Errorf("cached Allows(%q) = %v, expected %v", tt.section, got, tt.expected)
			}
		})
	}
}

func TestSectionName(t *testing.T) {
	tests := []struct {
		symbol   string
		expected string
	}{
		{"main.main", "main.main()"},
		{"github.com/acme/app.(*Worker).Run", "github.com.acme.app.Worker.Run()"},
		{"github.com/acme/app.Worker.Stop", "github.com.acme.app.Worker.Stop()"},
		{"github.com/acme/app.run.func1", "github.com.acme.app.run.func1()"},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := SectionName(tt.symbol); got != tt.expected {
				t.Errorf("SectionName(%q) = %q, expected %q", tt.symbol, got, tt.expected)
			}
		})
	}
}

func namedCaller() string {
	return CallerName(0)
}

func TestCallerName(t *testing.T) {
	got := namedCaller()
	if !strings.HasSuffix(got, ".instrument.namedCaller()") {
		t.Errorf("CallerName = %q", got)
	}
}

type recordingSink struct {
	labels  []string
	reports []*report.Report
	err     error
}

func (s *recordingSink) Write(label string, r *report.Report) error {
	s.labels = append(s.labels, label)
	s.reports = append(s.reports, r)
	return s.err
}

func TestProfiler_TrackAndWrap(t *testing.T) {
	p := New(Config{Sink: &recordingSink{}, Report: report.DefaultOptions()})

	func() {
		defer p.Track("app.Outer.run()")()
		p.Wrap("app.Inner.step()", func() {})
		p.Wrap("app.Inner.step()", func() {})
	}()

	r := p.Build()
	if len(r.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d:\n%s", len(r.Entries), r)
	}
	execs := map[string]int64{}
	for _, e := range r.Entries {
		execs[e.Name] = e.Execs
		if e.Running {
			t.Errorf("%s still running", e.Name)
		}
	}
	if execs["Inner.step()"] != 2 || execs["Outer.run()"] != 1 {
		t.Errorf("unexpected execs: %v", execs)
	}
}

func TestProfiler_WrapExitsOnPanic(t *testing.T) {
	p := New(Config{Sink: &recordingSink{}})

	func() {
		defer func() { _ = recover() }()
		p.Wrap("app.Boom.go()", func() { panic("boom") })
	}()

	for _, s := range p.Registry().Snapshot() {
		if s.Running {
			t.Errorf("%s still running after panic", s.Name)
		}
	}
}

func TestProfiler_FilteredSectionsAreSkipped(t *testing.T) {
	p := New(Config{Filter: NewFilter(WithInclude("Kept"))})

	p.Wrap("app.Kept.f()", func() {})
	p.Wrap("app.Dropped.g()", func() {})

	stats := p.Registry().Snapshot()
	if len(stats) != 1 || stats[0].Name != "app.Kept.f()" {
		t.Errorf("unexpected sections: %+v", stats)
	}
}

func TestProfiler_RunEntryPointPublishes(t *testing.T) {
	sink := &recordingSink{}
	p := New(Config{Sink: sink})

	wantErr := errors.New("workload failed")
	err := p.RunEntryPoint("app.main()", func() error {
		p.Wrap("app.Job.run()", func() {})
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("RunEntryPoint error = %v, expected %v", err, wantErr)
	}
	if len(sink.reports) != 1 || sink.labels[0] != "app.main()" {
		t.Fatalf("expected one published report, got %d", len(sink.reports))
	}
	if n := len(sink.reports[0].Entries); n != 2 {
		t.Errorf("published report has %d entries, expected 2", n)
	}
}

func TestProfiler_RunEntryPointSinkError(t *testing.T) {
	sinkErr := errors.New("disk full")
	p := New(Config{Sink: &recordingSink{err: sinkErr}})

	err := p.RunEntryPoint("app.main()", func() error { return nil })
	if !errors.Is(err, sinkErr) {
		t.Errorf("RunEntryPoint error = %v, expected sink error", err)
	}
}

func TestProfiler_ClearAndReport(t *testing.T) {
	p := New(Config{})
	p.Wrap("x.A.f()", func() {})
	p.Clear()

	if got := p.GetReport(); got != "ClassName  Total(ms) Self(ms) Count\n" {
		t.Errorf("report after Clear = %q", got)
	}

	p.Wrap("x.A.f()", func() {})
	r := p.Build()
	if len(r.Entries) != 1 || r.Entries[0].Execs != 1 {
		t.Errorf("unexpected report after re-entry: %+v", r.Entries)
	}
}

func TestProfiler_SetOptions(t *testing.T) {
	p := New(Config{Report: report.Options{Merge: true}})
	if got := p.Options().PerExecThreshold; got != report.DefaultPerExecThreshold {
		t.Errorf("threshold = %d, expected default", got)
	}
	p.SetOptions(report.Options{Merge: false, PerExecThreshold: 5})
	if got := p.Options(); got.Merge || got.PerExecThreshold != 5 {
		t.Errorf("options = %+v", got)
	}
}

func TestRender_Formats(t *testing.T) {
	p := New(Config{Report: report.DefaultOptions()})
	p.Wrap("app.A.f()", func() {})
	p.Wrap("app.B.g()", func() {})
	r := p.Build()

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Render(&buf, r, FormatText); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(buf.String(), "ClassName") {
			t.Errorf("text output = %q", buf.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Render(&buf, r, FormatJSON); err != nil {
			t.Fatal(err)
		}
		var decoded report.Report
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if len(decoded.Entries) != 2 || !decoded.Merged {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Render(&buf, r, FormatYAML); err != nil {
			t.Fatal(err)
		}
		var decoded map[string]interface{}
		if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid yaml: %v", err)
		}
		if entries, ok := decoded["entries"].([]interface{}); !ok || len(entries) != 2 {
			t.Errorf("decoded = %v", decoded)
		}
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Render(&buf, r, FormatTable); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "A.f()") {
			t.Errorf("table output = %q", buf.String())
		}
	})
}

func TestParseFormat(t *testing.T) {
	for _, ok := range []string{"", "text", "table", "json", "yaml"} {
		if _, err := ParseFormat(ok); err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", ok, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestFileSink_AppendsDatedReports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "app.stat")
	sink := NewFileSink(path)

	p := New(Config{Sink: sink})
	p.Wrap("app.A.f()", func() {})
	if err := p.Publish("app.main()"); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish("app.main()"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if n := strings.Count(content, "run="+sink.RunID()); n != 2 {
		t.Errorf("expected 2 report headers, found %d:\n%s", n, content)
	}
	if n := strings.Count(content, "ClassName"); n != 2 {
		t.Errorf("expected 2 report tables, found %d", n)
	}
}

func TestLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.INFO, false)
	logger.SetOutput(&buf)

	p := New(Config{Sink: LoggerSink{Logger: logger}})
	p.Wrap("app.A.f()", func() {})
	if err := p.Publish("app.main()"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Profiling report") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestLoggerSink_EntryFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.INFO, true)
	logger.SetOutput(&buf)

	p := New(Config{Sink: LoggerSink{Logger: logger}, Report: report.DefaultOptions()})
	p.Wrap("app.A.f()", func() {})
	p.Wrap("app.A.f()", func() {})
	if err := p.Publish("app.main()"); err != nil {
		t.Fatal(err)
	}

	var sections []map[string]interface{}
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var entry struct {
			Message string                 `json:"message"`
			Fields  map[string]interface{} `json:"fields"`
		}
		if err := dec.Decode(&entry); err != nil {
			t.Fatalf("log output is not json lines: %v", err)
		}
		if entry.Message == "Section" {
			sections = append(sections, entry.Fields)
		}
	}

	if len(sections) != 1 {
		t.Fatalf("expected one section line, got %v", sections)
	}
	f := sections[0]
	section, _ := f["section"].(string)
	if f["entry"] != "app.main()" || !strings.HasSuffix(section, "f()") || strings.Contains(section, "@") {
		t.Errorf("unexpected fields: %v", f)
	}
	if f["execs"] != float64(2) {
		t.Errorf("execs = %v, want 2", f["execs"])
	}
	for _, key := range []string{"total_ms", "self_ms"} {
		if _, ok := f[key].(float64); !ok {
			t.Errorf("%s missing or not numeric: %v", key, f)
		}
	}
}
