package workload

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/psantana5/secprof/pkg/instrument"
	"github.com/psantana5/secprof/pkg/profiler"
	"github.com/psantana5/secprof/pkg/report"
)

func fastOptions() Options {
	return Options{Unit: 10 * time.Microsecond, Count: 3, Threads: 3}
}

func newProfiler() *instrument.Profiler {
	return instrument.New(instrument.Config{Report: report.DefaultOptions()})
}

func byName(stats []profiler.SectionStats, suffix string) []profiler.SectionStats {
	var out []profiler.SectionStats
	for _, s := range stats {
		if strings.HasSuffix(s.Name, suffix) {
			out = append(out, s)
		}
	}
	return out
}

func TestGet(t *testing.T) {
	for _, name := range Names() {
		if _, err := Get(name); err != nil {
			t.Errorf("Get(%q) failed: %v", name, err)
		}
	}
	if _, err := Get("missing"); err == nil {
		t.Error("expected error for unknown workload")
	}
}

func TestEntryName(t *testing.T) {
	expected := "github.com.psantana5.secprof.internal.workload.Nested()"
	if got := EntryName(Nested); got != expected {
		t.Errorf("EntryName(Nested) = %q, expected %q", got, expected)
	}
}

func TestSleeps(t *testing.T) {
	p := newProfiler()
	if err := Sleeps(context.Background(), p, fastOptions()); err != nil {
		t.Fatal(err)
	}

	stats := p.Registry().Snapshot()
	sleeps := byName(stats, ".sleeper.sleep()")
	ctor := byName(stats, ".newSleeper()")
	if len(sleeps) != 1 || len(ctor) != 1 {
		t.Fatalf("unexpected sections: %+v", stats)
	}
	if sleeps[0].Execs != 3 || ctor[0].Execs != 1 {
		t.Errorf("execs: sleep=%d ctor=%d", sleeps[0].Execs, ctor[0].Execs)
	}
	if ctor[0].Self > ctor[0].Total-sleeps[0].Total+time.Millisecond {
		t.Errorf("constructor self %v not reduced by nested sleeps %v", ctor[0].Self, sleeps[0].Total)
	}
}

func TestNested(t *testing.T) {
	p := newProfiler()
	if err := Nested(context.Background(), p, fastOptions()); err != nil {
		t.Fatal(err)
	}

	stats := p.Registry().Snapshot()
	s1, s2 := byName(stats, "s1"), byName(stats, "s2")
	if len(s1) != 1 || len(s2) != 1 {
		t.Fatalf("unexpected sections: %+v", stats)
	}
	if s2[0].Execs != 3 {
		t.Errorf("s2 execs = %d, expected 3", s2[0].Execs)
	}
	if s1[0].Self > s1[0].Total || s2[0].Self != s2[0].Total {
		t.Errorf("s1=%+v s2=%+v", s1[0], s2[0])
	}
	if s1[0].Total < s2[0].Total {
		t.Errorf("s1 total %v shorter than nested s2 total %v", s1[0].Total, s2[0].Total)
	}
}

func TestThreads_MergedAndPerGoroutine(t *testing.T) {
	p := newProfiler()
	opts := fastOptions()
	if err := Threads(context.Background(), p, opts); err != nil {
		t.Fatal(err)
	}

	runs := byName(p.Registry().Snapshot(), ".job.run()")
	if len(runs) != opts.Threads {
		t.Fatalf("expected %d per-goroutine sections, got %d", opts.Threads, len(runs))
	}

	merged := report.Build(p.Registry().Snapshot(), report.Options{Merge: true})
	for _, e := range merged.Entries {
		if strings.HasSuffix(e.FullName, ".job.step()") && e.Execs != int64(opts.Threads*opts.Count) {
			t.Errorf("merged step execs = %d, expected %d", e.Execs, opts.Threads*opts.Count)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newProfiler()
	for _, name := range Names() {
		fn, _ := Get(name)
		if err := fn(ctx, p, DefaultOptions()); !errors.Is(err, context.Canceled) {
			t.Errorf("%s: error = %v, expected context.Canceled", name, err)
		}
	}
	for _, s := range p.Registry().Snapshot() {
		if s.Running {
			t.Errorf("%s still running after cancellation", s.Name)
		}
	}
}
