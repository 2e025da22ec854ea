// Package workload holds small instrumented programs used by the demo and
// serve commands.
package workload

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/secprof/pkg/instrument"
)

// Options tunes a workload run.
type Options struct {
	// Unit is the length of one "millisecond" of simulated work. Tests
	// shrink it to keep runs short.
	Unit time.Duration
	// Count is the workload-specific repetition count.
	Count int
	// Threads is the number of goroutines for the threads workload.
	Threads int
}

// DefaultOptions returns real-time options.
func DefaultOptions() Options {
	return Options{Unit: time.Millisecond, Count: 5, Threads: 4}
}

// Func runs one workload against p.
type Func func(ctx context.Context, p *instrument.Profiler, opts Options) error

var workloads = map[string]Func{
	"sleeps":  Sleeps,
	"nested":  Nested,
	"threads": Threads,
}

// Names lists the available workloads.
func Names() []string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get looks up a workload by name.
func Get(name string) (Func, error) {
	fn, ok := workloads[name]
	if !ok {
		return nil, fmt.Errorf("unknown workload %q (available: %v)", name, Names())
	}
	return fn, nil
}

// EntryName is the section name under which fn runs as an entry point,
// e.g. "github.com.psantana5.secprof.internal.workload.Sleeps()".
func EntryName(fn Func) string {
	return instrument.SectionName(runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sleeper repeats a fixed sleep, one section per call.
type sleeper struct {
	p    *instrument.Profiler
	unit time.Duration
}

// Sleeps builds a sleeper that sleeps Count times for 100+Count units.
// The constructor and every sleep are sections of their own.
func Sleeps(ctx context.Context, p *instrument.Profiler, opts Options) error {
	_, err := newSleeper(ctx, p, opts)
	return err
}

func newSleeper(ctx context.Context, p *instrument.Profiler, opts Options) (*sleeper, error) {
	defer p.TrackFunc()()

	s := &sleeper{p: p, unit: opts.Unit}
	for i := 0; i < opts.Count; i++ {
		if err := s.sleep(ctx, 100+opts.Count); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *sleeper) sleep(ctx context.Context, units int) error {
	defer s.p.TrackFunc()()
	return sleep(ctx, time.Duration(units)*s.unit)
}

// Nested runs the s1/s2 scenario: s1 sleeps 100 units, runs s2 three
// times for 200 units each, then sleeps another 100 units.
func Nested(ctx context.Context, p *instrument.Profiler, opts Options) error {
	defer p.Track("s1")()

	if err := sleep(ctx, 100*opts.Unit); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		err := func() error {
			defer p.Track("s2")()
			return sleep(ctx, 200*opts.Unit)
		}()
		if err != nil {
			return err
		}
	}
	return sleep(ctx, 100*opts.Unit)
}

type job struct {
	p    *instrument.Profiler
	unit time.Duration
}

func (j *job) run(ctx context.Context, n int) error {
	defer j.p.TrackFunc()()
	for i := 0; i < n; i++ {
		if err := j.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (j *job) step(ctx context.Context) error {
	defer j.p.TrackFunc()()
	return sleep(ctx, 10*j.unit)
}

// Threads runs the same job on Threads goroutines so that per-goroutine
// and merged reports differ.
func Threads(ctx context.Context, p *instrument.Profiler, opts Options) error {
	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}

	var wg sync.WaitGroup
	errs := make(chan error, threads)
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j := &job{p: p, unit: opts.Unit}
			if err := j.run(ctx, opts.Count); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	return <-errs
}
