package profiler

import (
	"sync"
	"time"

	"github.com/psantana5/secprof/pkg/logging"
)

type sectionKey struct {
	thread ThreadID
	name   string
}

// Registry tracks timed sections per (thread, name).
//
// Nested time is attributed without keeping a call stack: when a section
// starts, it is linked into every section already running on the same
// thread, which by construction are its ancestors. Every operation,
// including Snapshot, runs under one lock.
type Registry struct {
	mu       sync.Mutex
	clock    Clock
	logger   *logging.Logger
	nextID   uint64
	sections map[sectionKey]*Section
	// running sections per thread; an unordered set, not a stack
	running map[ThreadID]map[*Section]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(c Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:    SystemClock(),
		logger:   logging.Discard(),
		sections: make(map[sectionKey]*Section),
		running:  make(map[ThreadID]map[*Section]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnterSection starts section name on the calling goroutine.
func (r *Registry) EnterSection(name string) {
	r.EnterSectionOn(CurrentThread(), name)
}

// ExitSection stops section name on the calling goroutine.
func (r *Registry) ExitSection(name string) {
	r.ExitSectionOn(CurrentThread(), name)
}

// EnterSectionOn starts section name on thread.
// Entering a section that is already running only increments its count.
func (r *Registry) EnterSectionOn(thread ThreadID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	key := sectionKey{thread: thread, name: name}
	s, ok := r.sections[key]
	if !ok {
		r.nextID++
		s = newSection(r.nextID, thread, name)
		r.sections[key] = s
	}

	if !s.running {
		active := r.running[thread]
		if len(active) > 0 {
			memo := make(map[*Section]time.Duration)
			for parent := range active {
				parent.addLink(s, memo, now)
			}
		}
		if active == nil {
			active = make(map[*Section]struct{})
			r.running[thread] = active
		}
		active[s] = struct{}{}
	}
	s.enter(now)
}

// ExitSectionOn stops section name on thread. Exiting a section that was
// never entered, or is not running, does nothing.
func (r *Registry) ExitSectionOn(thread ThreadID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sections[sectionKey{thread: thread, name: name}]
	if !ok || !s.running {
		if r.logger.Enabled(logging.DEBUG) {
			r.logger.Debug("Exit of section that is not running", map[string]interface{}{
				"section": name,
				"thread":  int64(thread),
			})
		}
		return
	}

	now := r.clock.Now()
	s.stop(now)

	active := r.running[thread]
	delete(active, s)
	memo := make(map[*Section]time.Duration)
	for parent := range active {
		parent.removeLink(s, memo, now)
	}
	if len(active) == 0 {
		delete(r.running, thread)
	}
}

// Clear drops every section. Runs in flight are discarded.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sections = make(map[sectionKey]*Section)
	r.running = make(map[ThreadID]map[*Section]struct{})
}

// Len returns the number of tracked sections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sections)
}

// Snapshot returns a consistent copy of all sections. Running sections are
// reported with the time accrued up to now, so Self never exceeds Total.
func (r *Registry) Snapshot() []SectionStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	memo := make(map[*Section]time.Duration)
	stats := make([]SectionStats, 0, len(r.sections))
	for _, s := range r.sections {
		stats = append(stats, SectionStats{
			ID:      s.id,
			Thread:  s.thread,
			Name:    s.name,
			Total:   s.totalAt(now),
			Self:    s.selfAt(now, memo),
			Execs:   s.execs,
			Running: s.running,
		})
	}
	return stats
}
