package profiler

import "time"

// Section is the timing state of one named section on one thread.
// All fields are guarded by the owning Registry's lock.
type Section struct {
	id     uint64
	thread ThreadID
	name   string

	total time.Duration
	self  time.Duration
	execs int64

	running  bool
	runStart time.Time

	// sections that started while this run was active, by child id
	links map[uint64]*link
}

// link records a child section nested in the current run of its parent.
// baseline is the child's self time when the nesting began.
type link struct {
	child    *Section
	baseline time.Duration
}

func newSection(id uint64, thread ThreadID, name string) *Section {
	return &Section{
		id:     id,
		thread: thread,
		name:   name,
		links:  make(map[uint64]*link),
	}
}

// enter counts an invocation and starts the timer unless a run is already
// active. Re-entry of a running section only bumps the count.
func (s *Section) enter(now time.Time) {
	s.execs++
	if !s.running {
		s.running = true
		s.runStart = now
	}
}

// stop commits the current run. It is a no-op when not running.
func (s *Section) stop(now time.Time) {
	if !s.running {
		return
	}
	self := s.selfAt(now, make(map[*Section]time.Duration))
	s.total += now.Sub(s.runStart)
	s.self = self
	clear(s.links)
	s.running = false
}

// selfAt evaluates the self time of s at now:
//
//	self + (now - runStart) - Σ (child.selfAt(now) - baseline)
//
// memo caches results for one evaluation; a section linked from several
// ancestors is computed once.
func (s *Section) selfAt(now time.Time, memo map[*Section]time.Duration) time.Duration {
	if !s.running {
		return s.self
	}
	if v, ok := memo[s]; ok {
		return v
	}
	result := s.self + now.Sub(s.runStart)
	for _, l := range s.links {
		result -= l.insideTime(now, memo)
	}
	memo[s] = result
	return result
}

// totalAt is the total time including the active run, if any.
func (s *Section) totalAt(now time.Time) time.Duration {
	if !s.running {
		return s.total
	}
	return s.total + now.Sub(s.runStart)
}

func (s *Section) addLink(child *Section, memo map[*Section]time.Duration, now time.Time) {
	s.links[child.id] = &link{
		child:    child,
		baseline: child.selfAt(now, memo),
	}
}

// removeLink drops the link to child and charges the self time the child
// accrued while nested against s.
func (s *Section) removeLink(child *Section, memo map[*Section]time.Duration, now time.Time) {
	l, ok := s.links[child.id]
	if !ok {
		return
	}
	delete(s.links, child.id)
	s.self -= l.insideTime(now, memo)
}

func (l *link) insideTime(now time.Time, memo map[*Section]time.Duration) time.Duration {
	return l.child.selfAt(now, memo) - l.baseline
}
