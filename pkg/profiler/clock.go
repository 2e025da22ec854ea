package profiler

import "time"

// Clock is the time source used to measure sections.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the wall clock reading; its monotonic component keeps
// durations non-negative across wall clock adjustments.
func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock returns the clock backed by time.Now.
func SystemClock() Clock {
	return systemClock{}
}
