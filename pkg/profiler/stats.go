package profiler

import "time"

// SectionStats is a point-in-time copy of one section.
type SectionStats struct {
	ID      uint64        `json:"id" yaml:"id"`
	Thread  ThreadID      `json:"thread" yaml:"thread"`
	Name    string        `json:"name" yaml:"name"`
	Total   time.Duration `json:"total_ns" yaml:"total_ns"`
	Self    time.Duration `json:"self_ns" yaml:"self_ns"`
	Execs   int64         `json:"execs" yaml:"execs"`
	Running bool          `json:"running" yaml:"running"`
}

// QualifiedName returns the section name prefixed with its thread,
// e.g. "17@app.Worker.Run()".
func (s SectionStats) QualifiedName() string {
	return s.Thread.String() + "@" + s.Name
}
