package report

import (
	"sort"
	"strings"
	"time"

	"github.com/psantana5/secprof/pkg/profiler"
)

// DefaultPerExecThreshold is the invocation count from which a section
// gets a per-invocation time column.
const DefaultPerExecThreshold = 100

// Options controls how a report is built.
type Options struct {
	// Merge joins same-named sections of different threads into one row.
	Merge bool `json:"merge" yaml:"merge"`
	// PerExecThreshold is the minimum count for the per-invocation column.
	// Zero means DefaultPerExecThreshold.
	PerExecThreshold int64 `json:"per_exec_threshold" yaml:"per_exec_threshold"`
}

// DefaultOptions returns merged reporting with the default threshold.
func DefaultOptions() Options {
	return Options{Merge: true, PerExecThreshold: DefaultPerExecThreshold}
}

// Entry is one row of a report.
type Entry struct {
	// Thread is empty for merged rows.
	Thread string `json:"thread,omitempty" yaml:"thread,omitempty"`
	// Name is the section name with the common prefix removed.
	Name     string        `json:"name" yaml:"name"`
	FullName string        `json:"full_name" yaml:"full_name"`
	Total    time.Duration `json:"total_ns" yaml:"total_ns"`
	Self     time.Duration `json:"self_ns" yaml:"self_ns"`
	Execs    int64         `json:"execs" yaml:"execs"`
	Running  bool          `json:"running,omitempty" yaml:"running,omitempty"`
	// PerExec is Self/Execs in Unit, set only for rows over the threshold.
	PerExec *int64 `json:"per_exec,omitempty" yaml:"per_exec,omitempty"`
}

// Display is the name shown in the first column.
func (e Entry) Display() string {
	if e.Thread == "" {
		return e.Name
	}
	return e.Thread + "@" + e.Name
}

// Report is a sorted, render-ready view of a registry snapshot.
type Report struct {
	Entries []Entry `json:"entries" yaml:"entries"`
	// Prefix is the common name prefix stripped from every entry.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// Unit of the per-invocation column: "ms", "us", "ns" or empty when
	// no entry reaches the threshold.
	Unit   string `json:"unit,omitempty" yaml:"unit,omitempty"`
	Merged bool   `json:"merged" yaml:"merged"`
}

// Build turns a snapshot into a report. The snapshot is not modified.
func Build(stats []profiler.SectionStats, opts Options) *Report {
	if opts.PerExecThreshold <= 0 {
		opts.PerExecThreshold = DefaultPerExecThreshold
	}

	var entries []Entry
	if opts.Merge {
		entries = Merge(stats)
	} else {
		entries = make([]Entry, 0, len(stats))
		for _, s := range stats {
			entries = append(entries, Entry{
				Thread:   s.Thread.String(),
				Name:     s.Name,
				FullName: s.Name,
				Total:    s.Total,
				Self:     s.Self,
				Execs:    s.Execs,
				Running:  s.Running,
			})
		}
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.FullName
	}
	prefix := CommonPrefix(names)
	if prefix != "" {
		for i := range entries {
			if short := strings.TrimPrefix(entries[i].FullName, prefix); short != "" {
				entries[i].Name = short
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ci, cj := ClassName(entries[i].Name), ClassName(entries[j].Name)
		if ci != cj {
			return ci < cj
		}
		if entries[i].Self != entries[j].Self {
			return entries[i].Self > entries[j].Self
		}
		return entries[i].Display() < entries[j].Display()
	})

	r := &Report{
		Entries: entries,
		Prefix:  prefix,
		Merged:  opts.Merge,
	}
	r.applyPerExec(opts.PerExecThreshold)
	return r
}

// Merge groups sections by name across threads, summing their counters.
func Merge(stats []profiler.SectionStats) []Entry {
	byName := make(map[string]*Entry, len(stats))
	order := make([]string, 0, len(stats))
	for _, s := range stats {
		e, ok := byName[s.Name]
		if !ok {
			e = &Entry{Name: s.Name, FullName: s.Name}
			byName[s.Name] = e
			order = append(order, s.Name)
		}
		e.Total += s.Total
		e.Self += s.Self
		e.Execs += s.Execs
		e.Running = e.Running || s.Running
	}

	entries := make([]Entry, 0, len(order))
	for _, name := range order {
		entries = append(entries, *byName[name])
	}
	return entries
}

// CommonPrefix returns the longest prefix shared by all names that ends on
// a '.' boundary. Only the qualifier part, before any '(', is considered.
func CommonPrefix(names []string) string {
	if len(names) == 0 {
		return ""
	}
	prefix := names[0]
	for _, name := range names[1:] {
		n := 0
		for n < len(prefix) && n < len(name) && prefix[n] == name[n] {
			n++
		}
		prefix = prefix[:n]
		if prefix == "" {
			return ""
		}
	}
	if i := strings.IndexByte(prefix, '('); i >= 0 {
		prefix = prefix[:i]
	}
	if !strings.HasSuffix(prefix, ".") {
		prefix = prefix[:strings.LastIndexByte(prefix, '.')+1]
	}
	return prefix
}

// ClassName returns the owning type of a section name: the text before the
// argument list, up to the last '.'.
//
//	ClassName("Foo.bar(int)") == "Foo"
//	ClassName("Foo(int)")     == "Foo"
func ClassName(name string) string {
	if i := strings.IndexByte(name, '('); i > 0 {
		name = name[:i]
	}
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name
	}
	return name[:i]
}

// per-invocation unit tiers, in nanoseconds
const (
	msTier = int64(100 * time.Millisecond)
	usTier = int64(100 * time.Microsecond)
)

func (r *Report) applyPerExec(threshold int64) {
	var maxNs int64 = -1
	for _, e := range r.Entries {
		if e.Execs >= threshold {
			if ns := e.Self.Nanoseconds() / e.Execs; ns > maxNs {
				maxNs = ns
			}
		}
	}
	if maxNs < 0 {
		return
	}

	var div int64
	switch {
	case maxNs > msTier:
		r.Unit, div = "ms", int64(time.Millisecond)
	case maxNs > usTier:
		r.Unit, div = "us", int64(time.Microsecond)
	default:
		r.Unit, div = "ns", 1
	}

	for i := range r.Entries {
		e := &r.Entries[i]
		if e.Execs >= threshold {
			v := e.Self.Nanoseconds() / e.Execs / div
			e.PerExec = &v
		}
	}
}
