package instrument

import (
	"strings"
	"sync"

	"github.com/psantana5/secprof/pkg/report"
)

// selfPrefix names the profiler's own packages, which are never timed.
const selfPrefix = "github.com.psantana5.secprof.pkg."

// DefaultExclude lists the name prefixes skipped when no inclusion set is
// given.
var DefaultExclude = []string{"runtime.", "testing.", "reflect.", "syscall."}

// Filter decides which sections are recorded.
//
// A name is recorded when it starts with the root package and either its
// type is in the inclusion set, or the inclusion set is empty and the name
// matches no excluded prefix. Decisions are cached per name.
type Filter struct {
	root    string
	include map[string]struct{}
	exclude []string

	decisions sync.Map // name -> bool
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithRoot restricts recording to names under the given package prefix.
// Both "a/b/c" and "a.b.c" spellings are accepted.
func WithRoot(root string) FilterOption {
	return func(f *Filter) {
		f.root = strings.ReplaceAll(strings.TrimSpace(root), "/", ".")
	}
}

// WithInclude sets the explicit inclusion set of short type names,
// e.g. "Heap" for "app.gc.Heap.alloc()".
func WithInclude(types ...string) FilterOption {
	return func(f *Filter) {
		for _, t := range types {
			if t = strings.TrimSpace(t); t != "" {
				f.include[t] = struct{}{}
			}
		}
	}
}

// WithExclude replaces the excluded name prefixes.
func WithExclude(prefixes ...string) FilterOption {
	return func(f *Filter) {
		f.exclude = append([]string(nil), prefixes...)
	}
}

// NewFilter creates a filter; without options it records everything
// outside DefaultExclude.
func NewFilter(opts ...FilterOption) *Filter {
	f := &Filter{
		include: make(map[string]struct{}),
		exclude: append([]string(nil), DefaultExclude...),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ParseAgentArgs builds a filter from the "ROOT_PACKAGE[;Type1[;Type2...]]"
// form accepted on the command line.
func ParseAgentArgs(args string) *Filter {
	parts := strings.Split(args, ";")
	return NewFilter(WithRoot(parts[0]), WithInclude(parts[1:]...))
}

// Allows reports whether section name is recorded.
func (f *Filter) Allows(name string) bool {
	if v, ok := f.decisions.Load(name); ok {
		return v.(bool)
	}
	allowed := f.decide(name)
	f.decisions.Store(name, allowed)
	return allowed
}

func (f *Filter) decide(name string) bool {
	if !strings.HasPrefix(name, f.root) {
		return false
	}
	if strings.HasPrefix(name, selfPrefix) {
		return false
	}
	if _, ok := f.include[ShortTypeName(name)]; ok {
		return true
	}
	if len(f.include) > 0 {
		return false
	}
	for _, prefix := range f.exclude {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

// ShortTypeName returns the last segment of the owning type of name:
// "a.b.Foo.m1()" -> "Foo".
func ShortTypeName(name string) string {
	class := report.ClassName(name)
	return class[strings.LastIndexByte(class, '.')+1:]
}
