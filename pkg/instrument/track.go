package instrument

import (
	"fmt"
	"runtime"
	"strings"
)

// Track enters section name and returns the matching exit:
//
//	defer p.Track("store.Flush()")()
func (p *Profiler) Track(name string) func() {
	p.EnterSection(name)
	return func() {
		p.ExitSection(name)
	}
}

// TrackFunc is Track named after the calling function.
//
//	func (w *Worker) Run() {
//		defer p.TrackFunc()()
//		...
//	}
func (p *Profiler) TrackFunc() func() {
	return p.Track(CallerName(1))
}

// Wrap runs fn inside section name. The section is exited even if fn
// panics.
func (p *Profiler) Wrap(name string, fn func()) {
	defer p.Track(name)()
	fn()
}

// RunEntryPoint runs fn as section name and publishes the report once it
// returns, the way a program's main would be instrumented.
func (p *Profiler) RunEntryPoint(name string, fn func() error) error {
	err := func() error {
		defer p.Track(name)()
		return fn()
	}()
	if pubErr := p.Publish(name); pubErr != nil {
		if err != nil {
			return fmt.Errorf("%w (publishing report: %v)", err, pubErr)
		}
		return fmt.Errorf("failed to publish report for %s: %w", name, pubErr)
	}
	return err
}

// CallerName returns the section name of the function skip frames above
// the caller, e.g. "github.com.acme.app.Worker.Run()".
func CallerName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown()"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown()"
	}
	return SectionName(fn.Name())
}

// SectionName turns a Go symbol name into a dotted section name:
//
//	"github.com/acme/app.(*Worker).Run" -> "github.com.acme.app.Worker.Run()"
func SectionName(symbol string) string {
	r := strings.NewReplacer("(*", "", ")", "", "/", ".")
	return r.Replace(symbol) + "()"
}
