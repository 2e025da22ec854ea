package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/psantana5/secprof/pkg/instrument"
)

// SectionMiddleware times every request as a section named after its
// route, e.g. "http.GET.report()".
func SectionMiddleware(p *instrument.Profiler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer p.Track(routeSection(r))()
			next.ServeHTTP(w, r)
		})
	}
}

func routeSection(r *http.Request) string {
	path := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			path = tpl
		}
	}
	path = strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
	if path == "" {
		path = "root"
	}
	return "http." + r.Method + "." + path + "()"
}
