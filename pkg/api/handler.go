package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/psantana5/secprof/pkg/instrument"
	"github.com/psantana5/secprof/pkg/logging"
	"github.com/psantana5/secprof/pkg/report"
)

// Handler serves profiling reports over HTTP.
type Handler struct {
	profiler  *instrument.Profiler
	gatherer  prometheus.Gatherer
	logger    *logging.Logger
	startTime time.Time
}

// NewHandler creates a handler for p. Metrics are served from gatherer.
func NewHandler(p *instrument.Profiler, gatherer prometheus.Gatherer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		profiler:  p,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/report", h.GetReport).Methods("GET")
	r.HandleFunc("/sections", h.ListSections).Methods("GET")
	r.HandleFunc("/reset", h.Reset).Methods("POST")
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// GetReport renders the current report.
// Query parameters: merge=true|false, format=text|table|json|yaml,
// threshold=<count>.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	opts := h.profiler.Options()
	q := r.URL.Query()

	if v := q.Get("merge"); v != "" {
		merge, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid merge parameter: "+err.Error(), http.StatusBadRequest)
			return
		}
		opts.Merge = merge
	}
	if v := q.Get("threshold"); v != "" {
		threshold, err := strconv.ParseInt(v, 10, 64)
		if err != nil || threshold <= 0 {
			http.Error(w, "invalid threshold parameter", http.StatusBadRequest)
			return
		}
		opts.PerExecThreshold = threshold
	}
	format, err := instrument.ParseFormat(q.Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rep := report.Build(h.profiler.Registry().Snapshot(), opts)
	switch format {
	case instrument.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case instrument.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	if err := instrument.Render(w, rep, format); err != nil {
		h.logger.Error("Failed to render report", map[string]interface{}{"error": err.Error()})
	}
}

// ListSections returns the raw registry snapshot.
func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	stats := h.profiler.Registry().Snapshot()
	h.writeJSON(w, map[string]interface{}{
		"sections": stats,
		"count":    len(stats),
	})
}

// Reset clears all collected timings.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.profiler.Clear()
	h.logger.Info("Profiling data cleared", map[string]interface{}{"remote": r.RemoteAddr})
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness plus a few host facts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":         "healthy",
		"sections":       h.profiler.Registry().Len(),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}
	if n, err := cpu.Counts(true); err == nil {
		resp["cpu_threads"] = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp["ram_total_bytes"] = vm.Total
		resp["ram_used_percent"] = vm.UsedPercent
	}

	h.writeJSON(w, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}
