// Package health serves the gateway's liveness and readiness probes.
//
// /healthz reports process liveness and uptime; a process that can answer
// HTTP is alive. /readyz runs every registered [Checker] against its
// dependency — the transcript store, for instance — and answers 503 when any
// of them fails, so an orchestrator stops routing new sessions to an
// instance whose backing services are gone. Each check's latency is included
// in the response for probe debugging.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// defaultCheckTimeout bounds a single readiness check.
const defaultCheckTimeout = 5 * time.Second

// Checker probes one dependency. Check must return nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	// Name keys the check's entry in the /readyz response.
	Name string

	Check func(ctx context.Context) error
}

// checkResult is the per-dependency entry in the /readyz response body.
type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// probeResponse is the response body shared by both probe endpoints.
type probeResponse struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. Safe for concurrent use; the checker
// set is fixed at construction.
type Handler struct {
	started  time.Time
	timeout  time.Duration
	checkers []Checker
}

// New creates a [Handler] running the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		started:  time.Now(),
		timeout:  defaultCheckTimeout,
		checkers: append([]Checker(nil), checkers...),
	}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz is the readiness probe. Checks run sequentially, each under its own
// timeout derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := probeResponse{
		Status: "ok",
		Checks: make(map[string]checkResult, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		begin := time.Now()
		err := c.Check(ctx)
		elapsed := time.Since(begin)
		cancel()

		entry := checkResult{Status: "ok", Elapsed: elapsed.Round(time.Millisecond).String()}
		if err != nil {
			entry.Status = "fail"
			entry.Error = err.Error()
			resp.Status = "fail"
			status = http.StatusServiceUnavailable
		}
		resp.Checks[c.Name] = entry
	}

	writeJSON(w, status, resp)
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
