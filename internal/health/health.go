// Package health serves the liveness and readiness probes for an assessment
// station.
//
// Liveness (/healthz) answers 200 whenever the process can serve HTTP at all.
// Readiness (/readyz) additionally probes the station's dependencies, such as
// the score database and the speech synthesis backend, and answers 503 until
// every probe passes. Orchestration keeps traffic away from a station that is
// up but not yet able to run an assessment.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each individual readiness probe. A hung dependency must
// not hold the whole endpoint open past this.
const probeTimeout = 5 * time.Second

// Checker probes one dependency of the station. Check returns nil when the
// dependency can serve an assessment right now.
type Checker struct {
	// Name labels the probe in the readiness response ("database", "tts").
	Name string

	// Check must honour context cancellation; it is called with a deadline.
	Check func(ctx context.Context) error
}

// probeResult is the per-dependency entry in the readiness response.
type probeResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// report is the response body for both probe endpoints.
type report struct {
	Status string                 `json:"status"`
	Probes map[string]probeResult `json:"probes,omitempty"`
}

// Handler answers the /healthz and /readyz routes. The probe set is fixed at
// construction; the handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over the given dependency probes.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz reports liveness. Reaching this handler is the proof.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe concurrently and reports 200 only when all pass.
// Each probe gets its own [probeTimeout] deadline derived from the request
// context, so one slow dependency cannot starve the others of time.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		probes = make(map[string]probeResult, len(h.checkers))
		ready  = true
	)

	g, gctx := errgroup.WithContext(r.Context())
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			res := probeResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}

			mu.Lock()
			probes[c.Name] = res
			if err != nil {
				ready = false
			}
			mu.Unlock()
			return nil
		})
	}
	// Probes never return errors through the group; failures land in the report.
	_ = g.Wait()

	rep := report{Status: "ok", Probes: probes}
	status := http.StatusOK
	if !ready {
		rep.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeReport(w, status, rep)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeReport(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
