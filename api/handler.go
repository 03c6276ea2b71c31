// Package api exposes the scheduler over HTTP: trigger submission, run
// inspection, metrics, and health.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/sync/semaphore"

	"github.com/GoCodeAlone/conveyor/metrics"
	"github.com/GoCodeAlone/conveyor/scheduler"
	"github.com/GoCodeAlone/conveyor/trigger"
)

// Handler provides the HTTP endpoints for the pipeline scheduler.
type Handler struct {
	sched   *scheduler.Scheduler
	metrics *metrics.Collector
	sem     *semaphore.Weighted
}

// NewHandler creates a handler that admits at most maxConcurrent runs at a
// time. Metrics may be nil.
func NewHandler(sched *scheduler.Scheduler, collector *metrics.Collector, maxConcurrent int64) *Handler {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Handler{
		sched:   sched,
		metrics: collector,
		sem:     semaphore.NewWeighted(maxConcurrent),
	}
}

// RegisterRoutes registers the API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/triggers", h.submitTrigger)
	mux.HandleFunc("GET /api/runs", h.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", h.getRun)
	mux.HandleFunc("GET /api/pipeline", h.getPipeline)
	mux.HandleFunc("GET /healthz", h.healthz)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

// submitTrigger accepts a trigger event, starts a run in the background, and
// returns the run record. A full scheduler answers 429; invalid events 400.
func (h *Handler) submitTrigger(w http.ResponseWriter, r *http.Request) {
	var ev trigger.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	if !h.sem.TryAcquire(1) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "run capacity exhausted"})
		return
	}

	run, err := h.sched.Start(ev, func() { h.sem.Release(1) })
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, trigger.ErrInvalidEvent):
			status = http.StatusBadRequest
		case errors.Is(err, scheduler.ErrAmbiguousGroup):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, run)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.sched.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": runs,
		"total": len(runs),
	})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok := h.sched.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) getPipeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Pipeline())
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
