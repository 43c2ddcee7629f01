// Package api provides the HTTP admin API for a latch engine: job
// submission and inspection, dead letter management, and statistics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/latchq/latch"
	"github.com/latchq/latch/engine"
)

// API wires HTTP handlers to an engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers all latch API routes on the given mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Jobs.
	mux.HandleFunc("POST /v1/jobs", a.submitJob)
	mux.HandleFunc("GET /v1/jobs", a.listJobs)
	mux.HandleFunc("GET /v1/jobs/counts", a.jobCounts)
	mux.HandleFunc("GET /v1/jobs/{jobID}", a.getJob)
	mux.HandleFunc("POST /v1/jobs/{jobID}/cancel", a.cancelJob)

	// Dead letter queue.
	mux.HandleFunc("GET /v1/dlq", a.listDLQ)
	mux.HandleFunc("GET /v1/dlq/count", a.dlqCount)
	mux.HandleFunc("GET /v1/dlq/{entryID}", a.getDLQ)
	mux.HandleFunc("POST /v1/dlq/{entryID}/replay", a.replayDLQ)
	mux.HandleFunc("POST /v1/dlq/purge", a.purgeDLQ)

	// Stats and health.
	mux.HandleFunc("GET /v1/stats", a.stats)
	mux.HandleFunc("GET /v1/healthz", a.healthz)
}

// errorResponse is the JSON body for failed requests.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("write response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}

// mapStoreError picks the HTTP status for a store error.
func (a *API) mapStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, latch.ErrJobNotFound), errors.Is(err, latch.ErrDLQNotFound):
		a.writeError(w, http.StatusNotFound, err.Error())
	default:
		a.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
