package api

import (
	"net/http"

	"github.com/phrazzld/snippet-runner/internal/api/shared"
	"github.com/phrazzld/snippet-runner/internal/task"
)

// StatusSource reports the live status of the current run, if any.
// *task.Pipeline satisfies it.
type StatusSource interface {
	Status() (task.Status, bool)
}

// StatusHandler serves pipeline status requests.
type StatusHandler struct {
	source StatusSource
}

// NewStatusHandler creates a StatusHandler reading from source.
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source}
}

// Health handles GET /health.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Status handles GET /status. It answers 503 when no run is active.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, ok := h.source.Status()
	if !ok {
		shared.RespondWithError(w, r, http.StatusServiceUnavailable, "no active run")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// Counts handles GET /status/counts, the outcome counts of the current run.
func (h *StatusHandler) Counts(w http.ResponseWriter, r *http.Request) {
	status, ok := h.source.Status()
	if !ok {
		shared.RespondWithError(w, r, http.StatusServiceUnavailable, "no active run")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, status.Counts)
}
