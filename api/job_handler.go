package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/queuesched/backend/distributed"
)

// StatusResponse is the body of GET /v1/jobs/{jobID}/status.
type StatusResponse struct {
	JobID  string             `json:"job_id"`
	Status distributed.Status `json:"status"`
}

// handleGetJob returns the full row.
// GET /v1/jobs/{jobID}
func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := a.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	respondOK(w, r, j)
}

// handleGetJobStatus returns the status only.
// GET /v1/jobs/{jobID}/status
func (a *API) handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	st, err := a.store.GetJobStatus(r.Context(), jobID)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	respondOK(w, r, StatusResponse{JobID: jobID, Status: st})
}

// handleCancelJob removes a job nobody is running.
// DELETE /v1/jobs/{jobID}
func (a *API) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	st, err := a.store.GetJobStatus(ctx, jobID)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	if st == distributed.StatusProcessing {
		respondError(w, r, http.StatusConflict, CodeConflict, "job is being processed")
		return
	}
	if err := a.store.DeleteJob(ctx, "", jobID); err != nil {
		a.storeError(w, r, err)
		return
	}
	// The row may have been claimed between the two calls.
	if _, err := a.store.GetJobStatus(ctx, jobID); err == nil {
		respondError(w, r, http.StatusConflict, CodeConflict, "job is being processed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRetryJob reschedules an errored job.
// POST /v1/jobs/{jobID}/retry
func (a *API) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	if err := a.store.RetryErroredJob(ctx, jobID); err != nil {
		a.storeError(w, r, err)
		return
	}
	respondOK(w, r, StatusResponse{JobID: jobID, Status: distributed.StatusScheduled})
}

func (a *API) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, distributed.ErrJobNotFound) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	a.logger.Error("store request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	respondError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
}
