package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/beyanname/internal/api/middleware"
	"github.com/kiranshivaraju/beyanname/internal/api/response"
	"github.com/kiranshivaraju/beyanname/internal/artifact"
	"github.com/kiranshivaraju/beyanname/internal/pipeline"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

const (
	maxBodyBytes     = 10 << 20
	defaultListLimit = 20
	maxListLimit     = 100
)

// JobService is the part of the scheduler the job routes use.
// *pipeline.Scheduler satisfies it.
type JobService interface {
	Enqueue(ctx context.Context, p pipeline.EnqueueParams) (*models.Job, error)
	Job(ctx context.Context, jobID, ownerID string) (*models.Job, error)
	ListJobs(ctx context.Context, ownerID string, limit int) ([]*models.Job, error)
	Status(ctx context.Context, jobID, ownerID string, withDetail bool) (*pipeline.StatusView, error)
	Retry(ctx context.Context, jobID, ownerID string) error
	Cancel(ctx context.Context, jobID, ownerID string) error
	RenderArtifact(ctx context.Context, jobID, ownerID string) error
	Artifact(ctx context.Context, jobID, ownerID string) (*pipeline.ArtifactLocation, error)
}

// Jobs serves the /jobs routes. Enqueue and retry hand the job straight to
// the dispatcher; if it is full the job stays pending until the next sweep.
type Jobs struct {
	svc        JobService
	dispatcher pipeline.JobDispatcher
}

func NewJobs(svc JobService, dispatcher pipeline.JobDispatcher) *Jobs {
	return &Jobs{svc: svc, dispatcher: dispatcher}
}

type createJobRequest struct {
	JobID        string   `json:"job_id"`
	OwnerID      string   `json:"owner_id"`
	InputRefs    []string `json:"input_refs"`
	InputPayload string   `json:"input_payload"`
}

type createJobResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

// Create handles POST /api/v1/jobs.
func (h *Jobs) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body is too large", nil)
			return
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if req.OwnerID != "" && req.OwnerID != ownerID {
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "owner_id does not match the authenticated owner", nil)
		return
	}

	job, err := h.svc.Enqueue(r.Context(), pipeline.EnqueueParams{
		JobID:        req.JobID,
		OwnerID:      ownerID,
		InputRefs:    req.InputRefs,
		InputPayload: req.InputPayload,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.dispatch(job.ID, ownerID)

	response.Accepted(w, createJobResponse{JobID: job.ID, Status: job.Status})
}

// List handles GET /api/v1/jobs.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return
	}
	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100", nil)
		return
	}

	jobs, err := h.svc.ListJobs(r.Context(), ownerID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	response.JSON(w, jobs)
}

// Get handles GET /api/v1/jobs/{jobID}, which includes the result text.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.targetOwner(w, r)
	if !ok {
		return
	}
	job, err := h.svc.Job(r.Context(), chi.URLParam(r, "jobID"), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, job)
}

// Status handles GET /api/v1/jobs/{jobID}/status. A job owned by someone
// else is reported exactly like a missing one.
func (h *Jobs) Status(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.targetOwner(w, r)
	if !ok {
		return
	}
	withDetail := r.URL.Query().Get("detail") == "true"

	view, err := h.svc.Status(r.Context(), chi.URLParam(r, "jobID"), ownerID, withDetail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, view)
}

// Retry handles POST /api/v1/jobs/{jobID}/retry.
func (h *Jobs) Retry(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return
	}
	jobID := chi.URLParam(r, "jobID")

	if err := h.svc.Retry(r.Context(), jobID, ownerID); err != nil {
		writeError(w, r, err)
		return
	}
	h.dispatch(jobID, ownerID)

	response.JSON(w, struct{}{})
}

// Cancel handles POST /api/v1/jobs/{jobID}/cancel. The worker notices the
// request at its next check, so the response only acknowledges it.
func (h *Jobs) Cancel(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return
	}
	jobID := chi.URLParam(r, "jobID")

	if err := h.svc.Cancel(r.Context(), jobID, ownerID); err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, map[string]any{"job_id": jobID, "cancel_requested": true})
}

// Artifact handles GET /api/v1/jobs/{jobID}/artifact: a redirect when the
// store can hand out URLs, the PDF itself otherwise.
func (h *Jobs) Artifact(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return
	}
	jobID := chi.URLParam(r, "jobID")

	loc, err := h.svc.Artifact(r.Context(), jobID, ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loc.URL != "" {
		http.Redirect(w, r, loc.URL, http.StatusFound)
		return
	}
	defer loc.Body.Close()

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, loc.Body); err != nil {
		slog.Warn("streaming artifact", "job_id", jobID, "error", err)
	}
}

// RenderArtifact handles POST /api/v1/jobs/{jobID}/artifact. Rendering is
// synchronous so render errors reach the caller.
func (h *Jobs) RenderArtifact(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return
	}
	jobID := chi.URLParam(r, "jobID")

	if err := h.svc.RenderArtifact(r.Context(), jobID, ownerID); err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, map[string]any{"job_id": jobID, "artifact_ready": true})
}

func (h *Jobs) dispatch(jobID, ownerID string) {
	if h.dispatcher == nil {
		return
	}
	if !h.dispatcher.Dispatch(jobID, ownerID) {
		slog.Info("job left for sweep", "job_id", jobID)
	}
}

// targetOwner resolves whose job a read refers to. An owner_id query
// parameter naming someone else is honoured only for admins; anyone else gets
// the same 404 a missing job would.
func (h *Jobs) targetOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return "", false
	}
	requested := r.URL.Query().Get("owner_id")
	if requested == "" || requested == ownerID {
		return ownerID, true
	}
	if mw.HasScope(r, mw.ScopeAdmin) {
		return requested, true
	}
	response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	return "", false
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
