package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/beyanname/internal/api/response"
	"github.com/kiranshivaraju/beyanname/internal/artifact"
	"github.com/kiranshivaraju/beyanname/internal/pipeline"
	"github.com/kiranshivaraju/beyanname/internal/render"
	"github.com/kiranshivaraju/beyanname/internal/store"
)

// writeError maps domain errors to HTTP responses. Anything unrecognized is
// logged and reported as a 500 without internal detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, store.ErrDuplicateJob):
		response.Error(w, http.StatusConflict, "DUPLICATE_JOB", "A job with this id already exists", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, artifact.ErrNotFound):
		response.Error(w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "Artifact has not been rendered", nil)
	case errors.Is(err, pipeline.ErrArtifactsDisabled):
		response.Error(w, http.StatusNotImplemented, "ARTIFACTS_DISABLED", "Artifact rendering is disabled", nil)
	case errors.Is(err, render.ErrRender):
		response.Error(w, http.StatusUnprocessableEntity, "RENDER_FAILED", err.Error(), nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
