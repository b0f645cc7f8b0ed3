package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kiranshivaraju/beyanname/internal/artifact"
	"github.com/kiranshivaraju/beyanname/internal/render"
	"github.com/kiranshivaraju/beyanname/internal/store"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// ArtifactLocation is where a rendered report can be fetched: either a
// direct URL to redirect to, or a body to stream.
type ArtifactLocation struct {
	URL  string
	Body io.ReadCloser
}

func (s *Scheduler) artifactsEnabled() bool {
	return s.renderer != nil && s.artifacts != nil
}

// renderAfterCompletion is best effort: the job is already completed and
// stays completed whatever happens here.
func (s *Scheduler) renderAfterCompletion(ctx context.Context, job *models.Job, result string) {
	if !s.artifactsEnabled() {
		return
	}
	if err := s.renderAndStore(ctx, job, result); err != nil {
		slog.Warn("artifact render failed", "job_id", job.ID, "owner_id", job.OwnerID, "error", err)
	}
}

func (s *Scheduler) renderAndStore(ctx context.Context, job *models.Job, result string) error {
	pdf, err := s.renderer.Render(render.Document{
		Title: "Beyanname Analiz Raporu - " + job.ID,
		Body:  result,
	})
	if err != nil {
		return err
	}

	key := artifact.Key(job.OwnerID, job.ID)
	if err := s.artifacts.Put(ctx, key, pdf); err != nil {
		return fmt.Errorf("storing artifact: %w", err)
	}
	if err := s.store.SetArtifactURL(ctx, job.ID, job.OwnerID, key); err != nil {
		return fmt.Errorf("linking artifact: %w", err)
	}
	s.invalidate(ctx, job.OwnerID, job.ID)
	slog.Info("artifact rendered", "job_id", job.ID, "key", key, "bytes", len(pdf))
	return nil
}

// RenderArtifact renders a completed job's result again, independently of the
// analysis run. Rendering errors are returned to the caller here.
func (s *Scheduler) RenderArtifact(ctx context.Context, jobID, ownerID string) error {
	if !s.artifactsEnabled() {
		return ErrArtifactsDisabled
	}
	job, err := s.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusCompleted || job.ResultText == nil {
		return fmt.Errorf("%w: job is %s, not completed", store.ErrInvalidTransition, job.Status)
	}
	return s.renderAndStore(ctx, job, *job.ResultText)
}

// Artifact locates a job's rendered report. It returns artifact.ErrNotFound
// when nothing has been rendered yet.
func (s *Scheduler) Artifact(ctx context.Context, jobID, ownerID string) (*ArtifactLocation, error) {
	job, err := s.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.ArtifactURL == nil || s.artifacts == nil {
		return nil, artifact.ErrNotFound
	}
	key := *job.ArtifactURL

	url, err := s.artifacts.PresignURL(ctx, key, s.opts.ArtifactURLExpiry)
	if err != nil {
		return nil, err
	}
	if url != "" {
		return &ArtifactLocation{URL: url}, nil
	}

	body, err := s.artifacts.Open(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	return &ArtifactLocation{Body: body}, nil
}
