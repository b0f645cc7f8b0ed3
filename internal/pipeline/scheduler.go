// Package pipeline runs analysis jobs through their lifecycle:
// pending -> processing -> completed | failed, with failed -> pending only on
// an explicit retry. All coordination goes through the job store; the
// scheduler keeps no job state beyond the job it is processing.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/beyanname/internal/artifact"
	"github.com/kiranshivaraju/beyanname/internal/cache"
	"github.com/kiranshivaraju/beyanname/internal/config"
	"github.com/kiranshivaraju/beyanname/internal/render"
	"github.com/kiranshivaraju/beyanname/internal/store"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrArtifactsDisabled = errors.New("artifact rendering is disabled")
)

const (
	maxJobIDLength  = 128
	maxInputRefs    = 500
	maxPayloadBytes = 8 << 20
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// Analyzer is the generation capability the scheduler needs. *ai.Client
// satisfies it.
type Analyzer interface {
	Generate(ctx context.Context, req models.GenerateRequest) (string, error)
	SupportsBatch() bool
	SubmitBatch(ctx context.Context, parts []models.BatchPart, params models.GenerateRequest) (string, error)
	PollBatch(ctx context.Context, ref string) (models.BatchResult, error)
	ProviderName() string
}

type Renderer interface {
	Render(doc render.Document) ([]byte, error)
}

// Dependencies holds the collaborators of a Scheduler. Cache, Renderer and
// Artifacts are optional.
type Dependencies struct {
	Store     store.Store
	AI        Analyzer
	Cache     cache.Cache
	Renderer  Renderer
	Artifacts artifact.Store
}

type Options struct {
	ChunkBudget       int
	MaxOutputTokens   int
	Temperature       float64
	SystemPrompt      string
	DispatchMode      string
	MaxParallelParts  int
	BatchDeadline     time.Duration
	BatchPollInterval time.Duration
	StatusCacheTTL    time.Duration
	ArtifactURLExpiry time.Duration
}

func OptionsFromConfig(p config.PipelineConfig, a config.ArtifactsConfig) Options {
	return Options{
		ChunkBudget:       p.ChunkBudget,
		MaxOutputTokens:   p.MaxOutputTokens,
		Temperature:       p.Temperature,
		SystemPrompt:      p.SystemPrompt,
		DispatchMode:      p.DispatchMode,
		MaxParallelParts:  p.MaxParallelParts,
		BatchDeadline:     p.BatchDeadline,
		BatchPollInterval: p.BatchPollInterval,
		StatusCacheTTL:    30 * time.Second,
		ArtifactURLExpiry: a.URLExpiry,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkBudget < 1 {
		o.ChunkBudget = 8000
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 4096
	}
	if o.DispatchMode == "" {
		o.DispatchMode = config.DispatchParallel
	}
	if o.MaxParallelParts < 1 {
		o.MaxParallelParts = 1
	}
	if o.BatchDeadline <= 0 {
		o.BatchDeadline = 30 * time.Minute
	}
	if o.BatchPollInterval <= 0 {
		o.BatchPollInterval = 60 * time.Second
	}
	if o.ArtifactURLExpiry <= 0 {
		o.ArtifactURLExpiry = 15 * time.Minute
	}
	return o
}

// Scheduler owns every status write made on behalf of the pipeline.
type Scheduler struct {
	store     store.Store
	ai        Analyzer
	cache     cache.Cache
	renderer  Renderer
	artifacts artifact.Store
	opts      Options
	now       func() time.Time
}

func NewScheduler(deps Dependencies, opts Options) *Scheduler {
	return &Scheduler{
		store:     deps.Store,
		ai:        deps.AI,
		cache:     deps.Cache,
		renderer:  deps.Renderer,
		artifacts: deps.Artifacts,
		opts:      opts.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type EnqueueParams struct {
	JobID        string
	OwnerID      string
	InputRefs    []string
	InputPayload string
}

// Enqueue validates params and stores a new pending job. It does not start
// processing; callers hand the job to a Dispatcher or leave it for the sweep.
func (s *Scheduler) Enqueue(ctx context.Context, p EnqueueParams) (*models.Job, error) {
	if err := validateEnqueue(&p); err != nil {
		return nil, err
	}

	refs := p.InputRefs
	if refs == nil {
		refs = []string{}
	}
	now := s.now()
	job := &models.Job{
		ID:           p.JobID,
		OwnerID:      p.OwnerID,
		InputRefs:    refs,
		InputPayload: p.InputPayload,
		Status:       models.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	slog.Info("job enqueued", "job_id", job.ID, "owner_id", job.OwnerID, "input_refs", len(refs))
	return job, nil
}

func validateEnqueue(p *EnqueueParams) error {
	p.OwnerID = strings.TrimSpace(p.OwnerID)
	if p.OwnerID == "" {
		return fmt.Errorf("%w: owner_id is required", ErrValidation)
	}
	p.JobID = strings.TrimSpace(p.JobID)
	if p.JobID == "" {
		p.JobID = uuid.NewString()
	}
	if len(p.JobID) > maxJobIDLength || !jobIDPattern.MatchString(p.JobID) {
		return fmt.Errorf("%w: job_id must be 1-%d characters of letters, digits, '.', '_', ':' or '-'", ErrValidation, maxJobIDLength)
	}
	if strings.TrimSpace(p.InputPayload) == "" {
		return fmt.Errorf("%w: input_payload is required", ErrValidation)
	}
	if len(p.InputPayload) > maxPayloadBytes {
		return fmt.Errorf("%w: input_payload exceeds %d bytes", ErrValidation, maxPayloadBytes)
	}
	if len(p.InputRefs) > maxInputRefs {
		return fmt.Errorf("%w: at most %d input_refs allowed", ErrValidation, maxInputRefs)
	}
	for i, ref := range p.InputRefs {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("%w: input_refs[%d] is empty", ErrValidation, i)
		}
	}
	return nil
}

// Retry moves a failed job back to pending. Input fields are untouched so the
// next pickup is a pure re-run.
func (s *Scheduler) Retry(ctx context.Context, jobID, ownerID string) error {
	if err := s.store.RetryJob(ctx, jobID, ownerID); err != nil {
		return err
	}
	s.invalidate(ctx, ownerID, jobID)
	slog.Info("job retried", "job_id", jobID, "owner_id", ownerID)
	return nil
}

// Cancel asks the worker holding a processing job to stop at its next check.
func (s *Scheduler) Cancel(ctx context.Context, jobID, ownerID string) error {
	if err := s.store.RequestCancel(ctx, jobID, ownerID); err != nil {
		return err
	}
	s.invalidate(ctx, ownerID, jobID)
	slog.Info("job cancel requested", "job_id", jobID, "owner_id", ownerID)
	return nil
}

func (s *Scheduler) Job(ctx context.Context, jobID, ownerID string) (*models.Job, error) {
	return s.store.GetJob(ctx, jobID, ownerID)
}

func (s *Scheduler) ListJobs(ctx context.Context, ownerID string, limit int) ([]*models.Job, error) {
	return s.store.ListJobs(ctx, ownerID, limit)
}

// FailureSummary is the user-facing view of a job's latest failure.
type FailureSummary struct {
	Kind      models.FailureKind `json:"kind"`
	Message   string             `json:"message"`
	Detail    string             `json:"detail,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// StatusView is what status polling returns.
type StatusView struct {
	JobID           string                `json:"job_id"`
	Status          models.JobStatus      `json:"status"`
	BatchProgress   *models.BatchProgress `json:"batch_progress,omitempty"`
	Failure         *FailureSummary       `json:"failure,omitempty"`
	ArtifactReady   bool                  `json:"artifact_ready"`
	CancelRequested bool                  `json:"cancel_requested,omitempty"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// Status returns the job's current state. The failure is included only for
// failed jobs, and its raw detail only when withDetail is set.
func (s *Scheduler) Status(ctx context.Context, jobID, ownerID string, withDetail bool) (*StatusView, error) {
	view, ok := s.cachedStatus(ctx, ownerID, jobID)
	if !ok {
		var err error
		view, err = s.loadStatus(ctx, jobID, ownerID)
		if err != nil {
			return nil, err
		}
		s.storeStatus(ctx, ownerID, jobID, view)
	}
	if !withDetail && view.Failure != nil {
		f := *view.Failure
		f.Detail = ""
		view.Failure = &f
	}
	return view, nil
}

func (s *Scheduler) loadStatus(ctx context.Context, jobID, ownerID string) (*StatusView, error) {
	job, err := s.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		JobID:           job.ID,
		Status:          job.Status,
		BatchProgress:   job.BatchProgress,
		ArtifactReady:   job.ArtifactURL != nil,
		CancelRequested: job.CancelRequested,
		UpdatedAt:       job.UpdatedAt,
	}
	if job.Status == models.JobStatusFailed {
		f, err := s.store.LatestFailure(ctx, jobID, ownerID)
		if err != nil {
			return nil, fmt.Errorf("loading latest failure: %w", err)
		}
		view.Failure = &FailureSummary{
			Kind:      f.Kind,
			Message:   f.ErrorMessage,
			Detail:    f.ErrorDetail,
			CreatedAt: f.CreatedAt,
		}
	}
	return view, nil
}

// Cache failures only cost a store read, so they are logged and ignored.
func (s *Scheduler) cachedStatus(ctx context.Context, ownerID, jobID string) (*StatusView, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, found, err := s.cache.GetJobStatus(ctx, ownerID, jobID)
	if err != nil {
		slog.Warn("status cache read failed", "job_id", jobID, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var view StatusView
	if err := json.Unmarshal(raw, &view); err != nil {
		slog.Warn("status cache entry unreadable", "job_id", jobID, "error", err)
		return nil, false
	}
	return &view, true
}

func (s *Scheduler) storeStatus(ctx context.Context, ownerID, jobID string, view *StatusView) {
	if s.cache == nil || s.opts.StatusCacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.SetJobStatus(ctx, ownerID, jobID, raw, s.opts.StatusCacheTTL); err != nil {
		slog.Warn("status cache write failed", "job_id", jobID, "error", err)
		return
	}

	// A write landing between the load and the cache write has already run
	// its invalidation, so the snapshot above may be stale. Re-read and drop
	// it if the row has moved on.
	current, err := s.store.GetJob(ctx, jobID, ownerID)
	if err != nil || !view.describes(current) {
		s.invalidate(ctx, ownerID, jobID)
	}
}

// describes reports whether v still matches job's stored state.
func (v *StatusView) describes(job *models.Job) bool {
	if job.Status != v.Status || !job.UpdatedAt.Equal(v.UpdatedAt) ||
		job.CancelRequested != v.CancelRequested || (job.ArtifactURL != nil) != v.ArtifactReady {
		return false
	}
	switch {
	case job.BatchProgress == nil && v.BatchProgress == nil:
		return true
	case job.BatchProgress == nil || v.BatchProgress == nil:
		return false
	default:
		return *job.BatchProgress == *v.BatchProgress
	}
}

func (s *Scheduler) invalidate(ctx context.Context, ownerID, jobID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateJobStatus(context.WithoutCancel(ctx), ownerID, jobID); err != nil {
		slog.Warn("status cache invalidation failed", "job_id", jobID, "error", err)
	}
}
