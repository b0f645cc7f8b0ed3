package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicateKey      = errors.New("duplicate key violation")
	ErrDuplicateJob      = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrEmptyResult       = errors.New("completed job requires non-empty result text")
)

// Store is the data access interface. All database operations go through here.
//
// Job operations are scoped by owner: a job that exists under another owner is
// reported as ErrNotFound. Status changes are conditional on the current state,
// so two workers racing on the same job cannot both win.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID string) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id, ownerID string) (*models.Job, error)
	ListJobs(ctx context.Context, ownerID string, limit int) ([]*models.Job, error)
	// ListJobsByStatus scans across owners for jobs last touched before updatedBefore.
	// Only the sweeper calls it; every write that follows is owner-scoped again.
	ListJobsByStatus(ctx context.Context, status models.JobStatus, updatedBefore time.Time, limit int) ([]*models.Job, error)

	// ClaimJob moves a pending job to processing and resets per-run fields.
	ClaimJob(ctx context.Context, id, ownerID string) error
	// CompleteJob moves a processing job to completed. Repeating the call with
	// the same result on a completed job is a no-op.
	CompleteJob(ctx context.Context, id, ownerID, resultText string) error
	// FailJob moves a processing job to failed and appends failure to the
	// failure log in one transaction. A job already failed is left untouched.
	FailJob(ctx context.Context, id, ownerID string, failure *models.FailureLog, opts ...JobUpdateOption) error
	// RetryJob moves a failed job back to pending. No other field changes;
	// ClaimJob resets per-run fields on the next pickup.
	RetryJob(ctx context.Context, id, ownerID string) error
	UpdateBatchProgress(ctx context.Context, id, ownerID string, progress models.BatchProgress, opts ...JobUpdateOption) error
	SetArtifactURL(ctx context.Context, id, ownerID, url string) error
	RequestCancel(ctx context.Context, id, ownerID string) error

	LatestFailure(ctx context.Context, jobID, ownerID string) (*models.FailureLog, error)
	ListFailures(ctx context.Context, filter FailureFilter) ([]*models.FailureLog, int, error)
}

type FailureFilter struct {
	OwnerID string
	Kind    models.FailureKind
	Page    int
	Limit   int
}

type jobUpdateParams struct {
	BatchRef      *string
	UpdatedBefore *time.Time
}

type JobUpdateOption func(*jobUpdateParams)

// WithBatchRef records the remote batch identifier alongside a progress write.
func WithBatchRef(ref string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.BatchRef = &ref
	}
}

// IfUpdatedBefore makes the write apply only when the job has not been touched
// since cutoff. The sweeper uses it so a live worker's heartbeat wins.
func IfUpdatedBefore(cutoff time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.UpdatedBefore = &cutoff
	}
}

func applyOptions(opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}

func transitionError(from, to models.JobStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
