package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// --- API Keys ---

const apiKeyColumns = `id, owner_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL`, id, ownerID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, owner_id, input_refs, input_payload, status, batch_completed_parts, batch_total_parts,
	batch_ref, result_text, artifact_url, cancel_requested, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j         models.Job
		status    string
		completed *int32
		total     *int32
	)
	if err := row.Scan(&j.ID, &j.OwnerID, &j.InputRefs, &j.InputPayload, &status, &completed, &total,
		&j.BatchRef, &j.ResultText, &j.ArtifactURL, &j.CancelRequested, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if total != nil {
		bp := &models.BatchProgress{TotalParts: int(*total)}
		if completed != nil {
			bp.CompletedParts = int(*completed)
		}
		j.BatchProgress = bp
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	refs := job.InputRefs
	if refs == nil {
		refs = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, owner_id, input_refs, input_payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.OwnerID, refs, job.InputPayload, string(job.Status), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id, ownerID string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, ownerID string, limit int) ([]*models.Job, error) {
	_, limit = normalizePage(1, limit)
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, status models.JobStatus, updatedBefore time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		string(status), updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return scanJobs(rows)
}

// currentState reads the row a conditional update missed, to tell a foreign or
// missing job apart from one in the wrong state.
func currentState(ctx context.Context, q querier, id, ownerID string) (models.JobStatus, *string, error) {
	var (
		status string
		result *string
	)
	err := q.QueryRow(ctx,
		`SELECT status, result_text FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID,
	).Scan(&status, &result)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("get job status: %w", err)
	}
	return models.JobStatus(status), result, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'processing', cancel_requested = FALSE, batch_completed_parts = NULL,
		   batch_total_parts = NULL, batch_ref = NULL, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND status = 'pending'`, id, ownerID)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, _, err := currentState(ctx, s.pool, id, ownerID)
	if err != nil {
		return err
	}
	return transitionError(current, models.JobStatusProcessing)
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id, ownerID, resultText string) error {
	if strings.TrimSpace(resultText) == "" {
		return ErrEmptyResult
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', result_text = $3, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND status = 'processing'`, id, ownerID, resultText)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, result, err := currentState(ctx, s.pool, id, ownerID)
	if err != nil {
		return err
	}
	if current == models.JobStatusCompleted && result != nil && *result == resultText {
		return nil
	}
	return transitionError(current, models.JobStatusCompleted)
}

func (s *PostgresStore) FailJob(ctx context.Context, id, ownerID string, failure *models.FailureLog, opts ...JobUpdateOption) error {
	params := applyOptions(opts)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail job: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `UPDATE jobs SET status = 'failed', updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND status = 'processing'`
	args := []any{id, ownerID}
	if params.UpdatedBefore != nil {
		query += ` AND updated_at < $3`
		args = append(args, *params.UpdatedBefore)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, _, err := currentState(ctx, tx, id, ownerID)
		if err != nil {
			return err
		}
		if current == models.JobStatusFailed {
			return nil
		}
		return transitionError(current, models.JobStatusFailed)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO job_failures (job_id, owner_id, kind, error_message, error_detail)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		id, ownerID, string(failure.Kind), failure.ErrorMessage, failure.ErrorDetail,
	).Scan(&failure.ID, &failure.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job failure: %w", err)
	}
	failure.JobID = id
	failure.OwnerID = ownerID

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fail job: %w", err)
	}
	return nil
}

func (s *PostgresStore) RetryJob(ctx context.Context, id, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND status = 'failed'`, id, ownerID)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, _, err := currentState(ctx, s.pool, id, ownerID)
	if err != nil {
		return err
	}
	return transitionError(current, models.JobStatusPending)
}

func (s *PostgresStore) UpdateBatchProgress(ctx context.Context, id, ownerID string, progress models.BatchProgress, opts ...JobUpdateOption) error {
	params := applyOptions(opts)

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET batch_completed_parts = $3, batch_total_parts = $4,
		   batch_ref = COALESCE($5, batch_ref), updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND status = 'processing'`,
		id, ownerID, progress.CompletedParts, progress.TotalParts, params.BatchRef)
	if err != nil {
		return fmt.Errorf("update batch progress: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, _, err := currentState(ctx, s.pool, id, ownerID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: progress update on %s job", ErrInvalidTransition, current)
}

func (s *PostgresStore) SetArtifactURL(ctx context.Context, id, ownerID, url string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET artifact_url = $3, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND status = 'completed'`, id, ownerID, url)
	if err != nil {
		return fmt.Errorf("set artifact url: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, _, err := currentState(ctx, s.pool, id, ownerID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: artifact on %s job", ErrInvalidTransition, current)
}

func (s *PostgresStore) RequestCancel(ctx context.Context, id, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET cancel_requested = TRUE, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND status = 'processing'`, id, ownerID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, _, err := currentState(ctx, s.pool, id, ownerID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cancel on %s job", ErrInvalidTransition, current)
}

// --- Failure log ---

const failureColumns = `id, job_id, owner_id, kind, error_message, error_detail, created_at`

func scanFailure(row pgx.Row) (*models.FailureLog, error) {
	var (
		f    models.FailureLog
		kind string
	)
	if err := row.Scan(&f.ID, &f.JobID, &f.OwnerID, &kind, &f.ErrorMessage, &f.ErrorDetail, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Kind = models.FailureKind(kind)
	return &f, nil
}

func (s *PostgresStore) LatestFailure(ctx context.Context, jobID, ownerID string) (*models.FailureLog, error) {
	f, err := scanFailure(s.pool.QueryRow(ctx,
		`SELECT `+failureColumns+` FROM job_failures
		 WHERE job_id = $1 AND owner_id = $2 ORDER BY id DESC LIMIT 1`, jobID, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest failure: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) ListFailures(ctx context.Context, filter FailureFilter) ([]*models.FailureLog, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argIdx))
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, string(filter.Kind))
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM job_failures WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count job failures: %w", err)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT `+failureColumns+` FROM job_failures WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list job failures: %w", err)
	}
	defer rows.Close()

	var failures []*models.FailureLog
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, total, rows.Err()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
