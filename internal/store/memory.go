package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// MemoryStore is an in-process Store. It follows the same conditional-update
// rules as PostgresStore and is used for local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*models.Job
	failures []*models.FailureLog
	keys     map[uuid.UUID]*models.APIKey
	nextID   int64
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
		keys: make(map[uuid.UUID]*models.APIKey),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Tests use it to age rows.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[id]; ok {
		now := s.now()
		k.LastUsedAt = &now
		k.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, ownerID string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.OwnerID == ownerID && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.OwnerID != ownerID || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := s.now()
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

// --- Jobs ---

func copyJob(j *models.Job) *models.Job {
	cp := *j
	cp.InputRefs = append([]string(nil), j.InputRefs...)
	if j.BatchProgress != nil {
		bp := *j.BatchProgress
		cp.BatchProgress = &bp
	}
	if j.BatchRef != nil {
		ref := *j.BatchRef
		cp.BatchRef = &ref
	}
	if j.ResultText != nil {
		text := *j.ResultText
		cp.ResultText = &text
	}
	if j.ArtifactURL != nil {
		url := *j.ArtifactURL
		cp.ArtifactURL = &url
	}
	return &cp
}

// lookup returns the owner's job or ErrNotFound. Callers hold s.mu.
func (s *MemoryStore) lookup(id, ownerID string) (*models.Job, error) {
	j, ok := s.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return j, nil
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateJob
	}
	cp := copyJob(job)
	if cp.InputRefs == nil {
		cp.InputRefs = []string{}
	}
	s.jobs[job.ID] = cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id, ownerID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(id, ownerID)
	if err != nil {
		return nil, err
	}
	return copyJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, ownerID string, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, limit = normalizePage(1, limit)
	var jobs []*models.Job
	for _, j := range s.jobs {
		if j.OwnerID == ownerID {
			jobs = append(jobs, copyJob(j))
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) ListJobsByStatus(_ context.Context, status models.JobStatus, updatedBefore time.Time, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var jobs []*models.Job
	for _, j := range s.jobs {
		if j.Status == status && j.UpdatedAt.Before(updatedBefore) {
			jobs = append(jobs, copyJob(j))
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].UpdatedAt.Before(jobs[k].UpdatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) ClaimJob(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(id, ownerID)
	if err != nil {
		return err
	}
	if j.Status != models.JobStatusPending {
		return transitionError(j.Status, models.JobStatusProcessing)
	}
	j.Status = models.JobStatusProcessing
	j.CancelRequested = false
	j.BatchProgress = nil
	j.BatchRef = nil
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) CompleteJob(_ context.Context, id, ownerID, resultText string) error {
	if strings.TrimSpace(resultText) == "" {
		return ErrEmptyResult
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(id, ownerID)
	if err != nil {
		return err
	}
	switch {
	case j.Status == models.JobStatusProcessing:
	case j.Status == models.JobStatusCompleted && j.ResultText != nil && *j.ResultText == resultText:
		return nil
	default:
		return transitionError(j.Status, models.JobStatusCompleted)
	}
	j.Status = models.JobStatusCompleted
	j.ResultText = &resultText
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) FailJob(_ context.Context, id, ownerID string, failure *models.FailureLog, opts ...JobUpdateOption) error {
	params := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(id, ownerID)
	if err != nil {
		return err
	}
	if j.Status == models.JobStatusFailed {
		return nil
	}
	if j.Status != models.JobStatusProcessing {
		return transitionError(j.Status, models.JobStatusFailed)
	}
	if params.UpdatedBefore != nil && !j.UpdatedAt.Before(*params.UpdatedBefore) {
		return transitionError(j.Status, models.JobStatusFailed)
	}

	now := s.now()
	j.Status = models.JobStatusFailed
	j.UpdatedAt = now

	s.nextID++
	failure.ID = s.nextID
	failure.JobID = id
	failure.OwnerID = ownerID
	failure.CreatedAt = now
	entry := *failure
	s.failures = append(s.failures, &entry)
	return nil
}

func (s *MemoryStore) RetryJob(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(id, ownerID)
	if err != nil {
		return err
	}
	if j.Status != models.JobStatusFailed {
		return transitionError(j.Status, models.JobStatusPending)
	}
	j.Status = models.JobStatusPending
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdateBatchProgress(_ context.Context, id, ownerID string, progress models.BatchProgress, opts ...JobUpdateOption) error {
	params := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(id, ownerID)
	if err != nil {
		return err
	}
	if j.Status != models.JobStatusProcessing {
		return transitionError(j.Status, j.Status)
	}
	bp := progress
	j.BatchProgress = &bp
	if params.BatchRef != nil {
		ref := *params.BatchRef
		j.BatchRef = &ref
	}
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetArtifactURL(_ context.Context, id, ownerID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(id, ownerID)
	if err != nil {
		return err
	}
	if j.Status != models.JobStatusCompleted {
		return transitionError(j.Status, j.Status)
	}
	j.ArtifactURL = &url
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) RequestCancel(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.lookup(id, ownerID)
	if err != nil {
		return err
	}
	if j.Status != models.JobStatusProcessing {
		return transitionError(j.Status, models.JobStatusFailed)
	}
	j.CancelRequested = true
	j.UpdatedAt = s.now()
	return nil
}

// --- Failure log ---

func (s *MemoryStore) LatestFailure(_ context.Context, jobID, ownerID string) (*models.FailureLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.failures) - 1; i >= 0; i-- {
		f := s.failures[i]
		if f.JobID == jobID && f.OwnerID == ownerID {
			cp := *f
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListFailures(_ context.Context, filter FailureFilter) ([]*models.FailureLog, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.FailureLog
	for i := len(s.failures) - 1; i >= 0; i-- {
		f := s.failures[i]
		if filter.OwnerID != "" && f.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Kind != "" && f.Kind != filter.Kind {
			continue
		}
		cp := *f
		matched = append(matched, &cp)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []*models.FailureLog{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}
