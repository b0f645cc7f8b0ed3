package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kiranshivaraju/beyanname/internal/cache"
	"github.com/kiranshivaraju/beyanname/internal/store"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// JobDispatcher hands a pending job to a worker. *Dispatcher satisfies it.
type JobDispatcher interface {
	Dispatch(jobID, ownerID string) bool
}

type SweeperOptions struct {
	StaleAfter   time.Duration
	PendingGrace time.Duration
	Limit        int
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Expired    int  `json:"expired"`
	Dispatched int  `json:"dispatched"`
	Deferred   int  `json:"deferred"`
	Skipped    bool `json:"skipped,omitempty"`
}

// Sweeper recovers jobs no worker is looking after: processing rows whose
// worker went silent are failed, and pending rows that were never dispatched
// are handed to the dispatcher.
type Sweeper struct {
	sched      *Scheduler
	dispatcher JobDispatcher
	lock       cache.Cache
	opts       SweeperOptions
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a Sweeper. lock may be nil; when set, concurrent sweeps
// across replicas are collapsed into one.
func NewSweeper(sched *Scheduler, dispatcher JobDispatcher, lock cache.Cache, opts SweeperOptions) *Sweeper {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 45 * time.Minute
	}
	return &Sweeper{
		sched:      sched,
		dispatcher: dispatcher,
		lock:       lock,
		opts:       opts,
		now:        time.Now,
	}
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx, cache.SweepLockKey(), s.lockTTL())
		if err != nil {
			slog.Warn("sweep lock unavailable, sweeping anyway", "error", err)
		} else if !ok {
			slog.Debug("sweep already running elsewhere")
			res.Skipped = true
			return res, nil
		}
	}

	now := s.now()
	staleCutoff := now.Add(-s.opts.StaleAfter)
	stale, err := s.sched.store.ListJobsByStatus(ctx, models.JobStatusProcessing, staleCutoff, s.opts.Limit)
	if err != nil {
		return res, fmt.Errorf("listing stale jobs: %w", err)
	}
	for _, job := range stale {
		expired, err := s.sched.expireStale(ctx, job, staleCutoff, s.opts.StaleAfter)
		if err != nil {
			slog.Error("expiring stale job", "job_id", job.ID, "error", err)
			continue
		}
		if expired {
			res.Expired++
		}
	}

	if s.dispatcher != nil {
		pending, err := s.sched.store.ListJobsByStatus(ctx, models.JobStatusPending, now.Add(-s.opts.PendingGrace), s.opts.Limit)
		if err != nil {
			return res, fmt.Errorf("listing pending jobs: %w", err)
		}
		for _, job := range pending {
			if s.dispatcher.Dispatch(job.ID, job.OwnerID) {
				res.Dispatched++
			} else {
				res.Deferred++
			}
		}
	}

	if res.Expired > 0 || res.Dispatched > 0 || res.Deferred > 0 {
		slog.Info("sweep finished", "expired", res.Expired, "dispatched", res.Dispatched, "deferred", res.Deferred)
	}
	return res, nil
}

// lockTTL keeps the lock shorter than any sane schedule so a crashed sweeper
// never blocks the next run for long.
func (s *Sweeper) lockTTL() time.Duration {
	return 30 * time.Second
}

// Start schedules RunOnce with a cron schedule such as "@every 1m".
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			slog.Error("scheduled sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	slog.Info("sweeper started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	slog.Info("sweeper stopped")
}

// expireStale fails a processing job whose last write is older than cutoff.
// The write is conditional on the row still being that old, so a worker that
// just reported progress keeps its job. It reports whether the job was failed.
func (s *Scheduler) expireStale(ctx context.Context, job *models.Job, cutoff time.Time, staleAfter time.Duration) (bool, error) {
	failure := &models.FailureLog{
		Kind:         models.FailureTimeout,
		ErrorMessage: "processing lease expired",
		ErrorDetail:  fmt.Sprintf("no progress recorded since %s (stale after %s)", job.UpdatedAt.UTC().Format(time.RFC3339), staleAfter),
	}
	err := s.store.FailJob(ctx, job.ID, job.OwnerID, failure, store.IfUpdatedBefore(cutoff))
	if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.invalidate(ctx, job.OwnerID, job.ID)
	slog.Warn("stale job failed", "job_id", job.ID, "owner_id", job.OwnerID, "last_update", job.UpdatedAt)
	return true, nil
}
