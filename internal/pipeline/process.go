package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/beyanname/internal/ai"
	"github.com/kiranshivaraju/beyanname/internal/config"
	"github.com/kiranshivaraju/beyanname/internal/store"
	"github.com/kiranshivaraju/beyanname/pkg/chunk"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// partSeparator joins part results in index order.
const partSeparator = "\n\n"

// maxPollFailures is how many consecutive failed batch polls end the job.
const maxPollFailures = 3

var errLeaseLost = errors.New("job is no longer processing")

// jobFailure carries a failure kind and a short user-facing message alongside
// the underlying cause.
type jobFailure struct {
	kind    models.FailureKind
	message string
	cause   error
}

func (f *jobFailure) Error() string {
	if f.cause == nil {
		return f.message
	}
	return f.message + ": " + f.cause.Error()
}

func (f *jobFailure) Unwrap() error { return f.cause }

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// PickupAndProcess claims a pending job and runs it to a terminal state.
//
// A job that is not pending (another worker won the claim, or it already
// finished) is skipped without error. Generation failures never surface here:
// they are stored on the job and its failure log. The returned error covers
// only the claim itself.
func (s *Scheduler) PickupAndProcess(ctx context.Context, jobID, ownerID string) error {
	if err := s.store.ClaimJob(ctx, jobID, ownerID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			slog.Debug("job not claimable, skipping", "job_id", jobID, "reason", err)
			return nil
		}
		return fmt.Errorf("claiming job: %w", err)
	}
	s.invalidate(ctx, ownerID, jobID)

	job, err := s.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		// Claimed but unreadable: still owe the job a terminal write.
		s.finish(context.WithoutCancel(ctx), &models.Job{ID: jobID, OwnerID: ownerID}, "", fmt.Errorf("loading claimed job: %w", err), time.Now())
		return nil
	}
	slog.Info("job processing", "job_id", jobID, "owner_id", ownerID)
	s.execute(ctx, job)
	return nil
}

// execute runs the analysis and always ends with exactly one terminal write,
// including when the analysis panics.
func (s *Scheduler) execute(ctx context.Context, job *models.Job) {
	started := time.Now()
	var (
		result string
		runErr error
	)
	defer func() {
		if r := recover(); r != nil {
			runErr = &panicError{value: r, stack: debug.Stack()}
		}
		s.finish(context.WithoutCancel(ctx), job, result, runErr, started)
	}()
	result, runErr = s.analyze(ctx, job)
}

func (s *Scheduler) analyze(ctx context.Context, job *models.Job) (string, error) {
	parts := chunk.Split(job.InputPayload, s.opts.ChunkBudget)
	if len(parts) == 1 {
		return s.ai.Generate(ctx, s.request(parts[0].Text))
	}

	if s.opts.DispatchMode == config.DispatchBatch {
		if s.ai.SupportsBatch() {
			return s.runBatch(ctx, job, parts)
		}
		slog.Warn("batch dispatch unavailable, falling back to parallel calls",
			"job_id", job.ID, "provider", s.ai.ProviderName())
	}
	return s.runParallel(ctx, job, parts)
}

func (s *Scheduler) request(prompt string) models.GenerateRequest {
	return models.GenerateRequest{
		Prompt:          prompt,
		System:          s.opts.SystemPrompt,
		MaxOutputTokens: s.opts.MaxOutputTokens,
		Temperature:     s.opts.Temperature,
	}
}

// runParallel issues one Generate call per part with bounded concurrency.
// The first failing part cancels the rest.
func (s *Scheduler) runParallel(ctx context.Context, job *models.Job, parts []chunk.Part) (string, error) {
	total := len(parts)
	results := make([]string, total)
	tracker := &progressTracker{sched: s, job: job, total: total}
	if err := tracker.set(ctx, 0); err != nil {
		return "", err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallelParts)
	for _, p := range parts {
		if gctx.Err() != nil {
			break
		}
		if err := s.checkCancel(gctx, job); err != nil {
			g.Go(func() error { return err })
			break
		}
		g.Go(func() (err error) {
			// errgroup does not carry panics back to Wait; recover here so
			// the job still gets its terminal write.
			defer func() {
				if r := recover(); r != nil {
					err = &panicError{value: r, stack: debug.Stack()}
				}
			}()
			text, err := s.ai.Generate(gctx, s.request(p.Text))
			if err != nil {
				return fmt.Errorf("part %d/%d: %w", p.Index+1, total, err)
			}
			results[p.Index] = text
			return tracker.increment(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(results, partSeparator), nil
}

// runBatch submits every part as one remote batch and polls it until it
// ends, the deadline passes, or the job is cancelled.
func (s *Scheduler) runBatch(ctx context.Context, job *models.Job, parts []chunk.Part) (string, error) {
	total := len(parts)
	batch := make([]models.BatchPart, total)
	for i, p := range parts {
		batch[i] = models.BatchPart{Index: p.Index, Prompt: p.Text}
	}

	ref, err := s.ai.SubmitBatch(ctx, batch, s.request(""))
	if err != nil {
		return "", fmt.Errorf("submitting batch: %w", err)
	}
	slog.Info("batch submitted", "job_id", job.ID, "batch_ref", ref, "parts", total)

	tracker := &progressTracker{sched: s, job: job, total: total}
	if err := tracker.set(ctx, 0, store.WithBatchRef(ref)); err != nil {
		return "", err
	}

	deadline := time.NewTimer(s.opts.BatchDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.BatchPollInterval)
	defer ticker.Stop()

	var (
		pollFailures int
		lastPollErr  error
	)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", &jobFailure{
				kind:    models.FailureTimeout,
				message: fmt.Sprintf("batch did not finish within %s", s.opts.BatchDeadline),
				cause:   lastPollErr,
			}
		case <-ticker.C:
		}

		if err := s.checkCancel(ctx, job); err != nil {
			return "", err
		}

		res, err := s.ai.PollBatch(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			pollFailures++
			lastPollErr = err
			slog.Warn("batch poll failed", "job_id", job.ID, "batch_ref", ref, "attempt", pollFailures, "error", err)
			if pollFailures >= maxPollFailures {
				return "", fmt.Errorf("polling batch %s: %w", ref, err)
			}
			continue
		}
		pollFailures = 0

		switch res.State {
		case models.BatchInProgress:
			if err := tracker.set(ctx, res.Completed); err != nil {
				return "", err
			}
		case models.BatchEnded:
			text, err := assemble(res.Parts, total)
			if err != nil {
				return "", err
			}
			if err := tracker.set(ctx, total); err != nil {
				return "", err
			}
			return text, nil
		default:
			return "", &jobFailure{
				kind:    models.FailureProviderError,
				message: fmt.Sprintf("batch %s ended in state %q", ref, res.State),
			}
		}
	}
}

// assemble orders ended batch results by part index. Every part must be
// present exactly once and have succeeded with non-blank text.
func assemble(results []models.BatchPartResult, total int) (string, error) {
	byIndex := make(map[int]models.BatchPartResult, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= total {
			return "", &jobFailure{
				kind:    models.FailureProviderError,
				message: fmt.Sprintf("batch returned unknown part index %d", r.Index),
			}
		}
		byIndex[r.Index] = r
	}

	var (
		errored []string
		missing []string
		empty   []string
		details []string
	)
	texts := make([]string, total)
	for i := 0; i < total; i++ {
		r, ok := byIndex[i]
		switch {
		case !ok:
			missing = append(missing, fmt.Sprint(i+1))
		case r.Status != models.PartStatusSucceeded:
			errored = append(errored, fmt.Sprint(i+1))
			details = append(details, fmt.Sprintf("part %d: %s", i+1, r.Error))
		case strings.TrimSpace(r.Text) == "":
			empty = append(empty, fmt.Sprint(i+1))
		default:
			texts[i] = r.Text
		}
	}

	switch {
	case len(errored) > 0:
		return "", &jobFailure{
			kind:    models.FailureProviderError,
			message: fmt.Sprintf("batch parts failed: %s", strings.Join(errored, ", ")),
			cause:   errors.New(strings.Join(details, "; ")),
		}
	case len(missing) > 0:
		return "", &jobFailure{
			kind:    models.FailureProviderError,
			message: fmt.Sprintf("batch results incomplete, missing parts: %s", strings.Join(missing, ", ")),
		}
	case len(empty) > 0:
		return "", &jobFailure{
			kind:    models.FailureEmptyResponse,
			message: fmt.Sprintf("batch parts returned no text: %s", strings.Join(empty, ", ")),
		}
	}
	return strings.Join(texts, partSeparator), nil
}

// checkCancel reports a cancelled failure when a cancel was requested for the
// job. A failed read is logged and ignored so a store blip does not end the run.
func (s *Scheduler) checkCancel(ctx context.Context, job *models.Job) error {
	current, err := s.store.GetJob(ctx, job.ID, job.OwnerID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("cancel check failed", "job_id", job.ID, "error", err)
		return nil
	}
	if current.Status != models.JobStatusProcessing {
		return errLeaseLost
	}
	if current.CancelRequested {
		return &jobFailure{kind: models.FailureCancelled, message: "job cancelled by request"}
	}
	return nil
}

// progressTracker serializes progress writes so completed_parts never moves
// backwards, even with parts finishing concurrently.
type progressTracker struct {
	sched *Scheduler
	job   *models.Job
	total int

	mu   sync.Mutex
	done int
}

func (t *progressTracker) increment(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(ctx, t.done+1)
}

func (t *progressTracker) set(ctx context.Context, completed int, opts ...store.JobUpdateOption) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if completed < t.done {
		completed = t.done
	}
	return t.write(ctx, completed, opts...)
}

// write must be called with mu held.
func (t *progressTracker) write(ctx context.Context, completed int, opts ...store.JobUpdateOption) error {
	progress := models.BatchProgress{CompletedParts: completed, TotalParts: t.total}
	err := t.sched.store.UpdateBatchProgress(context.WithoutCancel(ctx), t.job.ID, t.job.OwnerID, progress, opts...)
	switch {
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
		return errLeaseLost
	case err != nil:
		slog.Warn("progress update failed", "job_id", t.job.ID, "error", err)
	default:
		t.done = completed
	}
	t.sched.invalidate(ctx, t.job.OwnerID, t.job.ID)
	return nil
}

// finish performs the single terminal write for a pickup: completed when the
// run produced a result, failed with a failure-log entry otherwise.
func (s *Scheduler) finish(ctx context.Context, job *models.Job, result string, runErr error, started time.Time) {
	defer s.invalidate(ctx, job.OwnerID, job.ID)
	elapsed := time.Since(started).Round(time.Millisecond)

	if runErr == nil {
		err := s.store.CompleteJob(ctx, job.ID, job.OwnerID, result)
		switch {
		case err == nil:
			slog.Info("job completed", "job_id", job.ID, "owner_id", job.OwnerID, "duration", elapsed)
			s.renderAfterCompletion(ctx, job, result)
			return
		case errors.Is(err, store.ErrInvalidTransition):
			slog.Warn("job result discarded, job left processing elsewhere", "job_id", job.ID, "error", err)
			return
		default:
			runErr = fmt.Errorf("persisting result: %w", err)
		}
	}

	if errors.Is(runErr, errLeaseLost) {
		slog.Warn("job abandoned, no longer processing", "job_id", job.ID)
		return
	}

	failure := failureFor(runErr)
	if err := s.store.FailJob(ctx, job.ID, job.OwnerID, failure); err != nil {
		slog.Error("recording job failure", "job_id", job.ID, "error", err, "cause", runErr)
		return
	}
	level := slog.LevelWarn
	if failure.Kind == models.FailureInternal {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "job failed",
		"job_id", job.ID, "owner_id", job.OwnerID, "kind", failure.Kind,
		"error", failure.ErrorMessage, "duration", elapsed)
}

// failureFor converts a run error into a failure-log entry: a short message
// for display and the full cause as detail.
func failureFor(err error) *models.FailureLog {
	var (
		jf *jobFailure
		pe *panicError
	)
	switch {
	case errors.As(err, &jf):
		return &models.FailureLog{Kind: jf.kind, ErrorMessage: jf.message, ErrorDetail: err.Error()}
	case errors.As(err, &pe):
		return &models.FailureLog{
			Kind:         models.FailureInternal,
			ErrorMessage: "internal error while processing job",
			ErrorDetail:  pe.Error() + "\n" + string(pe.stack),
		}
	case errors.Is(err, context.Canceled):
		return &models.FailureLog{
			Kind:         models.FailureInternal,
			ErrorMessage: "processing interrupted",
			ErrorDetail:  err.Error(),
		}
	}

	kind := ai.KindOf(err)
	return &models.FailureLog{Kind: kind, ErrorMessage: failureMessages[kind], ErrorDetail: err.Error()}
}

var failureMessages = map[models.FailureKind]string{
	models.FailureTimeout:       "analysis timed out",
	models.FailureProviderError: "analysis provider returned an error",
	models.FailureEmptyResponse: "analysis provider returned no text",
	models.FailureCancelled:     "job cancelled by request",
	models.FailureInternal:      "internal error while processing job",
}
