package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Processor runs one pickup of a job. *Scheduler satisfies it.
type Processor interface {
	PickupAndProcess(ctx context.Context, jobID, ownerID string) error
}

// Dispatcher runs pickups in the background with a cap on concurrent jobs.
// When the cap is reached the job simply stays pending; the sweeper picks it
// up later.
type Dispatcher struct {
	proc Processor
	sem  *semaphore.Weighted

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(proc Processor, maxConcurrent int) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		proc:   proc,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		base:   base,
		cancel: cancel,
	}
}

// Dispatch starts processing the job in the background and reports whether it
// was accepted. The work is detached from ctx so request cancellation does not
// abort it.
func (d *Dispatcher) Dispatch(jobID, ownerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if !d.sem.TryAcquire(1) {
		slog.Info("dispatcher at capacity, job left pending", "job_id", jobID)
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		if err := d.proc.PickupAndProcess(d.base, jobID, ownerID); err != nil {
			slog.Error("job pickup failed", "job_id", jobID, "owner_id", ownerID, "error", err)
		}
	}()
	return true
}

// Drain stops accepting work and waits for in-flight jobs. If ctx ends first,
// running jobs are interrupted; each still records a terminal failure before
// Drain returns.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		slog.Warn("drain deadline reached, interrupting in-flight jobs")
		d.cancel()
		<-done
		return ctx.Err()
	}
}
