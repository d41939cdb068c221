package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrDispatcherClosed is returned by Dispatch after Shutdown has begun.
var ErrDispatcherClosed = errors.New("dispatcher is shutting down")

// TaskRunner executes one job by id.
type TaskRunner interface {
	Execute(ctx context.Context, jobID string) error
}

// InProcessDispatcher runs tasks on goroutines in the API process, at most
// maxConcurrent at a time. Tasks outlive the request that dispatched them.
type InProcessDispatcher struct {
	runner TaskRunner
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewInProcessDispatcher(runner TaskRunner, maxConcurrent int64, logger *slog.Logger) *InProcessDispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessDispatcher{
		runner: runner,
		sem:    semaphore.NewWeighted(maxConcurrent),
		logger: logger,
	}
}

// Dispatch returns immediately. The task waits for a free slot in the
// background.
func (d *InProcessDispatcher) Dispatch(ctx context.Context, task Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.wg.Add(1)

	// Detached from the request; request-scoped values such as the request id
	// are kept for logging.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(runCtx, 1); err != nil {
			d.logger.ErrorContext(runCtx, "failed to acquire job slot", "job_id", task.JobID, "error", err)
			return
		}
		defer d.sem.Release(1)
		if err := d.runner.Execute(runCtx, task.JobID); err != nil {
			d.logger.ErrorContext(runCtx, "job execution failed", "job_id", task.JobID, "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting tasks and waits for running ones until ctx ends.
// Jobs left unfinished when ctx ends are reaped later as stale.
func (d *InProcessDispatcher) Shutdown(ctx context.Context) error {
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
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
