package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"inzikt/internal/db"
	"inzikt/internal/types"
)

// Work performs the body of one job type. It must call r.Checkpoint between
// discrete units of work and return ErrJobCanceled when a checkpoint does.
type Work func(ctx context.Context, job *types.AdhocJob, r *Reporter) error

// Metrics receives ad-hoc job outcomes.
type Metrics interface {
	RecordAdhocJob(jobType string, status types.AdhocStatus, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordAdhocJob(string, types.AdhocStatus, time.Duration) {}

// Executor drives a pending job through processing to a terminal state.
type Executor struct {
	store     Store
	publisher Publisher
	work      map[types.AdhocJobType]Work
	metrics   Metrics
	logger    *slog.Logger
}

// NewExecutor wires an Executor. The work map is copied.
func NewExecutor(store Store, publisher Publisher, work map[types.AdhocJobType]Work, metrics Metrics, logger *slog.Logger) *Executor {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := make(map[types.AdhocJobType]Work, len(work))
	for k, v := range work {
		if v != nil {
			w[k] = v
		}
	}
	return &Executor{store: store, publisher: publisher, work: w, metrics: metrics, logger: logger}
}

// Execute runs the job identified by jobID. Jobs that are no longer pending
// are skipped, so redelivered tasks are harmless. Job failures are written to
// the row and not returned; only store errors that prevent recording a
// result are returned.
func (e *Executor) Execute(ctx context.Context, jobID string) error {
	job, err := e.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	log := e.logger.With("job_id", job.ID, "user_id", job.UserID, "job_type", string(job.JobType))
	if job.Status != types.AdhocPending {
		log.InfoContext(ctx, "skipping job that is not pending", "status", string(job.Status))
		return nil
	}

	job, err = e.store.MarkProcessing(ctx, jobID)
	if errors.Is(err, db.ErrJobInactive) {
		log.InfoContext(ctx, "job left pending before start", "status", string(job.Status))
		return nil
	}
	if err != nil {
		return err
	}
	publishJob(ctx, e.publisher, e.logger, job)

	started := time.Now()
	reporter := newReporter(e.store, e.publisher, e.logger, job)
	workErr := e.run(ctx, job, reporter)

	// Terminal writes survive a canceled worker context.
	wctx := context.WithoutCancel(ctx)
	var final *types.AdhocJob
	switch {
	case workErr == nil:
		final, err = e.store.Complete(wctx, jobID)
	case errors.Is(workErr, ErrJobCanceled):
		final, err = reporter.Job(), nil
	default:
		log.WarnContext(ctx, "job failed", "error", workErr)
		final, err = e.store.Fail(wctx, jobID, workErr.Error())
	}
	if err != nil && !errors.Is(err, db.ErrJobInactive) {
		log.ErrorContext(ctx, "failed to record job outcome", "error", err)
		return err
	}
	// ErrJobInactive here means the job was canceled after its last
	// checkpoint; final is the canceled row and was published by Cancel.
	if err == nil && !errors.Is(workErr, ErrJobCanceled) {
		publishJob(wctx, e.publisher, e.logger, final)
	}

	status := types.AdhocCanceled
	if final != nil && !errors.Is(workErr, ErrJobCanceled) {
		status = final.Status
	}
	elapsed := time.Since(started)
	e.metrics.RecordAdhocJob(string(job.JobType), status, elapsed)
	log.InfoContext(ctx, "job finished", "status", string(status), "duration_ms", elapsed.Milliseconds())
	return nil
}

func (e *Executor) run(ctx context.Context, job *types.AdhocJob, r *Reporter) (err error) {
	w, ok := e.work[job.JobType]
	if !ok {
		return fmt.Errorf("unsupported job type: %s", job.JobType)
	}
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("job panicked", "job_id", job.ID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return w(ctx, job, r)
}
