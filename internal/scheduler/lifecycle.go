// Package scheduler runs recurring jobs. An external trigger invokes a tick;
// the tick selects due jobs, dispatches each to its registered handler one at
// a time and records every run as a JobExecution.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"inzikt/internal/db"
	"inzikt/internal/types"
)

// JobStore is the subset of the scheduled job repository used here.
type JobStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]types.ScheduledJob, error)
	GetByID(ctx context.Context, id string) (*types.ScheduledJob, error)
	UpdateNextRun(ctx context.Context, id string, nextRun, now time.Time) error
}

// ExecutionStore is the subset of the execution repository used here.
type ExecutionStore interface {
	Start(ctx context.Context, jobID string, startedAt time.Time) (string, error)
	Get(ctx context.Context, id string) (*types.JobExecution, error)
	Complete(ctx context.Context, id string, out db.ExecutionOutcome) error
}

// Lifecycle owns execution bookkeeping and next_run recomputation. Nothing
// else writes execution status or next_run.
type Lifecycle struct {
	jobs   JobStore
	execs  ExecutionStore
	now    func() time.Time
	logger *slog.Logger
}

func NewLifecycle(jobs JobStore, execs ExecutionStore, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		jobs:   jobs,
		execs:  execs,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// RecordStart inserts a running execution and stamps the job's last_run.
func (l *Lifecycle) RecordStart(ctx context.Context, jobID string) (string, error) {
	return l.execs.Start(ctx, jobID, l.now())
}

// Completion describes what RecordCompletion persisted.
type Completion struct {
	ExecutionID string
	JobID       string
	Status      types.ExecutionStatus
	CompletedAt time.Time
	DurationMs  int64
	NextRun     time.Time
}

// RecordCompletion finishes a running execution and then advances the owning
// job's next_run, whatever the outcome.
func (l *Lifecycle) RecordCompletion(ctx context.Context, executionID string, status types.ExecutionStatus, result types.JobResult, errMsg string) (*Completion, error) {
	if !status.IsTerminal() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParameter,
			"completion status must be completed or failed", nil)
	}

	exec, err := l.execs.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	completedAt := l.now()
	if completedAt.Before(exec.StartedAt) {
		completedAt = exec.StartedAt
	}
	c := &Completion{
		ExecutionID: executionID,
		JobID:       exec.JobID,
		Status:      status,
		CompletedAt: completedAt,
		DurationMs:  completedAt.Sub(exec.StartedAt).Milliseconds(),
	}

	out := db.ExecutionOutcome{
		Status:      status,
		CompletedAt: completedAt,
		DurationMs:  c.DurationMs,
	}
	if status == types.ExecutionCompleted {
		out.Result = result
	} else {
		out.Error = &errMsg
	}
	if err := l.execs.Complete(ctx, executionID, out); err != nil {
		return nil, err
	}

	job, err := l.jobs.GetByID(ctx, exec.JobID)
	if err != nil {
		return nil, err
	}
	if usesFallback(job.Frequency, job.CronExpression) {
		l.logger.WarnContext(ctx, "schedule unusable, falling back to next midnight",
			"job_id", job.ID,
			"job_type", job.JobType,
			"frequency", string(job.Frequency),
		)
	}
	c.NextRun = ComputeNextRun(job.Frequency, job.CronExpression, completedAt)
	if err := l.jobs.UpdateNextRun(ctx, job.ID, c.NextRun, completedAt); err != nil {
		return nil, err
	}
	return c, nil
}
