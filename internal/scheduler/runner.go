package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"inzikt/internal/types"
)

// TickLockID names the job lock that serializes overlapping ticks.
const TickLockID = "scheduler_tick"

// Locker provides expiring mutual exclusion between ticks.
type Locker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

// Metrics receives tick and execution observations.
type Metrics interface {
	RecordTick(outcome string, jobsRun int)
	RecordExecution(jobType string, status types.ExecutionStatus, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordTick(string, int)                                        {}
func (noopMetrics) RecordExecution(string, types.ExecutionStatus, time.Duration) {}

// Result is the per-job outcome of a tick or a manual run.
type Result struct {
	JobID       string                `json:"jobId"`
	ExecutionID string                `json:"executionId,omitempty"`
	JobType     string                `json:"jobType"`
	Status      types.ExecutionStatus `json:"status"`
	Result      types.JobResult       `json:"result,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// TickReport is returned by RunDueJobs.
type TickReport struct {
	JobsRun int      `json:"jobsRun"`
	Results []Result `json:"results"`
	Skipped bool     `json:"skipped,omitempty"`
}

// RunnerConfig tunes a Runner. Zero values are usable.
type RunnerConfig struct {
	// HandlerTimeout bounds each handler call. Zero disables the bound.
	HandlerTimeout time.Duration
	TickLockTTL    time.Duration
	MaxJobsPerTick int
	Metrics        Metrics
	Logger         *slog.Logger
}

// Runner executes due and on-demand scheduled jobs through the Lifecycle.
type Runner struct {
	jobs      JobStore
	lifecycle *Lifecycle
	registry  *Registry
	locker    Locker
	cfg       RunnerConfig
	logger    *slog.Logger
	metrics   Metrics
	now       func() time.Time
}

// NewRunner wires a Runner. locker may be nil when ticks cannot overlap.
func NewRunner(jobs JobStore, lifecycle *Lifecycle, registry *Registry, locker Locker, cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.TickLockTTL <= 0 {
		cfg.TickLockTTL = 15 * time.Minute
	}
	return &Runner{
		jobs:      jobs,
		lifecycle: lifecycle,
		registry:  registry,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Registry exposes the handler table for listing.
func (r *Runner) Registry() *Registry { return r.registry }

// RunDueJobs runs every enabled job whose next_run has passed, oldest first
// and strictly one at a time. A failing job never aborts the tick; only a
// failure to read the due set is returned as an error.
func (r *Runner) RunDueJobs(ctx context.Context) (*TickReport, error) {
	if r.locker != nil {
		workerID := uuid.NewString()
		acquired, err := r.locker.Acquire(ctx, TickLockID, workerID, r.cfg.TickLockTTL)
		if err != nil {
			r.metrics.RecordTick("error", 0)
			return nil, err
		}
		if !acquired {
			r.logger.InfoContext(ctx, "tick skipped, another tick holds the lock")
			r.metrics.RecordTick("skipped", 0)
			return &TickReport{Results: []Result{}, Skipped: true}, nil
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx), TickLockID, workerID); err != nil {
				r.logger.WarnContext(ctx, "failed to release tick lock", "error", err)
			}
		}()
	}

	due, err := r.jobs.ListDue(ctx, r.now(), r.cfg.MaxJobsPerTick)
	if err != nil {
		r.metrics.RecordTick("error", 0)
		return nil, err
	}

	report := &TickReport{Results: make([]Result, 0, len(due))}
	for i := range due {
		if err := ctx.Err(); err != nil {
			// Unreached jobs stay due for the next tick.
			r.logger.WarnContext(ctx, "tick interrupted", "remaining", len(due)-i, "error", err)
			break
		}
		report.Results = append(report.Results, r.execute(ctx, &due[i]))
	}
	report.JobsRun = len(report.Results)

	r.metrics.RecordTick("ok", report.JobsRun)
	r.logger.InfoContext(ctx, "tick complete", "jobs_run", report.JobsRun)
	return report, nil
}

// RunJobNow executes one job immediately, ignoring next_run and enabled.
// authorize, when non-nil, is consulted after the job is loaded and before
// anything is recorded.
func (r *Runner) RunJobNow(ctx context.Context, jobID string, authorize func(*types.ScheduledJob) error) (*Result, error) {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if authorize != nil {
		if err := authorize(job); err != nil {
			return nil, err
		}
	}
	res := r.execute(ctx, job)
	return &res, nil
}

// execute runs one job through start, dispatch and completion.
func (r *Runner) execute(ctx context.Context, job *types.ScheduledJob) Result {
	res := Result{JobID: job.ID, JobType: job.JobType}
	log := r.logger.With("job_id", job.ID, "job_type", job.JobType)

	execID, err := r.lifecycle.RecordStart(ctx, job.ID)
	if err != nil {
		// Without an execution row there is nothing to complete, so next_run
		// stays put and the job is retried on the next tick.
		log.ErrorContext(ctx, "failed to record execution start", "error", err)
		res.Status = types.ExecutionFailed
		res.Error = fmt.Sprintf("failed to record start: %v", err)
		return res
	}
	res.ExecutionID = execID
	log = log.With("execution_id", execID)

	started := time.Now()
	var result types.JobResult
	handler, ok := r.registry.Lookup(job.JobType)
	if !ok {
		err = fmt.Errorf("No handler for job type: %s", job.JobType)
	} else {
		result, err = r.invoke(ctx, handler, job.Parameters)
	}
	elapsed := time.Since(started)

	status := types.ExecutionCompleted
	errMsg := ""
	if err != nil {
		status = types.ExecutionFailed
		errMsg = err.Error()
		log.WarnContext(ctx, "job failed", "error", errMsg, "duration_ms", elapsed.Milliseconds())
	} else {
		log.InfoContext(ctx, "job completed", "duration_ms", elapsed.Milliseconds())
	}
	r.metrics.RecordExecution(job.JobType, status, elapsed)

	res.Status = status
	res.Error = errMsg
	if status == types.ExecutionCompleted {
		res.Result = result
	}

	// Bookkeeping survives a canceled tick context.
	if _, cerr := r.lifecycle.RecordCompletion(context.WithoutCancel(ctx), execID, status, result, errMsg); cerr != nil {
		log.ErrorContext(ctx, "failed to record execution completion", "error", cerr)
	}
	return res
}

// invoke calls h with the configured timeout and converts panics into errors.
// A handler that ignores its context is abandoned once the timeout fires.
func (r *Runner) invoke(ctx context.Context, h HandlerFunc, params types.JobParams) (types.JobResult, error) {
	hctx := ctx
	if r.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, r.cfg.HandlerTimeout)
		defer cancel()
	}

	type outcome struct {
		result types.JobResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("handler panicked", "panic", p, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("handler panicked: %v", p)}
			}
		}()
		res, err := h(hctx, params)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && r.cfg.HandlerTimeout > 0 && hctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("handler timed out after %s", r.cfg.HandlerTimeout)
		}
		return o.result, o.err
	case <-hctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("handler timed out after %s", r.cfg.HandlerTimeout)
	}
}
