// Package jobs runs user-triggered ad-hoc jobs (ticket import and analysis).
//
// A job is claimed through the Manager, handed to a Dispatcher and executed by
// an Executor that reports progress through checkpoints. At most one job per
// (user, job type) is active at a time; a second start attaches to the first.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inzikt/internal/db"
	"inzikt/internal/types"
)

// Store is the subset of the ad-hoc job repository used by this package.
type Store interface {
	Claim(ctx context.Context, userID string, jobType types.AdhocJobType, provider *types.Provider, params types.JobParams) (*types.AdhocJob, bool, error)
	FindActive(ctx context.Context, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error)
	Latest(ctx context.Context, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error)
	GetByID(ctx context.Context, id string) (*types.AdhocJob, error)
	MarkProcessing(ctx context.Context, id string) (*types.AdhocJob, error)
	UpdateProgress(ctx context.Context, id string, u db.ProgressUpdate) (*types.AdhocJob, error)
	Complete(ctx context.Context, id string) (*types.AdhocJob, error)
	Fail(ctx context.Context, id string, message string) (*types.AdhocJob, error)
	Cancel(ctx context.Context, id string) (*types.AdhocJob, error)
	ReapStale(ctx context.Context, cutoff time.Time, message string) ([]types.AdhocJob, error)
}

// Publisher receives the fresh row after every mutating write.
type Publisher interface {
	Publish(ctx context.Context, job *types.AdhocJob) error
}

// Task is the unit handed to a Dispatcher. It is also the SQS message body.
type Task struct {
	JobID   string             `json:"job_id"`
	UserID  string             `json:"user_id"`
	JobType types.AdhocJobType `json:"job_type"`
}

// Dispatcher schedules a claimed job for execution without blocking the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *types.AdhocJob) error { return nil }

// Manager starts, attaches to and cancels ad-hoc jobs.
type Manager struct {
	store      Store
	dispatcher Dispatcher
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager wires a Manager. publisher may be nil.
func NewManager(store Store, dispatcher Dispatcher, publisher Publisher, logger *slog.Logger) *Manager {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start claims the single active slot for (userID, jobType) and dispatches
// the new job. When another job already holds the slot it is returned with
// created=false and nothing is dispatched.
func (m *Manager) Start(ctx context.Context, userID string, jobType types.AdhocJobType, provider *types.Provider, params types.JobParams) (*types.AdhocJob, bool, error) {
	switch jobType {
	case types.AdhocImport:
		if provider == nil {
			return nil, false, types.NewAppError(types.ErrCodeValidationUnknownProvider, "import requires a provider", nil)
		}
	case types.AdhocAnalysis:
		provider = nil
	default:
		return nil, false, types.NewAppError(types.ErrCodeValidationUnsupportedJob,
			fmt.Sprintf("job type %q is not supported", jobType), nil)
	}
	if userID == "" {
		return nil, false, types.NewAppError(types.ErrCodeValidationMissingField, "user id is required", nil)
	}

	job, created, err := m.store.Claim(ctx, userID, jobType, provider, params)
	if err != nil {
		return nil, false, err
	}
	log := m.logger.With("job_id", job.ID, "user_id", userID, "job_type", string(jobType))
	if !created {
		log.InfoContext(ctx, "attached to active job", "status", string(job.Status))
		return job, false, nil
	}
	m.publish(ctx, job)

	if err := m.dispatcher.Dispatch(ctx, Task{JobID: job.ID, UserID: userID, JobType: jobType}); err != nil {
		log.ErrorContext(ctx, "dispatch failed", "error", err)
		// Free the slot so the user can retry.
		if failed, ferr := m.store.Fail(context.WithoutCancel(ctx), job.ID, "failed to dispatch job"); ferr == nil {
			m.publish(ctx, failed)
		} else {
			log.ErrorContext(ctx, "failed to mark undispatched job failed", "error", ferr)
		}
		return nil, false, types.NewAppError(types.ErrCodeInternalDispatch, "failed to dispatch job", err)
	}

	log.InfoContext(ctx, "job started")
	return job, true, nil
}

// CancelRequest identifies the job to cancel either by id or by the owning
// user and job type.
type CancelRequest struct {
	JobID   string
	UserID  string
	JobType types.AdhocJobType
}

// Cancel flips an active job to canceled. The running work observes the flip
// at its next checkpoint.
func (m *Manager) Cancel(ctx context.Context, actor types.Actor, req CancelRequest) (*types.AdhocJob, error) {
	job, err := m.resolveCancelTarget(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, alreadyTerminal(job)
	}

	canceled, err := m.store.Cancel(ctx, job.ID)
	if errors.Is(err, db.ErrJobInactive) {
		return nil, alreadyTerminal(canceled)
	}
	if err != nil {
		return nil, err
	}
	m.publish(ctx, canceled)
	m.logger.InfoContext(ctx, "job canceled",
		"job_id", canceled.ID,
		"user_id", canceled.UserID,
		"job_type", string(canceled.JobType),
		"actor_id", actor.ID,
	)
	return canceled, nil
}

func (m *Manager) resolveCancelTarget(ctx context.Context, actor types.Actor, req CancelRequest) (*types.AdhocJob, error) {
	if req.JobID != "" {
		job, err := m.store.GetByID(ctx, req.JobID)
		if err != nil {
			return nil, err
		}
		if !actor.CanAccessUser(job.UserID) {
			return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "job belongs to another user", nil)
		}
		return job, nil
	}

	userID := req.UserID
	if userID == "" {
		userID = actor.ID
	}
	if userID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingJobID, "jobId or userId is required", nil)
	}
	if !actor.CanAccessUser(userID) {
		return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "job belongs to another user", nil)
	}
	jobType := req.JobType
	if jobType == "" {
		jobType = types.AdhocImport
	}

	job, err := m.store.FindActive(ctx, userID, jobType)
	if err == nil {
		return job, nil
	}
	if !types.IsCode(err, types.ErrCodeNotFoundJob) {
		return nil, err
	}
	// No active job; report a finished one as such rather than as missing.
	return m.store.Latest(ctx, userID, jobType)
}

func alreadyTerminal(job *types.AdhocJob) error {
	msg := "job has already finished"
	details := map[string]any{}
	if job != nil {
		msg = fmt.Sprintf("job is already %s", job.Status)
		details["jobId"] = job.ID
		details["status"] = string(job.Status)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationJobTerminal, msg, nil, details)
}

// ReapStale fails processing jobs without a progress write for olderThan and
// publishes each reaped row.
func (m *Manager) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := m.now().Add(-olderThan)
	reaped, err := m.store.ReapStale(ctx, cutoff, fmt.Sprintf("job stalled: no progress for %s", olderThan))
	if err != nil {
		return 0, err
	}
	for i := range reaped {
		m.logger.WarnContext(ctx, "reaped stale job",
			"job_id", reaped[i].ID,
			"user_id", reaped[i].UserID,
			"job_type", string(reaped[i].JobType),
		)
		m.publish(ctx, &reaped[i])
	}
	return len(reaped), nil
}

// Get returns a job by id after checking the actor may see it.
func (m *Manager) Get(ctx context.Context, actor types.Actor, jobID string) (*types.AdhocJob, error) {
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessUser(job.UserID) {
		return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "job belongs to another user", nil)
	}
	return job, nil
}

// Latest returns the most recent job of jobType for userID after checking
// the actor may see it.
func (m *Manager) Latest(ctx context.Context, actor types.Actor, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error) {
	if !actor.CanAccessUser(userID) {
		return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "job belongs to another user", nil)
	}
	return m.store.Latest(ctx, userID, jobType)
}

func (m *Manager) publish(ctx context.Context, job *types.AdhocJob) {
	publishJob(ctx, m.publisher, m.logger, job)
}

func publishJob(ctx context.Context, p Publisher, logger *slog.Logger, job *types.AdhocJob) {
	if job == nil {
		return
	}
	if err := p.Publish(ctx, job); err != nil {
		logger.WarnContext(ctx, "failed to publish job update", "job_id", job.ID, "error", err)
	}
}
