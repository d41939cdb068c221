package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"inzikt/internal/core"
	"inzikt/internal/scheduler"
	"inzikt/internal/types"
)

const (
	defaultExecutionLimit = 20
	maxExecutionLimit     = 100
)

// ManualRunner executes one scheduled job on demand.
type ManualRunner interface {
	RunJobNow(ctx context.Context, jobID string, authorize func(*types.ScheduledJob) error) (*scheduler.Result, error)
}

// ScheduledJobReader loads scheduled job definitions.
type ScheduledJobReader interface {
	GetByID(ctx context.Context, id string) (*types.ScheduledJob, error)
	List(ctx context.Context) ([]types.ScheduledJob, error)
}

// ExecutionLister reads execution history.
type ExecutionLister interface {
	ListByJob(ctx context.Context, jobID string, limit int) ([]types.JobExecution, error)
}

// ScheduledJobsHandler serves manual runs, execution history and the admin
// listing of job definitions.
type ScheduledJobsHandler struct {
	runner     ManualRunner
	jobs       ScheduledJobReader
	executions ExecutionLister
	logger     *slog.Logger
}

func NewScheduledJobsHandler(runner ManualRunner, jobs ScheduledJobReader, executions ExecutionLister, logger *slog.Logger) *ScheduledJobsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduledJobsHandler{runner: runner, jobs: jobs, executions: executions, logger: logger}
}

func (h *ScheduledJobsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/jobs/run", h.RunNow)
	r.Get("/jobs/{jobId}/executions", h.ListExecutions)
}

// RegisterAdminRoutes mounts routes the caller must wrap with an admin check.
func (h *ScheduledJobsHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/jobs/scheduled", h.ListScheduled)
}

// jobOwner returns the user a scheduled job acts for: the owning column, or
// parameters.user_id for per-user jobs seeded without one. "" means a
// system job.
func jobOwner(job *types.ScheduledJob) string {
	if owner := job.OwnerID(); owner != "" {
		return owner
	}
	owner, _ := job.Parameters.String("user_id")
	return owner
}

// authorizeJob allows owners on per-user jobs and admins everywhere.
func authorizeJob(actor types.Actor) func(*types.ScheduledJob) error {
	return func(job *types.ScheduledJob) error {
		owner := jobOwner(job)
		if owner == "" {
			if actor.IsAdmin() {
				return nil
			}
			return types.NewAppError(types.ErrCodePermissionRole, "system jobs can only be run by an admin", nil)
		}
		if !actor.CanAccessUser(owner) {
			return types.NewAppError(types.ErrCodePermissionNotOwner, "job belongs to another user", nil)
		}
		return nil
	}
}

type runNowResponse struct {
	Success     bool            `json:"success"`
	ExecutionID string          `json:"executionId"`
	Result      types.JobResult `json:"result"`
}

// RunNow handles POST /api/jobs/run?jobId=. A handler failure is a 500 that
// still carries the execution id in details.
func (h *ScheduledJobsHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingJobID, "Job ID is required", nil))
		return
	}

	res, err := h.runner.RunJobNow(r.Context(), jobID, authorizeJob(actor))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if res.Status != types.ExecutionCompleted {
		h.logger.WarnContext(r.Context(), "manual run failed",
			"job_id", jobID,
			"execution_id", res.ExecutionID,
			"error", res.Error,
		)
		msg := res.Error
		if msg == "" {
			msg = "Job execution failed"
		}
		details := map[string]any{}
		if res.ExecutionID != "" {
			details["executionId"] = res.ExecutionID
		}
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected, msg, nil, details))
		return
	}

	core.JSON(w, r, http.StatusOK, runNowResponse{
		Success:     true,
		ExecutionID: res.ExecutionID,
		Result:      res.Result,
	})
}

type executionsResponse struct {
	Success    bool                 `json:"success"`
	JobID      string               `json:"jobId"`
	Executions []types.JobExecution `json:"executions"`
}

// ListExecutions handles GET /api/jobs/{jobId}/executions?limit=.
func (h *ScheduledJobsHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "jobId")

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := authorizeJob(actor)(job); err != nil {
		core.Error(w, r, err)
		return
	}

	execs, err := h.executions.ListByJob(r.Context(), jobID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if execs == nil {
		execs = []types.JobExecution{}
	}
	core.JSON(w, r, http.StatusOK, executionsResponse{Success: true, JobID: jobID, Executions: execs})
}

type scheduledListResponse struct {
	Success bool                 `json:"success"`
	Jobs    []types.ScheduledJob `json:"jobs"`
}

// ListScheduled handles GET /api/jobs/scheduled for admins.
func (h *ScheduledJobsHandler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []types.ScheduledJob{}
	}
	core.JSON(w, r, http.StatusOK, scheduledListResponse{Success: true, Jobs: jobs})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultExecutionLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidParameter,
			"limit must be a positive integer", err, map[string]any{"limit": raw})
	}
	if n > maxExecutionLimit {
		n = maxExecutionLimit
	}
	return n, nil
}
