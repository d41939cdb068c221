package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"inzikt/internal/core"
	"inzikt/internal/jobs"
	"inzikt/internal/progress"
	"inzikt/internal/scheduler"
	"inzikt/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	member = types.Actor{ID: "user-1", Type: types.ActorTypeUser, Role: types.RoleMember}
	other  = types.Actor{ID: "user-2", Type: types.ActorTypeUser, Role: types.RoleMember}
	admin  = types.Actor{ID: "admin-1", Type: types.ActorTypeUser, Role: types.RoleAdmin}
)

func withActor(r *http.Request, a types.Actor) *http.Request {
	return r.WithContext(types.WithActor(r.Context(), a))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Code
}

type fakeTickRunner struct {
	report *scheduler.TickReport
	err    error
	calls  int
	// run, when set, stands in for the handlers executed during the tick.
	run func(ctx context.Context)
}

func (f *fakeTickRunner) RunDueJobs(ctx context.Context) (*scheduler.TickReport, error) {
	f.calls++
	if f.run != nil {
		f.run(ctx)
	}
	return f.report, f.err
}

type fakeManualRunner struct {
	jobs   map[string]*types.ScheduledJob
	result scheduler.Result
	ran    []string
}

func (f *fakeManualRunner) RunJobNow(_ context.Context, jobID string, authorize func(*types.ScheduledJob) error) (*scheduler.Result, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundScheduledJob, "scheduled job not found", nil)
	}
	if authorize != nil {
		if err := authorize(job); err != nil {
			return nil, err
		}
	}
	f.ran = append(f.ran, jobID)
	res := f.result
	res.JobID = jobID
	res.JobType = job.JobType
	return &res, nil
}

type fakeScheduledJobs struct {
	jobs map[string]*types.ScheduledJob
}

func (f *fakeScheduledJobs) GetByID(_ context.Context, id string) (*types.ScheduledJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundScheduledJob, "scheduled job not found", nil)
	}
	return job, nil
}

func (f *fakeScheduledJobs) List(context.Context) ([]types.ScheduledJob, error) {
	out := make([]types.ScheduledJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

type fakeExecutions struct {
	execs     []types.JobExecution
	lastLimit int
}

func (f *fakeExecutions) ListByJob(_ context.Context, _ string, limit int) ([]types.JobExecution, error) {
	f.lastLimit = limit
	return f.execs, nil
}

// fakeJobService keeps ad-hoc jobs in a map and applies the same ownership
// rules as jobs.Manager.
type fakeJobService struct {
	jobs     map[string]*types.AdhocJob
	created  bool
	startErr error
	started  []types.AdhocJobType
	canceled []jobs.CancelRequest
}

func (f *fakeJobService) Start(_ context.Context, userID string, jobType types.AdhocJobType, provider *types.Provider, _ types.JobParams) (*types.AdhocJob, bool, error) {
	if f.startErr != nil {
		return nil, false, f.startErr
	}
	f.started = append(f.started, jobType)
	return &types.AdhocJob{ID: "job-new", UserID: userID, JobType: jobType, Provider: provider, Status: types.AdhocPending}, f.created, nil
}

func (f *fakeJobService) Cancel(_ context.Context, actor types.Actor, req jobs.CancelRequest) (*types.AdhocJob, error) {
	f.canceled = append(f.canceled, req)
	job, ok := f.jobs[req.JobID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	if !actor.CanAccessUser(job.UserID) {
		return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "job belongs to another user", nil)
	}
	if job.Status.IsTerminal() {
		return nil, types.NewAppError(types.ErrCodeValidationJobTerminal, "job is already "+string(job.Status), nil)
	}
	c := *job
	c.Status = types.AdhocCanceled
	return &c, nil
}

func (f *fakeJobService) Get(_ context.Context, actor types.Actor, jobID string) (*types.AdhocJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	if !actor.CanAccessUser(job.UserID) {
		return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "job belongs to another user", nil)
	}
	return job, nil
}

func (f *fakeJobService) Latest(context.Context, types.Actor, string, types.AdhocJobType) (*types.AdhocJob, error) {
	return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
}

type fakeSource struct {
	jobs    map[string]*types.AdhocJob
	filters []progress.Filter
}

func (f *fakeSource) Current(_ context.Context, flt progress.Filter) (progress.Snapshot, error) {
	f.filters = append(f.filters, flt)
	if flt.JobID != "" {
		if job, ok := f.jobs[flt.JobID]; ok {
			return progress.FromJob(job), nil
		}
	}
	for _, job := range f.jobs {
		if flt.Matches(job) {
			return progress.FromJob(job), nil
		}
	}
	return progress.Snapshot{}, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
}

type fakeStreamer struct {
	served []progress.Filter
}

func (f *fakeStreamer) Serve(w http.ResponseWriter, _ *http.Request, flt progress.Filter) {
	f.served = append(f.served, flt)
	w.WriteHeader(http.StatusSwitchingProtocols)
}
