package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"inzikt/internal/db"
	"inzikt/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory job and execution store that applies the same
// due filter as the repository.
type memStore struct {
	mu    sync.Mutex
	jobs  map[string]*types.ScheduledJob
	execs map[string]*types.JobExecution
	seq   int

	listErr  error
	startErr error
}

func newMemStore(jobs ...types.ScheduledJob) *memStore {
	s := &memStore{
		jobs:  make(map[string]*types.ScheduledJob),
		execs: make(map[string]*types.JobExecution),
	}
	for i := range jobs {
		j := jobs[i]
		s.jobs[j.ID] = &j
	}
	return s
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]types.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []types.ScheduledJob
	for _, j := range s.jobs {
		if j.Enabled && !j.NextRun.After(now) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].NextRun.Before(out[b].NextRun) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*types.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundScheduledJob, "scheduled job not found", nil)
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) UpdateNextRun(_ context.Context, id string, next, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundScheduledJob, "scheduled job not found", nil)
	}
	j.NextRun = next
	j.UpdatedAt = now
	return nil
}

func (s *memStore) Start(_ context.Context, jobID string, startedAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return "", s.startErr
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return "", types.NewAppError(types.ErrCodeNotFoundScheduledJob, "scheduled job not found", nil)
	}
	j.LastRun = &startedAt
	s.seq++
	id := fmt.Sprintf("exec-%d", s.seq)
	s.execs[id] = &types.JobExecution{ID: id, JobID: jobID, Status: types.ExecutionRunning, StartedAt: startedAt}
	return id, nil
}

func (s *memStore) Get(_ context.Context, id string) (*types.JobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundExecution, "execution not found", nil)
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) Complete(_ context.Context, id string, out db.ExecutionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[id]
	if !ok || e.Status != types.ExecutionRunning {
		return types.NewAppError(types.ErrCodeConflictJobState, "execution is not running", nil)
	}
	e.Status = out.Status
	e.CompletedAt = &out.CompletedAt
	e.DurationMs = &out.DurationMs
	e.Result = out.Result
	e.Error = out.Error
	return nil
}

func (s *memStore) executionsFor(jobID string) []types.JobExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.JobExecution
	for _, e := range s.execs {
		if e.JobID == jobID {
			out = append(out, *e)
		}
	}
	return out
}

func (s *memStore) job(id string) types.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
	err      error
}

func (l *fakeLocker) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLocker) Release(context.Context, string, string) error {
	l.released++
	return nil
}

type recordingMetrics struct {
	mu    sync.Mutex
	ticks []string
	execs map[types.ExecutionStatus]int
}

func (m *recordingMetrics) RecordTick(outcome string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = append(m.ticks, outcome)
}

func (m *recordingMetrics) RecordExecution(_ string, status types.ExecutionStatus, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.execs == nil {
		m.execs = make(map[types.ExecutionStatus]int)
	}
	m.execs[status]++
}
