package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"inzikt/internal/db"
	"inzikt/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memJobStore mirrors the guarded transitions of the ad-hoc job repository.
type memJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*types.AdhocJob
	order  []string
	seq    int
	now    time.Time
	states map[string][]types.AdhocStatus
}

func newMemJobStore() *memJobStore {
	return &memJobStore{
		jobs:   make(map[string]*types.AdhocJob),
		states: make(map[string][]types.AdhocStatus),
		now:    time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (s *memJobStore) tick() time.Time {
	s.now = s.now.Add(time.Second)
	return s.now
}

func (s *memJobStore) set(j *types.AdhocJob, status types.AdhocStatus) {
	j.Status = status
	j.UpdatedAt = s.tick()
	s.states[j.ID] = append(s.states[j.ID], status)
}

func (s *memJobStore) history(id string) []types.AdhocStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AdhocStatus(nil), s.states[id]...)
}

func (s *memJobStore) snapshot(id string) types.AdhocJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memJobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *memJobStore) activeLocked(userID string, jobType types.AdhocJobType) *types.AdhocJob {
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.jobs[s.order[i]]
		if j.UserID == userID && j.JobType == jobType && j.Status.IsActive() {
			return j
		}
	}
	return nil
}

func (s *memJobStore) Claim(_ context.Context, userID string, jobType types.AdhocJobType, provider *types.Provider, params types.JobParams) (*types.AdhocJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.activeLocked(userID, jobType); j != nil {
		cp := *j
		return &cp, false, nil
	}
	s.seq++
	j := &types.AdhocJob{
		ID:         fmt.Sprintf("job-%d", s.seq),
		UserID:     userID,
		JobType:    jobType,
		Provider:   provider,
		Parameters: params,
		CreatedAt:  s.tick(),
	}
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	s.set(j, types.AdhocPending)
	cp := *j
	return &cp, true, nil
}

func (s *memJobStore) FindActive(_ context.Context, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.activeLocked(userID, jobType); j != nil {
		cp := *j
		return &cp, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
}

func (s *memJobStore) Latest(_ context.Context, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.jobs[s.order[i]]
		if j.UserID == userID && j.JobType == jobType {
			cp := *j
			return &cp, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
}

func (s *memJobStore) GetByID(_ context.Context, id string) (*types.AdhocJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	cp := *j
	return &cp, nil
}

// guarded applies fn when the job is in one of from, else returns the
// current row with db.ErrJobInactive.
func (s *memJobStore) guarded(id string, fn func(j *types.AdhocJob), from ...types.AdhocStatus) (*types.AdhocJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	for _, st := range from {
		if j.Status == st {
			fn(j)
			cp := *j
			return &cp, nil
		}
	}
	cp := *j
	return &cp, db.ErrJobInactive
}

func (s *memJobStore) MarkProcessing(_ context.Context, id string) (*types.AdhocJob, error) {
	return s.guarded(id, func(j *types.AdhocJob) {
		stage := "scanning"
		j.Stage = &stage
		s.set(j, types.AdhocProcessing)
	}, types.AdhocPending)
}

func (s *memJobStore) UpdateProgress(_ context.Context, id string, u db.ProgressUpdate) (*types.AdhocJob, error) {
	return s.guarded(id, func(j *types.AdhocJob) {
		j.ProcessedCount = u.Processed
		j.TotalTickets = u.Total
		j.Progress = types.ClampProgress(u.Progress)
		if u.Stage != nil {
			j.Stage = u.Stage
		}
		if u.CurrentTicket != nil {
			j.CurrentTicket = u.CurrentTicket
		}
		j.UpdatedAt = s.tick()
	}, types.AdhocProcessing)
}

func (s *memJobStore) Complete(_ context.Context, id string) (*types.AdhocJob, error) {
	return s.guarded(id, func(j *types.AdhocJob) {
		stage := "completed"
		j.Stage = &stage
		j.Progress = 100
		j.IsCompleted = true
		j.CurrentTicket = nil
		at := s.now
		j.CompletedAt = &at
		s.set(j, types.AdhocCompleted)
	}, types.AdhocProcessing)
}

func (s *memJobStore) Fail(_ context.Context, id string, message string) (*types.AdhocJob, error) {
	return s.guarded(id, func(j *types.AdhocJob) {
		stage := "failed"
		j.Stage = &stage
		j.ErrorMessage = &message
		s.set(j, types.AdhocFailed)
	}, types.AdhocPending, types.AdhocProcessing)
}

func (s *memJobStore) Cancel(_ context.Context, id string) (*types.AdhocJob, error) {
	return s.guarded(id, func(j *types.AdhocJob) {
		stage := "canceled"
		j.Stage = &stage
		s.set(j, types.AdhocCanceled)
	}, types.AdhocPending, types.AdhocProcessing)
}

func (s *memJobStore) ReapStale(_ context.Context, cutoff time.Time, message string) ([]types.AdhocJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.AdhocJob
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status.IsActive() && j.UpdatedAt.Before(cutoff) {
			msg := message
			j.ErrorMessage = &msg
			s.set(j, types.AdhocFailed)
			out = append(out, *j)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.AdhocJob
}

func (p *recordingPublisher) Publish(_ context.Context, job *types.AdhocJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *job)
	return nil
}

func (p *recordingPublisher) progressFor(id string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for _, e := range p.events {
		if e.ID == id {
			out = append(out, e.Progress)
		}
	}
	return out
}

func (p *recordingPublisher) last(id string) (types.AdhocJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].ID == id {
			return p.events[i], true
		}
	}
	return types.AdhocJob{}, false
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []Task
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, task Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

type staticSource struct {
	tickets []types.Ticket
	err     error
	limit   int
}

func (s *staticSource) FetchTickets(_ context.Context, limit int) ([]types.Ticket, error) {
	s.limit = limit
	if s.err != nil {
		return nil, s.err
	}
	return append([]types.Ticket(nil), s.tickets...), nil
}

type staticFactory struct {
	source *staticSource
	err    error
}

func (f *staticFactory) ForUser(context.Context, string, types.Provider) (types.TicketSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.source, nil
}

type memTickets struct {
	mu      sync.Mutex
	saved   []types.Ticket
	onWrite func(n int)
}

func (m *memTickets) Upsert(_ context.Context, t *types.Ticket) error {
	m.mu.Lock()
	m.saved = append(m.saved, *t)
	n := len(m.saved)
	t.ID = fmt.Sprintf("t-%d", n)
	hook := m.onWrite
	m.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func ticketsNamed(names ...string) []types.Ticket {
	out := make([]types.Ticket, len(names))
	for i, n := range names {
		out[i] = types.Ticket{ExternalID: fmt.Sprintf("ext-%d", i+1), Subject: n}
	}
	return out
}

var errBoom = errors.New("boom")
