package progress

import (
	"context"
	"log/slog"
	"time"

	"inzikt/internal/types"
)

// JobReader loads job rows for snapshots.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*types.AdhocJob, error)
	Latest(ctx context.Context, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error)
}

// Source serves both the poll endpoint and the push channel.
type Source struct {
	jobs         JobReader
	hub          *Hub
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewSource wires a Source. While watching, the store is re-read every
// pollInterval without an event, covering notifications lost between
// processes. Zero disables the re-read.
func NewSource(jobs JobReader, hub *Hub, pollInterval time.Duration, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{jobs: jobs, hub: hub, pollInterval: pollInterval, logger: logger}
}

func (s *Source) load(ctx context.Context, f Filter) (*types.AdhocJob, error) {
	if f.JobID != "" {
		return s.jobs.GetByID(ctx, f.JobID)
	}
	return s.jobs.Latest(ctx, f.UserID, f.JobType)
}

// Current returns the snapshot of the job selected by f.
func (s *Source) Current(ctx context.Context, f Filter) (Snapshot, error) {
	job, err := s.load(ctx, f)
	if err != nil {
		return Snapshot{}, err
	}
	return FromJob(job), nil
}

// Watch calls emit with the current snapshot and then with every update
// until a final snapshot has been emitted, ctx ends or emit fails.
//
// When watching by user, a finished latest job is not emitted; the watch
// waits for the next job of that type instead and then follows it.
func (s *Source) Watch(ctx context.Context, f Filter, emit func(Snapshot) error) error {
	sub := s.hub.Subscribe(f)
	defer sub.Close()

	var last time.Time
	following := f.JobID

	send := func(job *types.AdhocJob) (done bool, err error) {
		if following != "" && job.ID != following {
			return false, nil
		}
		if !last.IsZero() && !job.UpdatedAt.After(last) {
			return false, nil
		}
		snap := FromJob(job)
		if following == "" {
			if snap.Final() {
				return false, nil
			}
			following = job.ID
		}
		last = job.UpdatedAt
		if err := emit(snap); err != nil {
			return true, err
		}
		return snap.Final(), nil
	}

	job, err := s.load(ctx, f)
	switch {
	case err == nil:
		if done, err := send(job); done || err != nil {
			return err
		}
	case f.JobID != "" || !types.IsCode(err, types.ErrCodeNotFoundJob):
		return err
	}

	var tick <-chan time.Time
	if s.pollInterval > 0 {
		t := time.NewTicker(s.pollInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-sub.C:
			if !ok {
				return nil
			}
			if done, err := send(&job); done || err != nil {
				return err
			}
		case <-tick:
			lf := f
			if following != "" {
				lf = Filter{JobID: following}
			}
			job, err := s.load(ctx, lf)
			if err != nil {
				if !types.IsCode(err, types.ErrCodeNotFoundJob) {
					s.logger.WarnContext(ctx, "progress re-read failed", "error", err)
				}
				continue
			}
			if done, err := send(job); done || err != nil {
				return err
			}
		}
	}
}
