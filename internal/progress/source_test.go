package progress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inzikt/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var baseTime = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

// memReader returns the latest stored row per id.
type memReader struct {
	mu    sync.Mutex
	jobs  map[string]types.AdhocJob
	order []string
}

func newMemReader(jobs ...types.AdhocJob) *memReader {
	r := &memReader{jobs: make(map[string]types.AdhocJob)}
	for _, j := range jobs {
		r.put(j)
	}
	return r
}

func (r *memReader) put(j types.AdhocJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; !ok {
		r.order = append(r.order, j.ID)
	}
	r.jobs[j.ID] = j
}

func (r *memReader) GetByID(_ context.Context, id string) (*types.AdhocJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}
	return &j, nil
}

func (r *memReader) Latest(_ context.Context, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		j := r.jobs[r.order[i]]
		if j.UserID == userID && j.JobType == jobType {
			return &j, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
}

func row(id string, status types.AdhocStatus, progress int, step int) types.AdhocJob {
	return types.AdhocJob{
		ID:        id,
		UserID:    "u1",
		JobType:   types.AdhocImport,
		Status:    status,
		Progress:  progress,
		UpdatedAt: baseTime.Add(time.Duration(step) * time.Second),
	}
}

// collect runs Watch in the background and returns the emitted snapshots
// once it finishes.
func collect(t *testing.T, s *Source, f Filter) (<-chan []Snapshot, <-chan error) {
	t.Helper()
	out := make(chan []Snapshot, 1)
	errc := make(chan error, 1)
	go func() {
		var got []Snapshot
		err := s.Watch(context.Background(), f, func(snap Snapshot) error {
			got = append(got, snap)
			return nil
		})
		out <- got
		errc <- err
	}()
	return out, errc
}

func waitSubscribed(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Len() == n }, time.Second, time.Millisecond)
}

func TestSource_CurrentMatchesFromJob(t *testing.T) {
	job := row("j1", types.AdhocProcessing, 40, 1)
	src := NewSource(newMemReader(job), NewHub(), 0, discardLogger())

	snap, err := src.Current(context.Background(), Filter{JobID: "j1"})
	require.NoError(t, err)
	assert.Equal(t, FromJob(&job), snap)

	_, err = src.Current(context.Background(), Filter{JobID: "nope"})
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundJob))
}

func TestSource_WatchFollowsJobUntilFinal(t *testing.T) {
	hub := NewHub()
	src := NewSource(newMemReader(row("j1", types.AdhocProcessing, 0, 1)), hub, 0, discardLogger())

	out, errc := collect(t, src, Filter{JobID: "j1"})
	waitSubscribed(t, hub, 1)

	hub.Deliver(row("j1", types.AdhocProcessing, 30, 2))
	hub.Deliver(row("j1", types.AdhocProcessing, 30, 2)) // duplicate
	hub.Deliver(row("other", types.AdhocProcessing, 90, 3))
	hub.Deliver(row("j1", types.AdhocProcessing, 65, 4))
	hub.Deliver(row("j1", types.AdhocProcessing, 100, 5))

	got := <-out
	require.NoError(t, <-errc)
	var progress []int
	for _, s := range got {
		progress = append(progress, s.Progress)
	}
	assert.Equal(t, []int{0, 30, 65, 100}, progress)
	assert.True(t, got[len(got)-1].IsCompleted)
	assert.Equal(t, 0, hub.Len(), "subscription closed after the final event")
}

func TestSource_WatchFinishedJobEmitsOnce(t *testing.T) {
	hub := NewHub()
	src := NewSource(newMemReader(row("j1", types.AdhocCanceled, 20, 1)), hub, 0, discardLogger())

	out, errc := collect(t, src, Filter{JobID: "j1"})
	got := <-out
	require.NoError(t, <-errc)
	require.Len(t, got, 1)
	assert.Equal(t, "canceled", got[0].Stage)
}

func TestSource_WatchUnknownJob(t *testing.T) {
	src := NewSource(newMemReader(), NewHub(), 0, discardLogger())
	err := src.Watch(context.Background(), Filter{JobID: "nope"}, func(Snapshot) error { return nil })
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundJob))
}

func TestSource_WatchByUserWaitsForNextJob(t *testing.T) {
	hub := NewHub()
	old := row("old", types.AdhocCompleted, 100, 1)
	src := NewSource(newMemReader(old), hub, 0, discardLogger())

	out, errc := collect(t, src, Filter{UserID: "u1", JobType: types.AdhocImport})
	waitSubscribed(t, hub, 1)

	hub.Deliver(row("new", types.AdhocPending, 0, 2))
	hub.Deliver(row("new", types.AdhocProcessing, 50, 3))
	hub.Deliver(row("new", types.AdhocCompleted, 100, 4))

	got := <-out
	require.NoError(t, <-errc)
	require.Len(t, got, 3)
	for _, s := range got {
		assert.Equal(t, "new", s.JobID)
	}
}

func TestSource_WatchRereadsStore(t *testing.T) {
	hub := NewHub()
	reader := newMemReader(row("j1", types.AdhocProcessing, 10, 1))
	src := NewSource(reader, hub, 5*time.Millisecond, discardLogger())

	out, errc := collect(t, src, Filter{JobID: "j1"})
	waitSubscribed(t, hub, 1)

	// No event is delivered; the periodic re-read picks up the change.
	reader.put(row("j1", types.AdhocFailed, 10, 2))

	select {
	case got := <-out:
		require.NoError(t, <-errc)
		require.Len(t, got, 2)
		assert.Equal(t, types.AdhocFailed, got[1].Status)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe the re-read")
	}
}

func TestSource_WatchStopsOnEmitError(t *testing.T) {
	src := NewSource(newMemReader(row("j1", types.AdhocProcessing, 10, 1)), NewHub(), 0, discardLogger())
	errGone := errors.New("client gone")
	err := src.Watch(context.Background(), Filter{JobID: "j1"}, func(Snapshot) error { return errGone })
	assert.ErrorIs(t, err, errGone)
}

func TestSource_WatchCanceled(t *testing.T) {
	hub := NewHub()
	src := NewSource(newMemReader(row("j1", types.AdhocProcessing, 10, 1)), hub, 0, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- src.Watch(ctx, Filter{JobID: "j1"}, func(Snapshot) error { return nil })
	}()
	waitSubscribed(t, hub, 1)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
