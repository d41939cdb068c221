package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inzikt/internal/types"
)

func TestFilter_Matches(t *testing.T) {
	job := &types.AdhocJob{ID: "j1", UserID: "u1", JobType: types.AdhocAnalysis}

	assert.True(t, Filter{JobID: "j1"}.Matches(job))
	assert.False(t, Filter{JobID: "j2"}.Matches(job))
	assert.True(t, Filter{UserID: "u1"}.Matches(job))
	assert.True(t, Filter{UserID: "u1", JobType: types.AdhocAnalysis}.Matches(job))
	assert.False(t, Filter{UserID: "u1", JobType: types.AdhocImport}.Matches(job))
	assert.False(t, Filter{UserID: "u2"}.Matches(job))
}

func TestHub_DeliverAndClose(t *testing.T) {
	hub := NewHub()
	byJob := hub.Subscribe(Filter{JobID: "j1"})
	byUser := hub.Subscribe(Filter{UserID: "u2"})
	require.Equal(t, 2, hub.Len())

	hub.Deliver(types.AdhocJob{ID: "j1", UserID: "u1", Progress: 10})

	got := <-byJob.C
	assert.Equal(t, 10, got.Progress)
	select {
	case j := <-byUser.C:
		t.Fatalf("unexpected delivery %+v", j)
	default:
	}

	byJob.Close()
	byJob.Close()
	assert.Equal(t, 1, hub.Len())
	_, open := <-byJob.C
	assert.False(t, open)
}

func TestHub_SlowSubscriberKeepsNewest(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(Filter{JobID: "j1"})
	defer sub.Close()

	for i := 0; i <= subscriberBuffer+5; i++ {
		hub.Deliver(types.AdhocJob{ID: "j1", Progress: i})
	}

	var last int
	for len(sub.C) > 0 {
		last = (<-sub.C).Progress
	}
	assert.Equal(t, subscriberBuffer+5, last)
}
