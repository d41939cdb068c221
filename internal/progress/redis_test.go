package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inzikt/internal/types"
)

func TestRedisBroker_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub()
	sub := hub.Subscribe(Filter{JobID: "j1"})
	defer sub.Close()

	broker := NewRedisBroker(client, "adhoc_job_changes", hub, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- broker.Run(ctx) }()

	select {
	case <-broker.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ready")
	}

	job := row("j1", types.AdhocProcessing, 42, 1)
	job.Parameters = types.JobParams{"limit": 5}
	require.NoError(t, broker.Publish(context.Background(), &job))

	select {
	case got := <-sub.C:
		assert.Equal(t, "j1", got.ID)
		assert.Equal(t, 42, got.Progress)
		assert.True(t, got.UpdatedAt.Equal(job.UpdatedAt))
		assert.Nil(t, got.Parameters)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery through redis")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient("http://not-redis")
	assert.Error(t, err)
}

func TestMemoryBroker_DeliversLocally(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(Filter{UserID: "u1"})
	defer sub.Close()

	b := NewMemoryBroker(hub)
	job := row("j1", types.AdhocPending, 0, 1)
	require.NoError(t, b.Publish(context.Background(), &job))
	assert.Equal(t, "j1", (<-sub.C).ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, b.Run(ctx))
}
