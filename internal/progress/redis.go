package progress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"inzikt/internal/types"
)

// RedisBroker fans job rows out through Redis pub/sub.
type RedisBroker struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger
	ready   chan struct{}
}

// NewRedisClient parses url (redis://...) into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("progress: parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisBroker(client *redis.Client, channel string, hub *Hub, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, job *types.AdhocJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("progress: redis publish: %w", err)
	}
	return nil
}

// Ready is closed once the subscription is confirmed.
func (b *RedisBroker) Ready() <-chan struct{} { return b.ready }

// Run subscribes until ctx ends. go-redis reconnects the subscription on its
// own.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("progress: redis subscribe: %w", err)
	}
	close(b.ready)
	b.logger.InfoContext(ctx, "subscribed to job updates", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			job, err := decodeJob([]byte(msg.Payload))
			if err != nil {
				b.logger.WarnContext(ctx, "dropping malformed job message", "error", err)
				continue
			}
			b.hub.Deliver(job)
		}
	}
}
