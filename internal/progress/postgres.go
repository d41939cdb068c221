package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"inzikt/internal/db"
	"inzikt/internal/types"
)

// ConnAcquirer hands out a dedicated connection for LISTEN.
type ConnAcquirer interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// PostgresBroker publishes with pg_notify and receives with LISTEN on one
// pooled connection held for the life of Run.
type PostgresBroker struct {
	db       db.DBTX
	pool     ConnAcquirer
	channel  string
	hub      *Hub
	logger   *slog.Logger
	maxRetry time.Duration
}

func NewPostgresBroker(dbtx db.DBTX, pool ConnAcquirer, channel string, hub *Hub, logger *slog.Logger) *PostgresBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresBroker{
		db:       dbtx,
		pool:     pool,
		channel:  channel,
		hub:      hub,
		logger:   logger,
		maxRetry: 30 * time.Second,
	}
}

func (b *PostgresBroker) Publish(ctx context.Context, job *types.AdhocJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	if _, err := b.db.Exec(ctx, `SELECT pg_notify($1, $2)`, b.channel, string(payload)); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to publish job update", err)
	}
	return nil
}

// Run listens until ctx ends, reconnecting with exponential backoff when the
// connection drops.
func (b *PostgresBroker) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = b.maxRetry
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		err := b.listen(ctx, policy.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		b.logger.WarnContext(ctx, "progress listener disconnected", "error", err, "retry_in", wait.String())
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *PostgresBroker) listen(ctx context.Context, connected func()) error {
	pooled, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// A connection that was LISTENing must not go back to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		return err
	}
	connected()
	b.logger.InfoContext(ctx, "listening for job updates", "channel", b.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		b.handle(ctx, n)
	}
}

func (b *PostgresBroker) handle(ctx context.Context, n *pgconn.Notification) {
	job, err := decodeJob([]byte(n.Payload))
	if err != nil {
		b.logger.WarnContext(ctx, "dropping malformed job notification", "channel", n.Channel, "error", err)
		return
	}
	b.hub.Deliver(job)
}
