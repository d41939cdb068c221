package core

import (
	"context"

	"inzikt/internal/types"
)

// Authenticator decouples the HTTP layer from the token format.
type Authenticator interface {
	// ResolveToken returns the Actor for a bearer token, or an AppError
	// with auth_token_invalid or auth_token_expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// HealthProbe is a dependency that must be reachable for the service to work.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// PingFunc adapts a ping method (pgxpool.Pool.Ping, redis Ping) to a probe.
type PingFunc struct {
	ProbeName string
	Ping      func(ctx context.Context) error
}

func (p PingFunc) Name() string { return p.ProbeName }

func (p PingFunc) Check(ctx context.Context) error { return p.Ping(ctx) }
