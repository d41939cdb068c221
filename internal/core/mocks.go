package core

import (
	"context"
	"sync"
	"time"

	"inzikt/internal/types"
)

// MockAuthenticator implements Authenticator for handler and middleware
// tests. ResolveTokenFunc wins over Actor and Err when set.
//
//	mock := &MockAuthenticator{
//	    Actor: &types.Actor{ID: "user-1", Type: types.ActorTypeUser, Role: types.RoleMember},
//	}
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu sync.Mutex
	// Calls records every token passed to ResolveToken.
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// MockMetricsCollector records RecordRequest calls.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []RequestMetric
}

// RequestMetric is one recorded RecordRequest call.
type RequestMetric struct {
	Method   string
	Endpoint string
	Status   string
	Duration time.Duration
}

func (m *MockMetricsCollector) RecordRequest(method, endpoint, status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, RequestMetric{Method: method, Endpoint: endpoint, Status: status, Duration: d})
}

// Recorded returns a copy of the calls so far.
func (m *MockMetricsCollector) Recorded() []RequestMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RequestMetric(nil), m.Calls...)
}

// MockHealthProbe returns Err from Check, optionally after Delay.
type MockHealthProbe struct {
	ProbeName string
	Err       error
	Delay     time.Duration
}

func (m *MockHealthProbe) Name() string { return m.ProbeName }

func (m *MockHealthProbe) Check(ctx context.Context) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Err
}

var (
	_ Authenticator    = (*MockAuthenticator)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
	_ HealthProbe      = (*MockHealthProbe)(nil)
)
