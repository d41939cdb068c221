package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"inzikt/internal/types"
)

// recordWaits collects the waits BaseClient asks for without sleeping.
type recordWaits struct {
	waits []time.Duration
}

func (r *recordWaits) wait(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, MinWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond}
}

func newTestClient(policy RetryPolicy, code types.ErrorCode) (*BaseClient, *recordWaits) {
	w := &recordWaits{}
	return NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "test", policy, code, WithWaitFunc(w.wait)), w
}

func mustRequest(t *testing.T, ctx context.Context, method, url, body string) *http.Request {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return req
}

func TestDo_SuccessSetsHeaders(t *testing.T) {
	var gotTrace, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get("X-B3-TraceId")
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, _ := newTestClient(DefaultRetryPolicy(), types.ErrCodeUpstreamHelpdesk)
	ctx := types.WithRequestID(context.Background(), "req-123")

	resp, err := client.Do(mustRequest(t, ctx, http.MethodGet, server.URL, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if gotTrace != "req-123" {
		t.Errorf("expected trace id req-123, got %q", gotTrace)
	}
	if gotAgent != userAgent {
		t.Errorf("expected user agent %q, got %q", userAgent, gotAgent)
	}
}

func TestDo_RetriesOn5xxAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, waits := newTestClient(fastPolicy(3), types.ErrCodeUpstreamHelpdesk)
	resp, err := client.Do(mustRequest(t, context.Background(), http.MethodPost, server.URL, `{"a":1}`))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	if len(waits.waits) != 2 {
		t.Errorf("expected 2 waits, got %d", len(waits.waits))
	}
	for i, b := range bodies {
		if b != `{"a":1}` {
			t.Errorf("attempt %d sent body %q", i+1, b)
		}
	}
}

func TestDo_ExhaustedRetriesMapByStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   types.ErrorCode
	}{
		{"server error", http.StatusServiceUnavailable, types.ErrCodeUpstreamUnavailable},
		{"rate limited", http.StatusTooManyRequests, types.ErrCodeUpstreamRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client, _ := newTestClient(fastPolicy(2), types.ErrCodeUpstreamOpenAI)
			_, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))
			if !types.IsCode(err, tt.want) {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
			if calls.Load() != 3 {
				t.Errorf("expected 3 attempts, got %d", calls.Load())
			}
		})
	}
}

func TestDo_4xxReturnedWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, _ := newTestClient(fastPolicy(3), types.ErrCodeUpstreamHelpdesk)
	resp, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDo_RetryAfterHonoredAndCapped(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, waits := newTestClient(fastPolicy(1), types.ErrCodeUpstreamHelpdesk)
	resp, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(waits.waits) != 1 || waits.waits[0] != 100*time.Millisecond {
		t.Errorf("expected one wait capped at MaxWait, got %v", waits.waits)
	}
}

func TestDo_CanceledWaitStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewBaseClient(&http.Client{}, "test", fastPolicy(5), types.ErrCodeUpstreamHelpdesk,
		WithWaitFunc(func(context.Context, time.Duration) error { return context.Canceled }))

	_, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected retries to stop after the canceled wait, got %d calls", calls.Load())
	}
}

func TestDo_NetworkErrorUsesClientCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, _ := newTestClient(fastPolicy(1), types.ErrCodeUpstreamOpenAI)
	_, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, url, ""))

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamOpenAI {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamOpenAI, appErr.Code)
	}
}

func TestDo_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := newTestClient(fastPolicy(0), types.ErrCodeUpstreamHelpdesk)
	for i := 0; i < 6; i++ {
		_, _ = client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))
	}
	before := calls.Load()

	_, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))
	if !types.IsCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Fatalf("expected %s, got %v", types.ErrCodeUpstreamUnavailable, err)
	}
	if !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Errorf("unexpected message: %v", err)
	}
	if calls.Load() != before {
		t.Errorf("expected no server call while open")
	}
}

func TestComputeBackoff_Bounds(t *testing.T) {
	client, _ := newTestClient(RetryPolicy{MaxRetries: 5, MinWait: 100 * time.Millisecond, MaxWait: time.Second}, types.ErrCodeUpstreamHelpdesk)
	for attempt := 0; attempt < 8; attempt++ {
		d := client.computeBackoff(attempt, nil)
		if d < 100*time.Millisecond || d > time.Second {
			t.Errorf("attempt %d: backoff %s outside [100ms, 1s]", attempt, d)
		}
	}
}
