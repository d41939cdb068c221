package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	"inzikt/internal/types"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base, _ := newTestClient(fastPolicy(1), types.ErrCodeUpstreamStripe)
	c := NewStripeClient(base, StripeClientConfig{
		SecretKey: "sk_test_123",
		EventName: "analyzed_tickets",
		BaseURL:   server.URL,
		Logger:    discardLogger(),
	})
	c.now = func() time.Time { return time.Unix(1704103200, 0).UTC() }
	return c
}

func TestReportUsage_SendsMeterEvent(t *testing.T) {
	var form url.Values
	var headers http.Header
	var path string
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		headers = r.Header.Clone()
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"object":"billing.meter_event"}`))
	})

	err := c.ReportUsage(context.Background(), types.UsageRecord{
		UserID:           "user-1",
		StripeCustomerID: "cus_42",
		Quantity:         17,
		ThroughID:        905,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/billing/meter_events", path)
	assert.Equal(t, "Bearer sk_test_123", headers.Get("Authorization"))
	assert.Equal(t, stripe.APIVersion, headers.Get("Stripe-Version"))
	assert.Equal(t, "analyzed_tickets", form.Get("event_name"))
	assert.Equal(t, "usage_user-1_905", form.Get("identifier"))
	assert.Equal(t, "1704103200", form.Get("timestamp"))
	assert.Equal(t, "cus_42", form.Get("payload[stripe_customer_id]"))
	assert.Equal(t, "17", form.Get("payload[value]"))
}

func TestReportUsage_SkipsEmptyAndRejectsMissingCustomer(t *testing.T) {
	called := false
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	err := c.ReportUsage(context.Background(), types.UsageRecord{UserID: "u", StripeCustomerID: "cus_1"})
	assert.NoError(t, err)

	err = c.ReportUsage(context.Background(), types.UsageRecord{UserID: "u", Quantity: 3})
	assert.True(t, types.IsCode(err, types.ErrCodeValidationMissingField))
	assert.False(t, called)
}

func TestReportUsage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   types.ErrorCode
	}{
		{
			name:   "unknown customer",
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"invalid_request_error","message":"No such customer","param":"payload[stripe_customer_id]"}}`,
			want:   types.ErrCodeValidationInvalidParameter,
		},
		{
			name:   "other bad request",
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"invalid_request_error","message":"Missing event_name"}}`,
			want:   types.ErrCodeUpstreamStripe,
		},
		{
			name:   "non json",
			status: http.StatusBadRequest,
			body:   `<html>bad gateway</html>`,
			want:   types.ErrCodeUpstreamStripe,
		},
		{
			name:   "rate limited after retries",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"type":"api_error","message":"slow down"}}`,
			want:   types.ErrCodeUpstreamRateLimited,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			err := c.ReportUsage(context.Background(), types.UsageRecord{UserID: "u", StripeCustomerID: "cus_x", Quantity: 1})
			require.Error(t, err)
			assert.True(t, types.IsCode(err, tt.want), "got %v", err)
		})
	}
}
