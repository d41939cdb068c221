package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"inzikt/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	// EventName is the billing meter event name analyzed tickets are
	// reported under.
	EventName string
	BaseURL   string
	Logger    *slog.Logger
}

// StripeClient reports analyzed-ticket usage as billing meter events. Calls
// go through BaseClient so Stripe shares the platform's retry and breaker
// handling.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	eventName string
	baseURL   string
	logger    *slog.Logger
	now       func() time.Time
}

func NewStripeClient(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		eventName: cfg.EventName,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ReportUsage sends one meter event for rec. The identifier is derived from
// the user and the last analysis included, so a retried report after a
// failed acknowledgement is deduplicated by Stripe.
func (s *StripeClient) ReportUsage(ctx context.Context, rec types.UsageRecord) error {
	if rec.StripeCustomerID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("user %s has no stripe customer", rec.UserID), nil)
	}
	if rec.Quantity <= 0 {
		return nil
	}

	params := url.Values{}
	params.Set("event_name", s.eventName)
	params.Set("identifier", meterIdentifier(rec))
	params.Set("timestamp", strconv.FormatInt(s.now().Unix(), 10))
	params.Set("payload[stripe_customer_id]", rec.StripeCustomerID)
	params.Set("payload[value]", strconv.Itoa(rec.Quantity))

	resp, err := s.doPost(ctx, "/v1/billing/meter_events", params)
	if err != nil {
		return s.wrapStripeError("ReportUsage", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "ReportUsage")
	}

	s.logger.InfoContext(ctx, "usage reported to stripe",
		"user_id", rec.UserID,
		"quantity", rec.Quantity,
		"through_id", rec.ThroughID,
	)
	return nil
}

func meterIdentifier(rec types.UsageRecord) string {
	return fmt.Sprintf("usage_%s_%d", rec.UserID, rec.ThroughID)
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	return s.base.Do(req)
}

// stripeErrorResponse is the JSON error envelope returned by the Stripe API.
type stripeErrorResponse struct {
	Error *stripe.Error `json:"error"`
}

// handleErrorResponse reads a Stripe error response and maps it to a
// types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and the body was unreadable", operation, resp.StatusCode),
			readErr)
	}

	var envelope stripeErrorResponse
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with a non-JSON body", operation, resp.StatusCode),
			err)
	}
	envelope.Error.HTTPStatusCode = resp.StatusCode
	return s.mapStripeError(operation, envelope.Error)
}

func (s *StripeClient) mapStripeError(operation string, se *stripe.Error) error {
	details := map[string]any{
		"stripe_type": string(se.Type),
		"stripe_code": string(se.Code),
	}
	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation), se)
	case se.HTTPStatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, se.Msg), se)
	case se.Type == stripe.ErrorTypeInvalidRequest && se.Param == "payload[stripe_customer_id]":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidParameter,
			fmt.Sprintf("%s: %s", operation, se.Msg), se, details)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, se.HTTPStatusCode, se.Msg), se, details)
	}
}

// wrapStripeError passes BaseClient AppErrors through and wraps anything
// else.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err), err)
}
