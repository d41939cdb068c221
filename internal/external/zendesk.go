package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nukosuke/go-zendesk/zendesk"

	"inzikt/internal/types"
)

const (
	zendeskPageSize      = 100
	zendeskMaxRetries    = 3
	zendeskRetryBackoff  = time.Second
	maxWaitForRetryAfter = 30 * time.Second
)

// ZendeskOptions configures a Zendesk ticket source.
type ZendeskOptions struct {
	// Domain is the account subdomain ("acme") or its full host
	// ("acme.zendesk.com").
	Domain   string
	Email    string
	APIToken string
	// EndpointURL replaces the subdomain-derived API root. Tests point it
	// at an httptest server.
	EndpointURL string
}

// ZendeskSource fetches tickets with go-zendesk.
type ZendeskSource struct {
	client *zendesk.Client
	userID string
	sleep  func(time.Duration)
}

func NewZendeskSource(httpClient *http.Client, userID string, opts ZendeskOptions) (*ZendeskSource, error) {
	client, err := zendesk.NewClient(httpClient)
	if err != nil {
		return nil, err
	}
	if opts.EndpointURL != "" {
		if err := client.SetEndpointURL(opts.EndpointURL); err != nil {
			return nil, fmt.Errorf("zendesk endpoint: %w", err)
		}
	} else {
		if err := client.SetSubdomain(zendeskSubdomain(opts.Domain)); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidParameter,
				fmt.Sprintf("invalid zendesk domain %q", opts.Domain), err)
		}
	}
	client.SetCredential(zendesk.NewAPITokenCredential(opts.Email, opts.APIToken))
	return &ZendeskSource{client: client, userID: userID, sleep: time.Sleep}, nil
}

func zendeskSubdomain(domain string) string {
	d := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://"), "/")
	sub, _, _ := strings.Cut(d, ".")
	return sub
}

// FetchTickets pages through the account's tickets, newest update first,
// until limit tickets are collected or the pages run out.
func (z *ZendeskSource) FetchTickets(ctx context.Context, limit int) ([]types.Ticket, error) {
	var out []types.Ticket
	opts := &zendesk.TicketListOptions{
		PageOptions: zendesk.PageOptions{PerPage: zendeskPageSize, Page: 1},
		SortBy:      "updated_at",
		SortOrder:   "desc",
	}
	for {
		var tickets []zendesk.Ticket
		var page zendesk.Page
		err := z.withRetry(ctx, func() error {
			var err error
			tickets, page, err = z.client.GetTickets(ctx, opts)
			return err
		})
		if err != nil {
			return nil, mapZendeskError(err)
		}

		for _, t := range tickets {
			out = append(out, z.normalize(t))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if page.NextPage == nil || len(tickets) == 0 {
			return out, nil
		}
		opts.Page++
	}
}

func (z *ZendeskSource) normalize(t zendesk.Ticket) types.Ticket {
	raw, _ := json.Marshal(t)
	subject := t.Subject
	if subject == "" {
		subject = t.RawSubject
	}
	return types.Ticket{
		UserID:      z.userID,
		Provider:    types.ProviderZendesk,
		ExternalID:  strconv.FormatInt(t.ID, 10),
		Subject:     subject,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Tags:        t.Tags,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Raw:         raw,
	}
}

// withRetry retries network errors, 5xx and short 429 waits.
func (z *ZendeskSource) withRetry(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return err
		}

		var zErr zendesk.Error
		if errors.As(err, &zErr) {
			status := zErr.Status()
			if status >= http.StatusInternalServerError {
				return err
			}
			if status == http.StatusTooManyRequests {
				secs, perr := strconv.ParseInt(zErr.Headers().Get("Retry-After"), 10, 0)
				if perr == nil && time.Duration(secs)*time.Second < maxWaitForRetryAfter {
					z.sleep(time.Duration(secs) * time.Second)
					return err
				}
			}
		}
		return backoff.Permanent(err)
	}

	boff := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(zendeskRetryBackoff), zendeskMaxRetries),
		ctx,
	)
	return backoff.Retry(op, boff)
}

func mapZendeskError(err error) error {
	var zErr zendesk.Error
	if errors.As(err, &zErr) {
		switch status := zErr.Status(); {
		case status == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "zendesk rate limit exceeded", err)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return types.NewAppErrorWithDetails(types.ErrCodeUpstreamHelpdesk,
				"zendesk rejected the configured credentials", err, map[string]any{"status": status})
		case status >= 500:
			return types.NewAppError(types.ErrCodeUpstreamUnavailable, "zendesk is unavailable", err)
		}
	}
	return types.NewAppError(types.ErrCodeUpstreamHelpdesk, "zendesk request failed", err)
}
