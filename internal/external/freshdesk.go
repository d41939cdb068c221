package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"inzikt/internal/types"
)

const freshdeskPageSize = 100

var freshdeskStatuses = map[int]string{
	2: "open",
	3: "pending",
	4: "resolved",
	5: "closed",
}

var freshdeskPriorities = map[int]string{
	1: "low",
	2: "medium",
	3: "high",
	4: "urgent",
}

type freshdeskTicket struct {
	ID              int64     `json:"id"`
	Subject         string    `json:"subject"`
	DescriptionText string    `json:"description_text"`
	Status          int       `json:"status"`
	Priority        int       `json:"priority"`
	Tags            []string  `json:"tags"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Requester       *struct {
		Email string `json:"email"`
	} `json:"requester,omitempty"`
}

// FreshdeskSource fetches tickets from the Freshdesk v2 REST API.
type FreshdeskSource struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	userID  string
}

// NewFreshdeskSource targets https://<domain>.freshdesk.com unless domain
// already carries a scheme, as it does in tests.
func NewFreshdeskSource(base *BaseClient, userID, domain, apiKey string) *FreshdeskSource {
	baseURL := strings.TrimSuffix(domain, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		if !strings.Contains(baseURL, ".") {
			baseURL += ".freshdesk.com"
		}
		baseURL = "https://" + baseURL
	}
	return &FreshdeskSource{base: base, baseURL: baseURL, apiKey: apiKey, userID: userID}
}

func (f *FreshdeskSource) FetchTickets(ctx context.Context, limit int) ([]types.Ticket, error) {
	var out []types.Ticket
	for page := 1; ; page++ {
		batch, err := f.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, raw := range batch {
			t, err := f.normalize(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if len(batch) < freshdeskPageSize {
			return out, nil
		}
	}
}

func (f *FreshdeskSource) fetchPage(ctx context.Context, page int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(freshdeskPageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("order_by", "updated_at")
	q.Set("order_type", "desc")
	q.Set("include", "description,requester")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/api/v2/tickets?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build freshdesk request", err)
	}
	// Freshdesk takes the API key as the basic-auth user with any password.
	req.SetBasicAuth(f.apiKey, "X")
	req.Header.Set("Accept", "application/json")

	resp, err := f.base.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(types.ErrCodeUpstreamHelpdesk, "freshdesk", resp)
	}
	defer resp.Body.Close()

	var batch []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamHelpdesk, "failed to decode freshdesk tickets", err)
	}
	return batch, nil
}

func (f *FreshdeskSource) normalize(raw json.RawMessage) (types.Ticket, error) {
	var ft freshdeskTicket
	if err := json.Unmarshal(raw, &ft); err != nil {
		return types.Ticket{}, types.NewAppError(types.ErrCodeUpstreamHelpdesk, "malformed freshdesk ticket", err)
	}
	status, ok := freshdeskStatuses[ft.Status]
	if !ok {
		status = fmt.Sprintf("status_%d", ft.Status)
	}
	t := types.Ticket{
		UserID:      f.userID,
		Provider:    types.ProviderFreshdesk,
		ExternalID:  strconv.FormatInt(ft.ID, 10),
		Subject:     ft.Subject,
		Description: ft.DescriptionText,
		Status:      status,
		Priority:    freshdeskPriorities[ft.Priority],
		Tags:        ft.Tags,
		CreatedAt:   &ft.CreatedAt,
		UpdatedAt:   &ft.UpdatedAt,
		Raw:         raw,
	}
	if ft.Requester != nil {
		t.RequesterEmail = ft.Requester.Email
	}
	return t, nil
}
