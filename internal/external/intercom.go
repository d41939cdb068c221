package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"inzikt/internal/types"
)

const (
	intercomAPIBase  = "https://api.intercom.io"
	intercomVersion  = "2.11"
	intercomPageSize = 50
)

type intercomConversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Priority  string `json:"priority"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Source    struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
		Author  struct {
			Email string `json:"email"`
		} `json:"author"`
	} `json:"source"`
	Tags struct {
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
	} `json:"tags"`
}

type intercomPage struct {
	Conversations []json.RawMessage `json:"conversations"`
	Pages         struct {
		Next *struct {
			StartingAfter string `json:"starting_after"`
		} `json:"next"`
	} `json:"pages"`
}

// IntercomSource reads conversations as tickets.
type IntercomSource struct {
	base        *BaseClient
	baseURL     string
	accessToken string
	userID      string
}

func NewIntercomSource(base *BaseClient, baseURL, userID, accessToken string) *IntercomSource {
	if baseURL == "" {
		baseURL = intercomAPIBase
	}
	return &IntercomSource{
		base:        base,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		userID:      userID,
	}
}

func (s *IntercomSource) FetchTickets(ctx context.Context, limit int) ([]types.Ticket, error) {
	var out []types.Ticket
	cursor := ""
	for {
		page, err := s.fetchPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Conversations {
			t, err := s.normalize(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if page.Pages.Next == nil || page.Pages.Next.StartingAfter == "" || len(page.Conversations) == 0 {
			return out, nil
		}
		cursor = page.Pages.Next.StartingAfter
	}
}

func (s *IntercomSource) fetchPage(ctx context.Context, cursor string) (*intercomPage, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(intercomPageSize))
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/conversations?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build intercom request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Intercom-Version", intercomVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := s.base.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(types.ErrCodeUpstreamHelpdesk, "intercom", resp)
	}
	defer resp.Body.Close()

	var page intercomPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamHelpdesk, "failed to decode intercom conversations", err)
	}
	return &page, nil
}

func (s *IntercomSource) normalize(raw json.RawMessage) (types.Ticket, error) {
	var c intercomConversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return types.Ticket{}, types.NewAppError(types.ErrCodeUpstreamHelpdesk, "malformed intercom conversation", err)
	}
	subject := c.Title
	if subject == "" {
		subject = c.Source.Subject
	}
	tags := make([]string, 0, len(c.Tags.Tags))
	for _, tag := range c.Tags.Tags {
		tags = append(tags, tag.Name)
	}
	created := time.Unix(c.CreatedAt, 0).UTC()
	updated := time.Unix(c.UpdatedAt, 0).UTC()
	t := types.Ticket{
		UserID:         s.userID,
		Provider:       types.ProviderIntercom,
		ExternalID:     c.ID,
		Subject:        subject,
		Description:    c.Source.Body,
		Status:         c.State,
		Tags:           tags,
		RequesterEmail: c.Source.Author.Email,
		CreatedAt:      &created,
		UpdatedAt:      &updated,
		Raw:            raw,
	}
	if c.Priority == "priority" {
		t.Priority = "high"
	}
	return t, nil
}
