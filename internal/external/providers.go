package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"inzikt/internal/types"
)

// ConnectionStore loads a user's helpdesk connection.
type ConnectionStore interface {
	Get(ctx context.Context, userID string, provider types.Provider) (*types.ProviderConnection, error)
}

// CredentialOpener decrypts sealed connection credentials.
type CredentialOpener interface {
	Open(sealed []byte) ([]byte, error)
}

// Credentials is the sealed JSON document stored with a connection.
type Credentials struct {
	APIToken string `json:"api_token"`
}

// SourceFactory builds a TicketSource from a user's stored connection. Each
// provider keeps one BaseClient so its breaker is shared across users.
type SourceFactory struct {
	conns      ConnectionStore
	opener     CredentialOpener
	httpClient *http.Client

	freshdesk   *BaseClient
	intercom    *BaseClient
	intercomURL string
}

// NewSourceFactory wires the factory. httpClient should refuse internal
// addresses since connection domains are user supplied.
func NewSourceFactory(conns ConnectionStore, opener CredentialOpener, httpClient *http.Client) *SourceFactory {
	policy := RetryPolicy{MaxRetries: 3, MinWait: time.Second, MaxWait: 20 * time.Second}
	return &SourceFactory{
		conns:      conns,
		opener:     opener,
		httpClient: httpClient,
		freshdesk:  NewBaseClient(httpClient, "freshdesk", policy, types.ErrCodeUpstreamHelpdesk),
		intercom:   NewBaseClient(httpClient, "intercom", policy, types.ErrCodeUpstreamHelpdesk),
	}
}

func (f *SourceFactory) ForUser(ctx context.Context, userID string, provider types.Provider) (types.TicketSource, error) {
	conn, err := f.conns.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	plain, err := f.opener.Open(conn.SealedCredentials)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("cannot open %s credentials", provider), err)
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil || creds.APIToken == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParameter,
			fmt.Sprintf("stored %s credentials are incomplete", provider), err)
	}

	switch provider {
	case types.ProviderZendesk:
		src, err := NewZendeskSource(f.httpClient, userID, ZendeskOptions{
			Domain:   conn.Domain,
			Email:    conn.Email,
			APIToken: creds.APIToken,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case types.ProviderFreshdesk:
		return NewFreshdeskSource(f.freshdesk, userID, conn.Domain, creds.APIToken), nil
	case types.ProviderIntercom:
		return NewIntercomSource(f.intercom, f.intercomURL, userID, creds.APIToken), nil
	default:
		return nil, types.NewAppError(types.ErrCodeValidationUnknownProvider,
			fmt.Sprintf("unknown provider %q", provider), nil)
	}
}
