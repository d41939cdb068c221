package db

import (
	"context"

	"inzikt/internal/types"
)

// ProviderConnectionRepository stores per-user helpdesk credentials. The
// credentials column only ever holds sealed bytes.
type ProviderConnectionRepository struct {
	db DBTX
}

func NewProviderConnectionRepository(db DBTX) *ProviderConnectionRepository {
	return &ProviderConnectionRepository{db: db}
}

func (r *ProviderConnectionRepository) Get(ctx context.Context, userID string, provider types.Provider) (*types.ProviderConnection, error) {
	c := types.ProviderConnection{UserID: userID, Provider: provider}
	var email *string
	err := r.db.QueryRow(ctx,
		`SELECT domain, email, sealed_credentials
		 FROM provider_connections
		 WHERE user_id = $1 AND provider = $2`,
		userID, string(provider),
	).Scan(&c.Domain, &email, &c.SealedCredentials)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundConnection,
				"no "+string(provider)+" connection configured", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load provider connection", err)
	}
	if email != nil {
		c.Email = *email
	}
	return &c, nil
}

func (r *ProviderConnectionRepository) Upsert(ctx context.Context, c *types.ProviderConnection) error {
	var email *string
	if c.Email != "" {
		email = &c.Email
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO provider_connections (user_id, provider, domain, email, sealed_credentials)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, provider) DO UPDATE
		   SET domain = EXCLUDED.domain,
		       email = EXCLUDED.email,
		       sealed_credentials = EXCLUDED.sealed_credentials,
		       updated_at = NOW()`,
		c.UserID, string(c.Provider), c.Domain, email, c.SealedCredentials,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save provider connection", err)
	}
	return nil
}
