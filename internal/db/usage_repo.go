package db

import (
	"context"

	"inzikt/internal/types"
)

// UsageRepository tracks which ticket analyses have been reported to billing.
type UsageRepository struct {
	db DBTX
}

func NewUsageRepository(db DBTX) *UsageRepository {
	return &UsageRepository{db: db}
}

// Unreported groups unreported analyses per billable user. Users without a
// billing customer are skipped until one exists.
func (r *UsageRepository) Unreported(ctx context.Context, limit int) ([]types.UsageRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT a.user_id, c.stripe_customer_id, COUNT(*), MAX(a.id)
		 FROM ticket_analyses a
		 JOIN billing_customers c ON c.user_id = a.user_id
		 WHERE a.reported_at IS NULL
		 GROUP BY a.user_id, c.stripe_customer_id
		 ORDER BY a.user_id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query unreported usage", err)
	}
	defer rows.Close()

	var out []types.UsageRecord
	for rows.Next() {
		var rec types.UsageRecord
		if err := rows.Scan(&rec.UserID, &rec.StripeCustomerID, &rec.Quantity, &rec.ThroughID); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan usage", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating usage", err)
	}
	return out, nil
}

// MarkReported stamps every analysis included in rec.
func (r *UsageRepository) MarkReported(ctx context.Context, rec types.UsageRecord) error {
	_, err := r.db.Exec(ctx,
		`UPDATE ticket_analyses SET reported_at = NOW()
		 WHERE user_id = $1 AND id <= $2 AND reported_at IS NULL`,
		rec.UserID, rec.ThroughID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark usage reported", err)
	}
	return nil
}
