package db

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"inzikt/internal/types"
)

// TicketRepository stores imported tickets and their analyses. The raw
// provider payload is kept zstd-compressed so tickets can be re-analyzed
// without refetching.
type TicketRepository struct {
	db      DBTX
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewTicketRepository(db DBTX) *TicketRepository {
	// Neither constructor fails with a nil stream and these options.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("zstd encoder: %v", err))
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic(fmt.Sprintf("zstd decoder: %v", err))
	}
	return &TicketRepository{db: db, encoder: enc, decoder: dec}
}

// Upsert inserts or refreshes a ticket keyed by (user, provider, external id)
// and fills t.ID.
func (r *TicketRepository) Upsert(ctx context.Context, t *types.Ticket) error {
	var raw []byte
	if len(t.Raw) > 0 {
		raw = r.encoder.EncodeAll(t.Raw, nil)
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO tickets (user_id, provider, external_id, subject, description, status,
		                      priority, tags, requester_email, source_created_at, source_updated_at,
		                      raw_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (user_id, provider, external_id) DO UPDATE
		   SET subject = EXCLUDED.subject,
		       description = EXCLUDED.description,
		       status = EXCLUDED.status,
		       priority = EXCLUDED.priority,
		       tags = EXCLUDED.tags,
		       requester_email = EXCLUDED.requester_email,
		       source_updated_at = EXCLUDED.source_updated_at,
		       raw_payload = EXCLUDED.raw_payload,
		       imported_at = NOW()
		 RETURNING id`,
		t.UserID,
		string(t.Provider),
		t.ExternalID,
		t.Subject,
		t.Description,
		t.Status,
		nullIfEmpty(t.Priority),
		tags,
		nullIfEmpty(t.RequesterEmail),
		t.CreatedAt,
		t.UpdatedAt,
		raw,
	).Scan(&t.ID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert ticket", err)
	}
	return nil
}

// CountUnanalyzed returns how many of the user's tickets lack an analysis.
func (r *TicketRepository) CountUnanalyzed(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM tickets t
		 LEFT JOIN ticket_analyses a ON a.ticket_id = t.id
		 WHERE t.user_id = $1 AND a.id IS NULL`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count unanalyzed tickets", err)
	}
	return n, nil
}

// ListUnanalyzed returns up to limit tickets without an analysis, oldest
// import first. Raw payloads are not loaded.
func (r *TicketRepository) ListUnanalyzed(ctx context.Context, userID string, limit int) ([]types.Ticket, error) {
	rows, err := r.db.Query(ctx,
		`SELECT t.id, t.provider, t.external_id, t.subject, t.description, t.status, t.tags
		 FROM tickets t
		 LEFT JOIN ticket_analyses a ON a.ticket_id = t.id
		 WHERE t.user_id = $1 AND a.id IS NULL
		 ORDER BY t.imported_at ASC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unanalyzed tickets", err)
	}
	defer rows.Close()

	var out []types.Ticket
	for rows.Next() {
		t := types.Ticket{UserID: userID}
		var provider string
		if err := rows.Scan(&t.ID, &provider, &t.ExternalID, &t.Subject, &t.Description, &t.Status, &t.Tags); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan ticket", err)
		}
		t.Provider = types.Provider(provider)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating tickets", err)
	}
	return out, nil
}

// RawPayload returns the decompressed provider payload for a ticket, or nil
// when none was stored.
func (r *TicketRepository) RawPayload(ctx context.Context, ticketID string) ([]byte, error) {
	var compressed []byte
	err := r.db.QueryRow(ctx, `SELECT raw_payload FROM tickets WHERE id = $1`, ticketID).Scan(&compressed)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTicket, "ticket not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load ticket payload", err)
	}
	if len(compressed) == 0 {
		return nil, nil
	}
	raw, err := r.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decompress ticket payload", err)
	}
	return raw, nil
}

// SaveAnalysis stores or replaces the analysis of one ticket.
func (r *TicketRepository) SaveAnalysis(ctx context.Context, userID string, a *types.TicketAnalysis) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO ticket_analyses (ticket_id, user_id, summary, tags, sentiment, model)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (ticket_id) DO UPDATE
		   SET summary = EXCLUDED.summary,
		       tags = EXCLUDED.tags,
		       sentiment = EXCLUDED.sentiment,
		       model = EXCLUDED.model`,
		a.TicketID, userID, a.Summary, tags, a.Sentiment, a.Model,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save analysis", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
