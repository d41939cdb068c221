package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"inzikt/internal/types"
)

// TicketWriter stores imported tickets.
type TicketWriter interface {
	Upsert(ctx context.Context, t *types.Ticket) error
}

// ImportWork fetches the user's tickets from the job's provider and stores
// them, checkpointing after each ticket. parameters.limit caps the fetch.
func ImportWork(sources types.TicketSourceFactory, tickets TicketWriter) Work {
	return func(ctx context.Context, job *types.AdhocJob, r *Reporter) error {
		if job.Provider == nil {
			return errors.New("import job has no provider")
		}
		provider := *job.Provider

		if err := r.Checkpoint(ctx, Checkpoint{Stage: StageScanning}); err != nil {
			return err
		}
		source, err := sources.ForUser(ctx, job.UserID, provider)
		if err != nil {
			return fmt.Errorf("open %s connection: %w", provider, err)
		}
		fetched, err := source.FetchTickets(ctx, job.Parameters.Int("limit", 0))
		if err != nil {
			return fmt.Errorf("fetch %s tickets: %w", provider, err)
		}

		total := len(fetched)
		if err := r.Checkpoint(ctx, Checkpoint{Total: total, Stage: StageImporting}); err != nil {
			return err
		}
		for i := range fetched {
			t := &fetched[i]
			t.UserID = job.UserID
			t.Provider = provider
			if err := tickets.Upsert(ctx, t); err != nil {
				return err
			}
			if err := r.Checkpoint(ctx, Checkpoint{
				Processed:     i + 1,
				Total:         total,
				Stage:         StageImporting,
				CurrentTicket: t.Subject,
			}); err != nil {
				return err
			}
		}
		return nil
	}
}

// AnalysisStore lists tickets awaiting analysis and stores results.
type AnalysisStore interface {
	CountUnanalyzed(ctx context.Context, userID string) (int, error)
	ListUnanalyzed(ctx context.Context, userID string, limit int) ([]types.Ticket, error)
	SaveAnalysis(ctx context.Context, userID string, a *types.TicketAnalysis) error
}

// AnalysisWork analyzes up to parameters.limit (default batch) unanalyzed
// tickets. A ticket the analyzer rejects is skipped; the job fails only when
// every ticket failed.
func AnalysisWork(store AnalysisStore, analyzer types.TicketAnalyzer, batch int, logger *slog.Logger) Work {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, job *types.AdhocJob, r *Reporter) error {
		if err := r.Checkpoint(ctx, Checkpoint{Stage: StageScanning}); err != nil {
			return err
		}
		limit := job.Parameters.Int("limit", batch)
		if limit <= 0 {
			limit = batch
		}
		pending, err := store.CountUnanalyzed(ctx, job.UserID)
		if err != nil {
			return err
		}
		total := min(pending, limit)
		if total == 0 {
			return nil
		}
		list, err := store.ListUnanalyzed(ctx, job.UserID, total)
		if err != nil {
			return err
		}
		total = len(list)

		var failed int
		var lastErr error
		for i, t := range list {
			if err := r.Checkpoint(ctx, Checkpoint{
				Processed:     i,
				Total:         total,
				Stage:         StageProcessing,
				CurrentTicket: t.Subject,
			}); err != nil {
				return err
			}
			a, err := analyzer.Analyze(ctx, t)
			if err == nil {
				err = store.SaveAnalysis(ctx, job.UserID, a)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed++
				lastErr = err
				logger.WarnContext(ctx, "ticket analysis failed", "job_id", job.ID, "ticket_id", t.ID, "error", err)
			}
		}
		if failed == total {
			return fmt.Errorf("all %d ticket analyses failed: %w", total, lastErr)
		}
		return r.Checkpoint(ctx, Checkpoint{Processed: total, Total: total, Stage: StageProcessing})
	}
}
