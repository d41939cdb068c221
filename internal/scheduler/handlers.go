package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inzikt/internal/types"
)

// Job types shipped with the default registry.
const (
	JobTicketSync        = "ticket_sync"
	JobTicketAnalysis    = "ticket_analysis"
	JobStripeUsageSync   = "stripe_usage_sync"
	JobCleanupExecutions = "cleanup_executions"
	JobReapStaleJobs     = "reap_stale_jobs"
)

const (
	defaultRetentionDays = 30
	defaultStaleMinutes  = 30
	usageBatchSize       = 500
)

// JobStarter starts or attaches to an ad-hoc job.
type JobStarter interface {
	Start(ctx context.Context, userID string, jobType types.AdhocJobType, provider *types.Provider, params types.JobParams) (*types.AdhocJob, bool, error)
}

// TicketSyncHandler starts an import for parameters.user_id from
// parameters.provider, attaching to one already running.
func TicketSyncHandler(starter JobStarter) HandlerFunc {
	return func(ctx context.Context, params types.JobParams) (types.JobResult, error) {
		userID, ok := params.String("user_id")
		if !ok {
			return nil, errors.New("ticket_sync requires parameters.user_id")
		}
		raw, _ := params.String("provider")
		provider, ok := types.ParseProvider(raw)
		if !ok {
			return nil, fmt.Errorf("ticket_sync: unknown provider %q", raw)
		}
		return startAdhoc(ctx, starter, userID, types.AdhocImport, &provider, params)
	}
}

// TicketAnalysisHandler starts an analysis run for parameters.user_id.
func TicketAnalysisHandler(starter JobStarter) HandlerFunc {
	return func(ctx context.Context, params types.JobParams) (types.JobResult, error) {
		userID, ok := params.String("user_id")
		if !ok {
			return nil, errors.New("ticket_analysis requires parameters.user_id")
		}
		return startAdhoc(ctx, starter, userID, types.AdhocAnalysis, nil, params)
	}
}

func startAdhoc(ctx context.Context, starter JobStarter, userID string, jobType types.AdhocJobType, provider *types.Provider, params types.JobParams) (types.JobResult, error) {
	job, created, err := starter.Start(ctx, userID, jobType, provider, params)
	if err != nil {
		return nil, err
	}
	return types.JobResult{
		"job_id":   job.ID,
		"attached": !created,
		"status":   string(job.Status),
	}, nil
}

// ExecutionPurger deletes old execution history.
type ExecutionPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupExecutionsHandler deletes executions older than
// parameters.retention_days (default 30).
func CleanupExecutionsHandler(store ExecutionPurger, now func() time.Time) HandlerFunc {
	return func(ctx context.Context, params types.JobParams) (types.JobResult, error) {
		days := params.Int("retention_days", defaultRetentionDays)
		if days <= 0 {
			return nil, fmt.Errorf("retention_days must be positive, got %d", days)
		}
		cutoff := now().Add(-time.Duration(days) * 24 * time.Hour)
		n, err := store.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		return types.JobResult{"purged": n, "cutoff": cutoff.Format(time.RFC3339)}, nil
	}
}

// StaleReaper fails ad-hoc jobs whose progress has stalled.
type StaleReaper interface {
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// ReapStaleJobsHandler fails active ad-hoc jobs without a write
// for parameters.stale_minutes (default 30).
func ReapStaleJobsHandler(reaper StaleReaper) HandlerFunc {
	return func(ctx context.Context, params types.JobParams) (types.JobResult, error) {
		minutes := params.Int("stale_minutes", defaultStaleMinutes)
		if minutes <= 0 {
			return nil, fmt.Errorf("stale_minutes must be positive, got %d", minutes)
		}
		n, err := reaper.ReapStale(ctx, time.Duration(minutes)*time.Minute)
		if err != nil {
			return nil, err
		}
		return types.JobResult{"reaped": n}, nil
	}
}

// UsageStore lists and acknowledges unreported billable usage.
type UsageStore interface {
	Unreported(ctx context.Context, limit int) ([]types.UsageRecord, error)
	MarkReported(ctx context.Context, rec types.UsageRecord) error
}

// UsageReporter sends one usage record to the billing provider.
type UsageReporter interface {
	ReportUsage(ctx context.Context, rec types.UsageRecord) error
}

// StripeUsageSyncHandler reports analyzed-ticket counts per customer. Each
// record is acknowledged only after the provider accepted it, so a failed
// record is retried on the next run.
func StripeUsageSyncHandler(store UsageStore, reporter UsageReporter, logger *slog.Logger) HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ types.JobParams) (types.JobResult, error) {
		records, err := store.Unreported(ctx, usageBatchSize)
		if err != nil {
			return nil, err
		}

		var reported, quantity int
		var errs []error
		for _, rec := range records {
			if err := reporter.ReportUsage(ctx, rec); err != nil {
				logger.WarnContext(ctx, "usage report failed", "user_id", rec.UserID, "error", err)
				errs = append(errs, fmt.Errorf("user %s: %w", rec.UserID, err))
				continue
			}
			if err := store.MarkReported(ctx, rec); err != nil {
				errs = append(errs, fmt.Errorf("user %s: %w", rec.UserID, err))
				continue
			}
			reported++
			quantity += rec.Quantity
		}

		if len(errs) > 0 {
			return nil, fmt.Errorf("%d of %d usage reports failed: %w", len(errs), len(records), errors.Join(errs...))
		}
		return types.JobResult{"customers": reported, "quantity": quantity}, nil
	}
}

// SystemJobs returns the system-owned job definitions seeded at deploy time,
// with next_run computed from now.
func SystemJobs(now time.Time) []types.ScheduledJob {
	defs := []struct {
		jobType string
		freq    types.Frequency
		params  types.JobParams
	}{
		{JobCleanupExecutions, types.FrequencyDaily, types.JobParams{"retention_days": defaultRetentionDays}},
		{JobReapStaleJobs, types.FrequencyHourly, types.JobParams{"stale_minutes": defaultStaleMinutes}},
		{JobStripeUsageSync, types.FrequencyDaily, types.JobParams{}},
	}
	out := make([]types.ScheduledJob, 0, len(defs))
	for _, d := range defs {
		out = append(out, types.ScheduledJob{
			JobType:    d.jobType,
			Frequency:  d.freq,
			NextRun:    ComputeNextRun(d.freq, nil, now),
			Enabled:    true,
			Parameters: d.params,
		})
	}
	return out
}
