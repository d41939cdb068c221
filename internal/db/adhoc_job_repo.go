package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"inzikt/internal/types"
)

// ErrJobInactive is returned, together with the current row, when a write
// that requires an active job finds it already terminal.
var ErrJobInactive = errors.New("adhoc job is no longer active")

// claimAttempts bounds the insert/lookup loop when the active job finishes
// between the conflicting insert and the lookup.
const claimAttempts = 3

const adhocColumns = `id, user_id, job_type, status, provider, progress, total_tickets,
	processed_count, is_completed, stage, current_ticket, error_message, parameters,
	created_at, updated_at, completed_at`

// AdhocJobRepository persists user-triggered import and analysis jobs.
type AdhocJobRepository struct {
	db DBTX
}

func NewAdhocJobRepository(db DBTX) *AdhocJobRepository {
	return &AdhocJobRepository{db: db}
}

func scanAdhocJob(row pgx.Row) (*types.AdhocJob, error) {
	var (
		j        types.AdhocJob
		jobType  string
		status   string
		provider *string
	)
	if err := row.Scan(
		&j.ID,
		&j.UserID,
		&jobType,
		&status,
		&provider,
		&j.Progress,
		&j.TotalTickets,
		&j.ProcessedCount,
		&j.IsCompleted,
		&j.Stage,
		&j.CurrentTicket,
		&j.ErrorMessage,
		&j.Parameters,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.CompletedAt,
	); err != nil {
		return nil, err
	}
	j.JobType = types.AdhocJobType(jobType)
	j.Status = types.AdhocStatus(status)
	if provider != nil {
		p := types.Provider(*provider)
		j.Provider = &p
	}
	return &j, nil
}

func (r *AdhocJobRepository) one(ctx context.Context, what string, sql string, args ...any) (*types.AdhocJob, error) {
	j, err := scanAdhocJob(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to "+what, err)
	}
	return j, nil
}

// Claim inserts a pending job unless the user already has an active job of
// the same type, in which case that job is returned with created=false. The
// partial unique index on (user_id, job_type) makes the check atomic.
func (r *AdhocJobRepository) Claim(ctx context.Context, userID string, jobType types.AdhocJobType, provider *types.Provider, params types.JobParams) (job *types.AdhocJob, created bool, err error) {
	var prov *string
	if provider != nil {
		s := string(*provider)
		prov = &s
	}

	for attempt := 0; attempt < claimAttempts; attempt++ {
		job, err = scanAdhocJob(r.db.QueryRow(ctx,
			`INSERT INTO adhoc_jobs (user_id, job_type, status, provider, progress, parameters)
			 VALUES ($1, $2, 'pending', $3, 0, $4)
			 ON CONFLICT (user_id, job_type) WHERE status IN ('pending', 'processing') DO NOTHING
			 RETURNING `+adhocColumns,
			userID, string(jobType), prov, params,
		))
		if err == nil {
			return job, true, nil
		}
		if !isNoRows(err) {
			return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim job", err)
		}

		job, err = r.FindActive(ctx, userID, jobType)
		if err == nil {
			return job, false, nil
		}
		if !types.IsCode(err, types.ErrCodeNotFoundJob) {
			return nil, false, err
		}
	}
	return nil, false, types.NewAppError(types.ErrCodeConflictConcurrent, "could not claim job slot", nil)
}

// FindActive returns the most recent pending or processing job for the pair.
func (r *AdhocJobRepository) FindActive(ctx context.Context, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error) {
	return r.one(ctx, "find active job",
		`SELECT `+adhocColumns+`
		 FROM adhoc_jobs
		 WHERE user_id = $1 AND job_type = $2 AND status IN ('pending', 'processing')
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, string(jobType),
	)
}

// Latest returns the most recent job for the pair in any status.
func (r *AdhocJobRepository) Latest(ctx context.Context, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error) {
	return r.one(ctx, "find latest job",
		`SELECT `+adhocColumns+`
		 FROM adhoc_jobs
		 WHERE user_id = $1 AND job_type = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, string(jobType),
	)
}

func (r *AdhocJobRepository) GetByID(ctx context.Context, id string) (*types.AdhocJob, error) {
	return r.one(ctx, "load job", `SELECT `+adhocColumns+` FROM adhoc_jobs WHERE id = $1`, id)
}

// guarded runs a conditional UPDATE ... RETURNING. When no row matches the
// guard the current row is returned alongside ErrJobInactive.
func (r *AdhocJobRepository) guarded(ctx context.Context, id, what, sql string, args ...any) (*types.AdhocJob, error) {
	j, err := scanAdhocJob(r.db.QueryRow(ctx, sql, args...))
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to "+what, err)
	}
	current, gerr := r.GetByID(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	return current, ErrJobInactive
}

// MarkProcessing moves a pending job to processing.
func (r *AdhocJobRepository) MarkProcessing(ctx context.Context, id string) (*types.AdhocJob, error) {
	return r.guarded(ctx, id, "start job",
		`UPDATE adhoc_jobs
		 SET status = 'processing', stage = 'scanning', updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+adhocColumns,
		id,
	)
}

// ProgressUpdate is one checkpoint write. Nil pointers leave columns as is.
type ProgressUpdate struct {
	Processed     int
	Total         int
	Progress      int
	Stage         *string
	CurrentTicket *string
}

// UpdateProgress records a checkpoint for a processing job. A job canceled
// in the meantime is returned with ErrJobInactive.
func (r *AdhocJobRepository) UpdateProgress(ctx context.Context, id string, u ProgressUpdate) (*types.AdhocJob, error) {
	return r.guarded(ctx, id, "update progress",
		`UPDATE adhoc_jobs
		 SET processed_count = $2,
		     total_tickets = $3,
		     progress = $4,
		     stage = COALESCE($5::text, stage),
		     current_ticket = COALESCE($6::text, current_ticket),
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'
		 RETURNING `+adhocColumns,
		id, u.Processed, u.Total, types.ClampProgress(u.Progress), u.Stage, u.CurrentTicket,
	)
}

// Complete marks a processing job completed with progress 100.
func (r *AdhocJobRepository) Complete(ctx context.Context, id string) (*types.AdhocJob, error) {
	return r.guarded(ctx, id, "complete job",
		`UPDATE adhoc_jobs
		 SET status = 'completed', progress = 100, is_completed = TRUE, stage = 'completed',
		     current_ticket = NULL, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'
		 RETURNING `+adhocColumns,
		id,
	)
}

// Fail marks an active job failed, keeping the last progress value.
func (r *AdhocJobRepository) Fail(ctx context.Context, id string, message string) (*types.AdhocJob, error) {
	return r.guarded(ctx, id, "fail job",
		`UPDATE adhoc_jobs
		 SET status = 'failed', error_message = $2, stage = 'failed',
		     completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'processing')
		 RETURNING `+adhocColumns,
		id, message,
	)
}

// Cancel marks an active job canceled. Terminal jobs are returned unchanged
// with ErrJobInactive.
func (r *AdhocJobRepository) Cancel(ctx context.Context, id string) (*types.AdhocJob, error) {
	return r.guarded(ctx, id, "cancel job",
		`UPDATE adhoc_jobs
		 SET status = 'canceled', stage = 'canceled', updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'processing')
		 RETURNING `+adhocColumns,
		id,
	)
}

// ReapStale fails active jobs that have not been written since cutoff. A
// pending job that old was never picked up by a worker.
func (r *AdhocJobRepository) ReapStale(ctx context.Context, cutoff time.Time, message string) ([]types.AdhocJob, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE adhoc_jobs
		 SET status = 'failed', error_message = $2, stage = 'failed',
		     completed_at = NOW(), updated_at = NOW()
		 WHERE status IN ('pending', 'processing') AND updated_at < $1
		 RETURNING `+adhocColumns,
		cutoff, message,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to reap stale jobs", err)
	}
	defer rows.Close()

	var out []types.AdhocJob
	for rows.Next() {
		j, err := scanAdhocJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reaped job", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reaped jobs", err)
	}
	return out, nil
}
