package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"inzikt/internal/types"
)

const scheduledJobColumns = `id, job_type, frequency, cron_expression, last_run, next_run,
	enabled, user_id, parameters, created_at, updated_at`

// ScheduledJobRepository persists recurring job definitions. Only the
// scheduler writes last_run and next_run.
type ScheduledJobRepository struct {
	db DBTX
}

func NewScheduledJobRepository(db DBTX) *ScheduledJobRepository {
	return &ScheduledJobRepository{db: db}
}

func scanScheduledJob(row pgx.Row) (*types.ScheduledJob, error) {
	var j types.ScheduledJob
	var freq string
	if err := row.Scan(
		&j.ID,
		&j.JobType,
		&freq,
		&j.CronExpression,
		&j.LastRun,
		&j.NextRun,
		&j.Enabled,
		&j.UserID,
		&j.Parameters,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Frequency = types.Frequency(freq)
	return &j, nil
}

// ListDue returns enabled jobs whose next_run is at or before now, oldest
// due first. limit <= 0 means no limit.
func (r *ScheduledJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]types.ScheduledJob, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduledJobColumns+`
		 FROM scheduled_jobs
		 WHERE enabled = TRUE AND next_run <= $1
		 ORDER BY next_run ASC
		 LIMIT $2`,
		now, lim,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due jobs", err)
	}
	return collectScheduledJobs(rows)
}

// List returns every job definition ordered by next_run.
func (r *ScheduledJobRepository) List(ctx context.Context) ([]types.ScheduledJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs ORDER BY next_run ASC`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list scheduled jobs", err)
	}
	return collectScheduledJobs(rows)
}

func collectScheduledJobs(rows pgx.Rows) ([]types.ScheduledJob, error) {
	defer rows.Close()

	var jobs []types.ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan scheduled job", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating scheduled jobs", err)
	}
	return jobs, nil
}

func (r *ScheduledJobRepository) GetByID(ctx context.Context, id string) (*types.ScheduledJob, error) {
	j, err := scanScheduledJob(r.db.QueryRow(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundScheduledJob, "scheduled job not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load scheduled job", err)
	}
	return j, nil
}

// UpdateNextRun persists the recomputed next_run together with updated_at.
func (r *ScheduledJobRepository) UpdateNextRun(ctx context.Context, id string, nextRun, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_jobs SET next_run = $2, updated_at = $3 WHERE id = $1`,
		id, nextRun, now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update next_run", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundScheduledJob, "scheduled job not found", nil)
	}
	return nil
}

// UpsertSystemJob creates or updates the single system-owned definition for
// job.JobType. next_run is only set on insert so reseeding never skips a run.
func (r *ScheduledJobRepository) UpsertSystemJob(ctx context.Context, job *types.ScheduledJob) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`INSERT INTO scheduled_jobs (job_type, frequency, cron_expression, next_run, enabled, parameters)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (job_type) WHERE user_id IS NULL DO UPDATE
		   SET frequency = EXCLUDED.frequency,
		       cron_expression = EXCLUDED.cron_expression,
		       enabled = EXCLUDED.enabled,
		       parameters = EXCLUDED.parameters,
		       updated_at = NOW()
		 RETURNING id`,
		job.JobType,
		string(job.Frequency),
		job.CronExpression,
		job.NextRun,
		job.Enabled,
		job.Parameters,
	).Scan(&id)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to upsert system job", err)
	}
	return id, nil
}
