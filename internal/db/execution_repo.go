package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"inzikt/internal/types"
)

const executionColumns = `id, job_id, status, started_at, completed_at, duration_ms, result, error`

// JobExecutionRepository persists one row per scheduled job invocation.
type JobExecutionRepository struct {
	db DBTX
}

func NewJobExecutionRepository(db DBTX) *JobExecutionRepository {
	return &JobExecutionRepository{db: db}
}

func scanExecution(row pgx.Row) (*types.JobExecution, error) {
	var e types.JobExecution
	var status string
	if err := row.Scan(
		&e.ID,
		&e.JobID,
		&status,
		&e.StartedAt,
		&e.CompletedAt,
		&e.DurationMs,
		&e.Result,
		&e.Error,
	); err != nil {
		return nil, err
	}
	e.Status = types.ExecutionStatus(status)
	return &e, nil
}

// Start stamps the owning job's last_run and inserts a running execution in
// one statement. Rows are never inserted as pending.
func (r *JobExecutionRepository) Start(ctx context.Context, jobID string, startedAt time.Time) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`WITH touched AS (
		     UPDATE scheduled_jobs SET last_run = $2, updated_at = $2
		     WHERE id = $1
		     RETURNING id
		 )
		 INSERT INTO job_executions (id, job_id, status, started_at)
		 SELECT $3, touched.id, 'running', $2 FROM touched
		 RETURNING id`,
		jobID, startedAt, uuid.NewString(),
	).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return "", types.NewAppError(types.ErrCodeNotFoundScheduledJob, "scheduled job not found", err)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to record execution start", err)
	}
	return id, nil
}

func (r *JobExecutionRepository) Get(ctx context.Context, id string) (*types.JobExecution, error) {
	e, err := scanExecution(r.db.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM job_executions WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundExecution, "execution not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load execution", err)
	}
	return e, nil
}

// ExecutionOutcome is the terminal state written by Complete.
type ExecutionOutcome struct {
	Status      types.ExecutionStatus
	CompletedAt time.Time
	DurationMs  int64
	Result      types.JobResult
	Error       *string
}

// Complete moves a running execution to its terminal state. A second call for
// the same execution fails with conflict_job_state.
func (r *JobExecutionRepository) Complete(ctx context.Context, id string, out ExecutionOutcome) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE job_executions
		 SET status = $2, completed_at = $3, duration_ms = $4, result = $5, error = $6
		 WHERE id = $1 AND status = 'running'`,
		id,
		string(out.Status),
		out.CompletedAt,
		out.DurationMs,
		out.Result,
		out.Error,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record execution completion", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictJobState, "execution is not running", nil)
	}
	return nil
}

// ListByJob returns the most recent executions of jobID, newest first.
func (r *JobExecutionRepository) ListByJob(ctx context.Context, jobID string, limit int) ([]types.JobExecution, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+executionColumns+`
		 FROM job_executions
		 WHERE job_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		jobID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list executions", err)
	}
	defer rows.Close()

	out := []types.JobExecution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan execution", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating executions", err)
	}
	return out, nil
}

// PurgeOlderThan deletes terminal executions that started before cutoff.
func (r *JobExecutionRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM job_executions WHERE started_at < $1 AND status <> 'running'`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge executions", err)
	}
	return tag.RowsAffected(), nil
}
