package jobs

import (
	"context"
	"errors"
	"log/slog"

	"inzikt/internal/db"
	"inzikt/internal/types"
)

// ErrJobCanceled is returned by a checkpoint once the job has been canceled.
// Work functions return it unchanged to stop.
var ErrJobCanceled = errors.New("job canceled")

// Stages written by the work functions.
const (
	StageScanning   = "scanning"
	StageProcessing = "processing"
	StageImporting  = "importing"
)

// Checkpoint is one progress observation.
type Checkpoint struct {
	Processed     int
	Total         int
	Stage         string
	CurrentTicket string
	// Progress overrides the processed/total percentage when non-nil.
	Progress *int
}

// Reporter writes checkpoints for one running job and is the point where
// cancellation is observed.
type Reporter struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	job       *types.AdhocJob
}

func newReporter(store Store, publisher Publisher, logger *slog.Logger, job *types.AdhocJob) *Reporter {
	return &Reporter{store: store, publisher: publisher, logger: logger, job: job}
}

// Job returns the last row written through this reporter.
func (r *Reporter) Job() *types.AdhocJob { return r.job }

// Checkpoint persists progress and publishes the fresh row. It returns
// ErrJobCanceled when the job is no longer processing, and ctx.Err() when the
// worker is shutting down.
func (r *Reporter) Checkpoint(ctx context.Context, c Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	progress := types.ProgressPercent(c.Processed, c.Total)
	if c.Progress != nil {
		progress = types.ClampProgress(*c.Progress)
	}
	u := db.ProgressUpdate{
		Processed: c.Processed,
		Total:     c.Total,
		Progress:  progress,
	}
	if c.Stage != "" {
		u.Stage = &c.Stage
	}
	if c.CurrentTicket != "" {
		u.CurrentTicket = &c.CurrentTicket
	}

	job, err := r.store.UpdateProgress(ctx, r.job.ID, u)
	if errors.Is(err, db.ErrJobInactive) {
		if job != nil {
			r.job = job
		}
		return ErrJobCanceled
	}
	if err != nil {
		return err
	}
	r.job = job
	publishJob(ctx, r.publisher, r.logger, job)
	return nil
}
