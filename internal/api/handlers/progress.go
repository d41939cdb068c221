package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"inzikt/internal/core"
	"inzikt/internal/progress"
	"inzikt/internal/types"
)

// SnapshotSource is the shared progress source behind poll and push.
type SnapshotSource interface {
	Current(ctx context.Context, f progress.Filter) (progress.Snapshot, error)
}

// ProgressStreamer upgrades a request to a progress push stream.
type ProgressStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, f progress.Filter)
}

// ProgressHandler serves GET /api/jobs/progress and its WebSocket twin. Both
// authorize the same way and read snapshots from the same source so their
// payloads cannot drift apart.
type ProgressHandler struct {
	jobs     JobService
	source   SnapshotSource
	streamer ProgressStreamer
	logger   *slog.Logger
}

func NewProgressHandler(svc JobService, source SnapshotSource, streamer ProgressStreamer, logger *slog.Logger) *ProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressHandler{jobs: svc, source: source, streamer: streamer, logger: logger}
}

func (h *ProgressHandler) RegisterRoutes(r chi.Router) {
	r.Get("/jobs/progress", h.Poll)
	r.Get("/jobs/progress/ws", h.Stream)
}

// defaultProgressJobType is followed by userId-keyed polls and streams that
// name no jobType.
const defaultProgressJobType = types.AdhocAnalysis

// filterFromQuery reads ?jobId= or ?userId=&jobType=. A missing userId means
// the caller.
func filterFromQuery(r *http.Request, actor types.Actor) (progress.Filter, error) {
	q := r.URL.Query()
	if id := q.Get("jobId"); id != "" {
		return progress.Filter{JobID: id}, nil
	}

	f := progress.Filter{UserID: q.Get("userId"), JobType: defaultProgressJobType}
	if f.UserID == "" {
		f.UserID = actor.ID
	}
	if f.UserID == "" {
		return f, types.NewAppError(types.ErrCodeValidationMissingJobID, "jobId or userId is required", nil)
	}
	if raw := q.Get("jobType"); raw != "" {
		jt, ok := types.ParseAdhocJobType(raw)
		if !ok {
			return f, types.NewAppErrorWithDetails(types.ErrCodeValidationUnsupportedJob,
				"unsupported job type", nil, map[string]any{"jobType": raw})
		}
		f.JobType = jt
	}
	return f, nil
}

// authorize checks the actor may see the jobs selected by f.
func (h *ProgressHandler) authorize(ctx context.Context, actor types.Actor, f progress.Filter) error {
	if f.JobID != "" {
		_, err := h.jobs.Get(ctx, actor, f.JobID)
		return err
	}
	if !actor.CanAccessUser(f.UserID) {
		return types.NewAppError(types.ErrCodePermissionNotOwner, "job belongs to another user", nil)
	}
	return nil
}

// Poll returns the current snapshot, 404 when no job matches.
func (h *ProgressHandler) Poll(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	f, err := filterFromQuery(r, actor)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.authorize(r.Context(), actor, f); err != nil {
		core.Error(w, r, err)
		return
	}

	snap, err := h.source.Current(r.Context(), f)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, snap)
}

// Stream upgrades to a WebSocket that emits snapshots until the job is
// final. Validation and authorization failures are answered as plain HTTP
// errors before the upgrade.
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	f, err := filterFromQuery(r, actor)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.authorize(r.Context(), actor, f); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.DebugContext(r.Context(), "progress stream opened",
		"job_id", f.JobID,
		"user_id", f.UserID,
		"job_type", string(f.JobType),
	)
	h.streamer.Serve(w, r, f)
}
