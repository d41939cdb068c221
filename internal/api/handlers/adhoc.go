package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"inzikt/internal/core"
	"inzikt/internal/jobs"
	"inzikt/internal/types"
)

// JobService is the ad-hoc job surface the HTTP layer needs.
type JobService interface {
	Start(ctx context.Context, userID string, jobType types.AdhocJobType, provider *types.Provider, params types.JobParams) (*types.AdhocJob, bool, error)
	Cancel(ctx context.Context, actor types.Actor, req jobs.CancelRequest) (*types.AdhocJob, error)
	Get(ctx context.Context, actor types.Actor, jobID string) (*types.AdhocJob, error)
	Latest(ctx context.Context, actor types.Actor, userID string, jobType types.AdhocJobType) (*types.AdhocJob, error)
}

// AdhocJobsHandler starts and cancels import and analysis jobs.
type AdhocJobsHandler struct {
	jobs      JobService
	validator *core.Validator
	logger    *slog.Logger
}

func NewAdhocJobsHandler(svc JobService, v *core.Validator, logger *slog.Logger) *AdhocJobsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdhocJobsHandler{jobs: svc, validator: v, logger: logger}
}

func (h *AdhocJobsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/jobs/import", h.StartImport)
	r.Post("/jobs/analysis", h.StartAnalysis)
	r.Post("/jobs/cancel", h.Cancel)
}

// StartImportRequest is the body of POST /api/jobs/import.
type StartImportRequest struct {
	Provider string `json:"provider" validate:"required,provider"`
}

// CancelJobRequest is the body of POST /api/jobs/cancel. Without a jobId the
// caller's (or userId's) active job of jobType is targeted.
type CancelJobRequest struct {
	JobID   string `json:"jobId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	JobType string `json:"jobType,omitempty" validate:"omitempty,adhoc_type"`
}

type startResponse struct {
	Success  bool              `json:"success"`
	JobID    string            `json:"jobId"`
	Attached bool              `json:"attached"`
	Status   types.AdhocStatus `json:"status"`
}

type cancelResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	JobID   string            `json:"jobId"`
	Status  types.AdhocStatus `json:"status"`
}

// StartImport handles POST /api/jobs/import. 202 when a job was created,
// 200 when the caller was attached to the one already running.
func (h *AdhocJobsHandler) StartImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req StartImportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	provider := types.Provider(req.Provider)
	h.start(w, r, actor, types.AdhocImport, &provider)
}

// StartAnalysis handles POST /api/jobs/analysis. The body is ignored.
func (h *AdhocJobsHandler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	h.start(w, r, actor, types.AdhocAnalysis, nil)
}

func (h *AdhocJobsHandler) start(w http.ResponseWriter, r *http.Request, actor types.Actor, jobType types.AdhocJobType, provider *types.Provider) {
	job, created, err := h.jobs.Start(r.Context(), actor.ID, jobType, provider, nil)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	core.JSON(w, r, status, startResponse{
		Success:  true,
		JobID:    job.ID,
		Attached: !created,
		Status:   job.Status,
	})
}

// Cancel handles POST /api/jobs/cancel. An empty body cancels the caller's
// active import.
func (h *AdhocJobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CancelJobRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	job, err := h.jobs.Cancel(r.Context(), actor, jobs.CancelRequest{
		JobID:   req.JobID,
		UserID:  req.UserID,
		JobType: types.AdhocJobType(req.JobType),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, cancelResponse{
		Success: true,
		Message: "Job canceled",
		JobID:   job.ID,
		Status:  job.Status,
	})
}

// requireActor writes a 401 and returns false when the request carries no
// authenticated actor.
func requireActor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
	}
	return actor, ok
}
