// Package handlers contains the HTTP endpoints of the job subsystem: the
// scheduler trigger, manual runs and execution history, ad-hoc import and
// analysis jobs, and the progress poll and push channels.
//
// Handlers depend on narrow interfaces declared next to them so each can be
// tested with hand-written fakes.
package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"inzikt/internal/core"
	"inzikt/internal/scheduler"
	"inzikt/internal/types"
)

// TickRunner runs one scheduler tick.
type TickRunner interface {
	RunDueJobs(ctx context.Context) (*scheduler.TickReport, error)
}

// CronHandler is the externally triggered scheduler entry point.
type CronHandler struct {
	runner TickRunner
	secret string
	logger *slog.Logger
}

// NewCronHandler builds the trigger. An empty secret disables the check;
// config refuses an empty CRON_SECRET outside local mode.
func NewCronHandler(runner TickRunner, secret string, logger *slog.Logger) *CronHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronHandler{runner: runner, secret: secret, logger: logger}
}

func (h *CronHandler) RegisterRoutes(r chi.Router) {
	r.Get("/cron", h.Tick)
}

// cronResponse is the body of a successful tick.
type cronResponse struct {
	Success bool               `json:"success"`
	JobsRun int                `json:"jobsRun"`
	Results []scheduler.Result `json:"results"`
	Skipped bool               `json:"skipped,omitempty"`
}

// Tick handles GET /api/cron. Job failures are reported per result with a
// 200; only a failure to read the due set is a 500.
func (h *CronHandler) Tick(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.WarnContext(r.Context(), "cron trigger rejected", "remote_addr", r.RemoteAddr)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthCronSecretInvalid, "Unauthorized", nil))
		return
	}

	report, err := h.runner.RunDueJobs(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "scheduler tick failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalDB, "Failed to run scheduled jobs", err))
		return
	}

	core.JSON(w, r, http.StatusOK, cronResponse{
		Success: true,
		JobsRun: report.JobsRun,
		Results: report.Results,
		Skipped: report.Skipped,
	})
}

func (h *CronHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return true
	}
	token := core.ExtractBearerToken(r.Header.Get("Authorization"))
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
