// Package main is the entry point for the Cron Trigger Lambda function.
//
// An EventBridge schedule invokes it (every minute in production). Each
// invocation runs one scheduler tick: the same Runner.RunDueJobs that backs
// GET /api/cron, without the HTTP hop or the shared secret.
//
// Handler failures are recorded as failed executions and do not fail the
// invocation. Only a tick that could not run at all (due-job query failed)
// returns an error, so the platform's retry and alarm policy apply.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"inzikt/internal/app"
	"inzikt/internal/config"
	"inzikt/internal/scheduler"
	"inzikt/internal/types"
)

// TickRunner runs one scheduler tick.
type TickRunner interface {
	RunDueJobs(ctx context.Context) (*scheduler.TickReport, error)
}

// Handler adapts EventBridge events to scheduler ticks.
type Handler struct {
	runner TickRunner
	logger *slog.Logger
}

// Handle runs one tick per event.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (*scheduler.TickReport, error) {
	h.logger.InfoContext(ctx, "cron trigger invoked",
		"event_id", event.ID,
		"scheduled_at", event.Time,
	)

	report, err := h.runner.RunDueJobs(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
		return nil, fmt.Errorf("scheduler tick failed: %w", err)
	}

	failed := 0
	for _, r := range report.Results {
		if r.Status != types.ExecutionCompleted {
			failed++
		}
	}
	h.logger.InfoContext(ctx, "scheduler tick complete",
		"jobs_run", report.JobsRun,
		"failed", failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("Cron Trigger Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	if cfg.Jobs.Dispatcher != "sqs" {
		logger.Warn("ad-hoc jobs started by a tick run inside this function; set JOB_DISPATCHER=sqs in Lambda",
			"dispatcher", cfg.Jobs.Dispatcher)
	}

	h := &Handler{runner: application.Runner, logger: logger}
	logger.Info("Cron Trigger Lambda initialized", "job_types", application.Registry.Types())

	lambda.Start(h.Handle)
}
