// Package main is the entry point for the Job Worker Lambda function.
//
// It consumes the ad-hoc job queue fed by the SQS dispatcher. Each message
// names one claimed job; the Executor drives it from pending to a terminal
// state and reports progress through the configured broker.
//
// Lambda SQS integration uses partial batch responses: only messages whose
// job could not be executed (store unreachable) are returned for retry. A job
// that ran and failed is a recorded outcome and is acknowledged.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"inzikt/internal/app"
	"inzikt/internal/config"
	"inzikt/internal/jobs"
	"inzikt/internal/queue"
)

// Handler executes ad-hoc job tasks delivered by SQS.
type Handler struct {
	runner jobs.TaskRunner
	logger *slog.Logger
}

// Handle processes every record independently.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process SQS message",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	task, err := queue.DecodeTask(record.Body)
	if err != nil {
		// Permanent: retrying a malformed body cannot succeed.
		h.logger.ErrorContext(ctx, "dropping malformed task",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	h.logger.InfoContext(ctx, "executing job",
		"message_id", record.MessageId,
		"job_id", task.JobID,
		"user_id", task.UserID,
		"job_type", string(task.JobType),
	)
	return h.runner.Execute(ctx, task.JobID)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("Job Worker Lambda initializing (cold start)")

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

	h := &Handler{runner: application.Executor, logger: logger}
	logger.Info("Job Worker Lambda initialized",
		"progress_broker", cfg.Progress.Broker,
		"max_concurrent", cfg.Jobs.MaxConcurrent,
	)

	lambda.Start(h.Handle)
}
