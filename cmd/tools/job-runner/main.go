// Package main implements the job-runner CLI for operating the recurring job
// scheduler without the HTTP trigger.
//
// It is intended for local development, manual reruns and operational
// debugging. Exactly one action is taken per invocation:
//
//	go run ./cmd/tools/job-runner --list
//	go run ./cmd/tools/job-runner --tick
//	go run ./cmd/tools/job-runner --job-id=6f1c...
//	go run ./cmd/tools/job-runner --seed
//	go run ./cmd/tools/job-runner --seed --dry-run
//
// Configuration is read like the API server (environment plus .env file).
// --tick and --job-id run through the same Runner as GET /api/cron and
// POST /api/jobs/run, so executions are recorded and next_run advances.
// Ad-hoc jobs started by a handler are drained before the process exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inzikt/internal/app"
	"inzikt/internal/config"
	"inzikt/internal/scheduler"
	"inzikt/internal/types"
)

// jobDescriptions documents every job type the default registry ships.
var jobDescriptions = map[string]string{
	scheduler.JobTicketSync:        "Start (or attach to) a ticket import for parameters.user_id",
	scheduler.JobTicketAnalysis:    "Start (or attach to) a ticket analysis for parameters.user_id",
	scheduler.JobStripeUsageSync:   "Report unreported analyzed-ticket counts to Stripe",
	scheduler.JobCleanupExecutions: "Delete executions older than parameters.retention_days",
	scheduler.JobReapStaleJobs:     "Fail ad-hoc jobs with no progress for parameters.stale_minutes",
}

// drainTimeout bounds waiting for ad-hoc jobs started by a handler.
const drainTimeout = 5 * time.Minute

type action int

const (
	actionList action = iota
	actionTick
	actionRunJob
	actionSeed
)

// selectAction validates that exactly one action flag was given.
func selectAction(list, tick, seed bool, jobID string) (action, error) {
	var chosen []action
	if list {
		chosen = append(chosen, actionList)
	}
	if tick {
		chosen = append(chosen, actionTick)
	}
	if jobID != "" {
		chosen = append(chosen, actionRunJob)
	}
	if seed {
		chosen = append(chosen, actionSeed)
	}
	switch len(chosen) {
	case 0:
		return 0, errors.New("one of --list, --tick, --job-id or --seed is required")
	case 1:
		return chosen[0], nil
	default:
		return 0, errors.New("--list, --tick, --job-id and --seed are mutually exclusive")
	}
}

func main() {
	listFlag := flag.Bool("list", false, "List registered job types and exit")
	tickFlag := flag.Bool("tick", false, "Run every due scheduled job once")
	jobIDFlag := flag.String("job-id", "", "Run one scheduled job now, regardless of next_run")
	seedFlag := flag.Bool("seed", false, "Upsert the system job definitions")
	dryRunFlag := flag.Bool("dry-run", false, "Print what would run or be seeded without changing anything")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run scheduled jobs directly, bypassing the cron endpoint.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	act, err := selectAction(*listFlag, *tickFlag, *seedFlag, *jobIDFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if act == actionList {
		printAvailableJobs(os.Stdout)
		return
	}
	if act == actionSeed && *dryRunFlag {
		if err := printJSON(os.Stdout, scheduler.SystemJobs(time.Now().UTC())); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, act, *jobIDFlag, *dryRunFlag, logger); err != nil {
		logger.Error("job-runner failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, act action, jobID string, dryRun bool, logger *slog.Logger) error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := application.Shutdown(drainCtx); err != nil {
			logger.Warn("ad-hoc jobs still running at exit", "error", err)
		}
	}()

	switch act {
	case actionSeed:
		return seed(ctx, application, logger)
	case actionTick:
		if dryRun {
			due, err := application.Repos.ScheduledJobs.ListDue(ctx, time.Now().UTC(), cfg.Scheduler.MaxJobsPerTick)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, due)
		}
		report, err := application.Runner.RunDueJobs(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, report)
	case actionRunJob:
		if dryRun {
			job, err := application.Repos.ScheduledJobs.GetByID(ctx, jobID)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, job)
		}
		res, err := application.Runner.RunJobNow(ctx, jobID, nil)
		if err != nil {
			return err
		}
		if err := printJSON(os.Stdout, res); err != nil {
			return err
		}
		if res.Status != types.ExecutionCompleted {
			return fmt.Errorf("job %s failed: %s", jobID, res.Error)
		}
		return nil
	}
	return fmt.Errorf("unhandled action %d", act)
}

func seed(ctx context.Context, application *app.App, logger *slog.Logger) error {
	for _, job := range scheduler.SystemJobs(time.Now().UTC()) {
		id, err := application.Repos.ScheduledJobs.UpsertSystemJob(ctx, &job)
		if err != nil {
			return fmt.Errorf("seeding %s: %w", job.JobType, err)
		}
		logger.Info("system job seeded",
			"job_id", id,
			"job_type", job.JobType,
			"frequency", string(job.Frequency),
		)
	}
	return nil
}

// printAvailableJobs writes the registered job types, aligned, in sorted
// order.
func printAvailableJobs(w io.Writer) {
	registry := app.NewRegistry(app.HandlerDeps{})
	names := registry.Types()

	maxLen := 0
	for _, n := range names {
		if len(n) > maxLen {
			maxLen = len(n)
		}
	}
	fmt.Fprintf(w, "Registered job types:\n\n")
	for _, n := range names {
		fmt.Fprintf(w, "  %-*s  %s\n", maxLen, n, jobDescriptions[n])
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
