// Package app builds the object graph shared by every binary from a loaded
// Config: the database pool and repositories, vendor clients, the scheduler
// runner, the ad-hoc job manager with its dispatcher and executor, the
// progress broker and the metrics recorder.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"inzikt/internal/config"
	"inzikt/internal/db"
	"inzikt/internal/external"
	"inzikt/internal/jobs"
	"inzikt/internal/progress"
	"inzikt/internal/queue"
	"inzikt/internal/scheduler"
	"inzikt/internal/security"
	"inzikt/internal/telemetry"
	"inzikt/internal/types"
)

// helpdeskTimeout bounds a single helpdesk API call.
const helpdeskTimeout = 30 * time.Second

// Repositories groups the pgx repositories over one pool.
type Repositories struct {
	ScheduledJobs *db.ScheduledJobRepository
	Executions    *db.JobExecutionRepository
	AdhocJobs     *db.AdhocJobRepository
	Tickets       *db.TicketRepository
	Connections   *db.ProviderConnectionRepository
	Usage         *db.UsageRepository
	Locks         *db.JobLockRepository
}

func newRepositories(dbtx db.DBTX) *Repositories {
	return &Repositories{
		ScheduledJobs: db.NewScheduledJobRepository(dbtx),
		Executions:    db.NewJobExecutionRepository(dbtx),
		AdhocJobs:     db.NewAdhocJobRepository(dbtx),
		Tickets:       db.NewTicketRepository(dbtx),
		Connections:   db.NewProviderConnectionRepository(dbtx),
		Usage:         db.NewUsageRepository(dbtx),
		Locks:         db.NewJobLockRepository(dbtx),
	}
}

// App is the wired process. Fields are exported so entry points can mount
// or drive the parts they need.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Repos *Repositories

	Clients *external.ClientRegistry
	Metrics telemetry.Recorder
	// MetricsHandler serves /metrics when the Prometheus backend is active.
	MetricsHandler http.Handler

	Registry *scheduler.Registry
	Runner   *scheduler.Runner

	Hub      *progress.Hub
	Broker   progress.Broker
	Source   *progress.Source
	Streamer *progress.Streamer

	Executor   *jobs.Executor
	Dispatcher jobs.Dispatcher
	Manager    *jobs.Manager

	inProcess *jobs.InProcessDispatcher
}

// New opens the pool and wires every component. Close releases what New
// opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if cfg.Database.RunMigrations {
		if err := db.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		logger.Info("database migrations applied")
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Pool:   pool,
		Repos:  newRepositories(pool),
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: loading AWS config: %w", err)
		}
		if cfg.AWS.EndpointURL != "" {
			c.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
		awsCfg = &c
		return c, nil
	}

	// Metrics.
	switch cfg.Observability.MetricsBackend {
	case "prometheus":
		p := telemetry.NewPrometheus(cfg.Observability.MetricNamespace)
		a.Metrics = p
		a.MetricsHandler = p.Handler()
	case "cloudwatch":
		c, err := loadAWS()
		if err != nil {
			return err
		}
		a.Metrics = telemetry.NewCloudWatch(cloudwatch.NewFromConfig(c), cfg.Observability.MetricNamespace, a.Logger)
	default:
		a.Metrics = telemetry.Noop{}
	}

	// Vendor clients.
	sealer, err := security.NewSealer(cfg.Security.CredentialsKey.Unmask())
	if err != nil {
		return fmt.Errorf("app: credentials key: %w", err)
	}
	helpdesk, err := security.NewHelpdeskHTTPClient(helpdeskTimeout)
	if err != nil {
		return fmt.Errorf("app: helpdesk client: %w", err)
	}
	a.Clients = external.NewClientRegistry(cfg, a.Logger,
		external.WithConnections(a.Repos.Connections, sealer),
		external.WithHelpdeskHTTPClient(helpdesk),
	)

	// Progress.
	a.Hub = progress.NewHub()
	switch cfg.Progress.Broker {
	case "postgres":
		a.Broker = progress.NewPostgresBroker(a.Pool, a.Pool, cfg.Progress.Channel, a.Hub, a.Logger.With("component", "progress_broker"))
	case "redis":
		client, err := progress.NewRedisClient(cfg.Progress.RedisURL.Unmask())
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.Redis = client
		a.Broker = progress.NewRedisBroker(client, cfg.Progress.Channel, a.Hub, a.Logger.With("component", "progress_broker"))
	default:
		a.Broker = progress.NewMemoryBroker(a.Hub)
	}
	a.Source = progress.NewSource(a.Repos.AdhocJobs, a.Hub, cfg.Progress.PollInterval, a.Logger)
	a.Streamer = progress.NewStreamer(a.Source, cfg.Progress.PingPeriod, cfg.Security.CorsAllowedOrigins, a.Logger)

	// Ad-hoc jobs.
	a.Executor = jobs.NewExecutor(a.Repos.AdhocJobs, a.Broker, a.workFuncs(), a.Metrics, a.Logger.With("component", "executor"))
	switch cfg.Jobs.Dispatcher {
	case "sqs":
		c, err := loadAWS()
		if err != nil {
			return err
		}
		a.Dispatcher = queue.NewSQSDispatcher(sqs.NewFromConfig(c), cfg.AWS.JobQueueURL, a.Logger)
	default:
		a.inProcess = jobs.NewInProcessDispatcher(a.Executor, cfg.Jobs.MaxConcurrent, a.Logger.With("component", "dispatcher"))
		a.Dispatcher = a.inProcess
	}
	a.Manager = jobs.NewManager(a.Repos.AdhocJobs, a.Dispatcher, a.Broker, a.Logger.With("component", "jobs"))

	// Scheduler.
	a.Registry = NewRegistry(HandlerDeps{
		Starter:    a.Manager,
		Executions: a.Repos.Executions,
		Reaper:     a.Manager,
		Usage:      a.Repos.Usage,
		Reporter:   a.Clients.Usage,
		Logger:     a.Logger,
	})
	lifecycle := scheduler.NewLifecycle(a.Repos.ScheduledJobs, a.Repos.Executions, a.Logger)
	a.Runner = scheduler.NewRunner(a.Repos.ScheduledJobs, lifecycle, a.Registry, a.Repos.Locks, scheduler.RunnerConfig{
		HandlerTimeout: cfg.Scheduler.HandlerTimeout,
		TickLockTTL:    cfg.Scheduler.TickLockTTL,
		MaxJobsPerTick: cfg.Scheduler.MaxJobsPerTick,
		Metrics:        a.Metrics,
		Logger:         a.Logger.With("component", "scheduler"),
	})

	a.Logger.Info("application wired",
		"environment", cfg.Environment,
		"dispatcher", cfg.Jobs.Dispatcher,
		"progress_broker", cfg.Progress.Broker,
		"metrics_backend", cfg.Observability.MetricsBackend,
		"job_types", a.Registry.Types(),
	)
	return nil
}

func (a *App) workFuncs() map[types.AdhocJobType]jobs.Work {
	return map[types.AdhocJobType]jobs.Work{
		types.AdhocImport:   jobs.ImportWork(a.Clients.Sources, a.Repos.Tickets),
		types.AdhocAnalysis: jobs.AnalysisWork(a.Repos.Tickets, a.Clients.Analyzer, a.Config.Jobs.AnalysisBatch, a.Logger),
	}
}

// HandlerDeps are the collaborators of the recurring job handlers.
type HandlerDeps struct {
	Starter    scheduler.JobStarter
	Executions scheduler.ExecutionPurger
	Reaper     scheduler.StaleReaper
	Usage      scheduler.UsageStore
	Reporter   scheduler.UsageReporter
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewRegistry returns the handler table for every shipped job type.
func NewRegistry(d HandlerDeps) *scheduler.Registry {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return scheduler.NewRegistry(map[string]scheduler.HandlerFunc{
		scheduler.JobTicketSync:        scheduler.TicketSyncHandler(d.Starter),
		scheduler.JobTicketAnalysis:    scheduler.TicketAnalysisHandler(d.Starter),
		scheduler.JobStripeUsageSync:   scheduler.StripeUsageSyncHandler(d.Usage, d.Reporter, d.Logger),
		scheduler.JobCleanupExecutions: scheduler.CleanupExecutionsHandler(d.Executions, now),
		scheduler.JobReapStaleJobs:     scheduler.ReapStaleJobsHandler(d.Reaper),
	})
}

// RunBroker delivers broker events into the local hub until ctx ends.
func (a *App) RunBroker(ctx context.Context) error {
	err := a.Broker.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown waits for in-process ad-hoc jobs to finish or ctx to end. It is
// a no-op with the SQS dispatcher.
func (a *App) Shutdown(ctx context.Context) error {
	if a.inProcess == nil {
		return nil
	}
	return a.inProcess.Shutdown(ctx)
}

// Close releases connections. Call after Shutdown.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
