// Package config defines the process configuration for the Inzikt platform.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"inzikt/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for secret fields.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"inzikt"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Scheduler     SchedulerConfig
	Jobs          JobsConfig
	Progress      ProgressConfig
	Auth          AuthConfig
	OpenAI        OpenAIConfig
	Billing       BillingConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build metadata (injected via ldflags, not env).
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	// ShutdownGrace bounds HTTP draining and in-process job draining.
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"20s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	RunMigrations     bool          `envconfig:"DB_RUN_MIGRATIONS" default:"false"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	JobQueueURL string `envconfig:"SQS_JOB_QUEUE" validate:"omitempty,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SchedulerConfig tunes the recurring-job tick.
type SchedulerConfig struct {
	// CronSecret is the bearer token the platform cron presents on GET /api/cron.
	CronSecret SecretString `envconfig:"CRON_SECRET"`
	// HandlerTimeout bounds a single handler invocation. Zero disables it.
	HandlerTimeout time.Duration `envconfig:"SCHEDULER_HANDLER_TIMEOUT" default:"10m"`
	// TickLockTTL is how long a tick lock survives a crashed tick.
	TickLockTTL time.Duration `envconfig:"SCHEDULER_TICK_LOCK_TTL" default:"15m"`
	MaxJobsPerTick int        `envconfig:"SCHEDULER_MAX_JOBS_PER_TICK" default:"100" validate:"min=1"`
}

// JobsConfig tunes ad-hoc background jobs.
type JobsConfig struct {
	Dispatcher    string        `envconfig:"JOB_DISPATCHER" default:"inprocess" validate:"oneof=inprocess sqs"`
	MaxConcurrent int64         `envconfig:"JOB_MAX_CONCURRENT" default:"4" validate:"min=1"`
	StaleAfter    time.Duration `envconfig:"JOB_STALE_AFTER" default:"30m"`
	AnalysisBatch int           `envconfig:"JOB_ANALYSIS_BATCH" default:"200" validate:"min=1"`
}

// ProgressConfig selects the progress broker and push channel tuning.
type ProgressConfig struct {
	Broker       string        `envconfig:"PROGRESS_BROKER" default:"memory" validate:"oneof=memory postgres redis"`
	RedisURL     SecretString  `envconfig:"REDIS_URL"`
	Channel      string        `envconfig:"PROGRESS_CHANNEL" default:"adhoc_job_changes"`
	PollInterval time.Duration `envconfig:"PROGRESS_POLL_INTERVAL" default:"10s"`
	PingPeriod   time.Duration `envconfig:"PROGRESS_PING_PERIOD" default:"54s"`
}

// AuthConfig holds the access-token verification secret.
type AuthConfig struct {
	JWTSecret SecretString `envconfig:"SUPABASE_JWT_SECRET" validate:"required,min=32"`
	Audience  string       `envconfig:"JWT_AUDIENCE" default:"authenticated"`
}

// OpenAIConfig configures the ticket analyzer.
type OpenAIConfig struct {
	APIKey  SecretString  `envconfig:"OPENAI_API_KEY"`
	Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	BaseURL string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com" validate:"url"`
	Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
}

// BillingConfig holds Stripe usage reporting settings.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY"`
	MeterEventName  string       `envconfig:"STRIPE_METER_EVENT" default:"analyzed_tickets"`
}

// SecurityConfig holds CORS settings and the credential sealing key.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	// CredentialsKey is a 64 character hex string (32 bytes).
	CredentialsKey SecretString `envconfig:"CREDENTIALS_KEY" validate:"required,len=64,hexadecimal"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=none prometheus cloudwatch"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Inzikt"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
