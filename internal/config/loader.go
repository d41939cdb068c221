package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig and names the failing stage.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SecretProvider resolves parameter-store paths into plaintext values.
// Paths missing from the returned map are reported by the loader.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// An env var named FOO_SSM_PARAM holds the parameter path whose value becomes FOO.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

// envSource abstracts the process environment so tests need not mutate it.
type envSource struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
}

func osEnv() envSource {
	return envSource{lookup: os.LookupEnv, set: os.Setenv, environ: os.Environ}
}

// LoadConfig builds the process configuration:
//
//  1. pin the process timezone to UTC
//  2. read .env if present (never overrides real env vars)
//  3. outside local, resolve *_SSM_PARAM pointers through provider
//  4. populate Config from envconfig tags
//  5. attach build metadata and validate
//
// provider may be nil for local runs.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return load(provider, osEnv())
}

func load(provider SecretProvider, env envSource) (*Config, error) {
	time.Local = time.UTC
	_ = godotenv.Load()

	appEnv, _ := env.lookup("APP_ENV")
	if appEnv != localEnv {
		if err := injectSecrets(provider, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	if err := cfg.checkEnvironmentRules(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkEnvironmentRules enforces requirements that depend on APP_ENV or on
// other fields and therefore cannot be expressed as struct tags.
func (c *Config) checkEnvironmentRules() error {
	if c.Environment != localEnv && c.Scheduler.CronSecret.IsEmpty() {
		return &ConfigError{Type: ErrMissingEnv, Message: "CRON_SECRET is required outside local"}
	}
	if c.Jobs.Dispatcher == "sqs" && c.AWS.JobQueueURL == "" {
		return &ConfigError{Type: ErrMissingEnv, Message: "SQS_JOB_QUEUE is required when JOB_DISPATCHER=sqs"}
	}
	if c.Progress.Broker == "redis" && c.Progress.RedisURL.IsEmpty() {
		return &ConfigError{Type: ErrMissingEnv, Message: "REDIS_URL is required when PROGRESS_BROKER=redis"}
	}
	if c.Scheduler.HandlerTimeout < 0 {
		return &ConfigError{Type: ErrValidation, Message: "SCHEDULER_HANDLER_TIMEOUT must not be negative"}
	}
	return nil
}

// IsLocal reports whether the process runs against local infrastructure.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ResolveSecrets runs only the parameter-store injection step. Lambda entry
// points call it before reading individual variables.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return injectSecrets(provider, osEnv())
}

func injectSecrets(provider SecretProvider, env envSource) error {
	targets := make(map[string]string) // path -> env var
	for _, entry := range env.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		targets[path] = target
	}
	if len(targets) == 0 {
		return nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			names = append(names, targets[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("a SecretProvider is required to resolve: %s", strings.Join(names, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		v, ok := values[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := env.set(targets[p], v); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "failed to set " + targets[p], Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
