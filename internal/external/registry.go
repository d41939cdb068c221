package external

import (
	"log/slog"
	"net/http"
	"time"

	"inzikt/internal/config"
	"inzikt/internal/types"
)

// stubTicketCount is how many sample tickets a stub source yields.
const stubTicketCount = 25

// ClientRegistry is the single place the rest of the application gets its
// vendor clients from.
type ClientRegistry struct {
	Sources  types.TicketSourceFactory
	Analyzer types.TicketAnalyzer
	Usage    UsageReporter
}

// RegistryOption injects dependencies that do not come from config.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	conns      ConnectionStore
	opener     CredentialOpener
	helpdeskHC *http.Client
}

// WithConnections provides the stored connections and the key that opens
// their credentials. Required outside local mode.
func WithConnections(conns ConnectionStore, opener CredentialOpener) RegistryOption {
	return func(rc *registryConfig) {
		rc.conns = conns
		rc.opener = opener
	}
}

// WithHelpdeskHTTPClient sets the client used for helpdesk calls.
func WithHelpdeskHTTPClient(c *http.Client) RegistryOption {
	return func(rc *registryConfig) {
		rc.helpdeskHC = c
	}
}

// NewClientRegistry builds real clients, or stubs when APP_ENV=local. Outside
// local mode a client whose key is unset is also stubbed, with a warning.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}
	stubLogger := logger.With("mode", "stub")

	if cfg.Environment == "local" {
		logger.Info("initializing external clients in STUB mode", "environment", cfg.Environment)
		return &ClientRegistry{
			Sources:  NewStubSourceFactory(stubLogger, stubTicketCount),
			Analyzer: NewStubAnalyzer(stubLogger),
			Usage:    NewStubUsageReporter(stubLogger),
		}
	}

	reg := &ClientRegistry{}

	helpdesk := rc.helpdeskHC
	if helpdesk == nil {
		helpdesk = &http.Client{Timeout: 30 * time.Second}
	}
	reg.Sources = NewSourceFactory(rc.conns, rc.opener, helpdesk)

	if key := cfg.OpenAI.APIKey.Unmask(); key != "" {
		base := NewBaseClient(&http.Client{Timeout: cfg.OpenAI.Timeout}, "openai",
			DefaultRetryPolicy(), types.ErrCodeUpstreamOpenAI)
		reg.Analyzer = NewOpenAIAnalyzer(base, cfg.OpenAI.BaseURL, key, cfg.OpenAI.Model)
	} else {
		logger.Warn("OPENAI_API_KEY not set, ticket analysis uses the stub analyzer")
		reg.Analyzer = NewStubAnalyzer(stubLogger)
	}

	if key := cfg.Billing.StripeSecretKey.Unmask(); key != "" {
		base := NewBaseClient(&http.Client{Timeout: 20 * time.Second}, "stripe",
			RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
			types.ErrCodeUpstreamStripe)
		reg.Usage = NewStripeClient(base, StripeClientConfig{
			SecretKey: key,
			EventName: cfg.Billing.MeterEventName,
			Logger:    logger.With("client", "stripe"),
		})
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, usage reports are logged only")
		reg.Usage = NewStubUsageReporter(stubLogger)
	}

	return reg
}
