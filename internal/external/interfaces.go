package external

import (
	"context"

	"inzikt/internal/types"
)

// UsageReporter sends one batch of billable usage to the billing provider.
type UsageReporter interface {
	ReportUsage(ctx context.Context, rec types.UsageRecord) error
}

// Compile-time checks.
var (
	_ types.TicketSource        = (*ZendeskSource)(nil)
	_ types.TicketSource        = (*FreshdeskSource)(nil)
	_ types.TicketSource        = (*IntercomSource)(nil)
	_ types.TicketSourceFactory = (*SourceFactory)(nil)
	_ types.TicketAnalyzer      = (*OpenAIAnalyzer)(nil)
	_ UsageReporter             = (*StripeClient)(nil)

	_ types.TicketSourceFactory = (*StubSourceFactory)(nil)
	_ types.TicketAnalyzer      = (*StubAnalyzer)(nil)
	_ UsageReporter             = (*StubUsageReporter)(nil)
)
