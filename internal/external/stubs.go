package external

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inzikt/internal/types"
)

// Stub implementations let the service boot locally without vendor
// credentials. They log every call and return predictable data.

// StubSourceFactory hands out sources that produce a fixed set of sample
// tickets per provider.
type StubSourceFactory struct {
	logger *slog.Logger
	count  int
}

func NewStubSourceFactory(logger *slog.Logger, count int) *StubSourceFactory {
	return &StubSourceFactory{logger: logger, count: count}
}

func (f *StubSourceFactory) ForUser(ctx context.Context, userID string, provider types.Provider) (types.TicketSource, error) {
	f.logger.InfoContext(ctx, "stub: ForUser called", "user_id", userID, "provider", string(provider))
	return &stubSource{userID: userID, provider: provider, count: f.count}, nil
}

type stubSource struct {
	userID   string
	provider types.Provider
	count    int
}

var stubSubjects = []string{
	"Cannot log in after password reset",
	"Invoice shows the wrong amount",
	"Feature request: export to CSV",
	"App crashes when uploading photos",
	"How do I add a team member?",
}

func (s *stubSource) FetchTickets(_ context.Context, limit int) ([]types.Ticket, error) {
	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	out := make([]types.Ticket, 0, n)
	for i := 0; i < n; i++ {
		at := created.Add(time.Duration(i) * time.Hour)
		out = append(out, types.Ticket{
			UserID:      s.userID,
			Provider:    s.provider,
			ExternalID:  fmt.Sprintf("stub-%d", i+1),
			Subject:     stubSubjects[i%len(stubSubjects)],
			Description: "Sample ticket generated for local development.",
			Status:      "open",
			Tags:        []string{"sample"},
			CreatedAt:   &at,
			UpdatedAt:   &at,
		})
	}
	return out, nil
}

// StubAnalyzer derives a deterministic analysis from the subject.
type StubAnalyzer struct {
	logger *slog.Logger
}

func NewStubAnalyzer(logger *slog.Logger) *StubAnalyzer {
	return &StubAnalyzer{logger: logger}
}

func (a *StubAnalyzer) Analyze(ctx context.Context, t types.Ticket) (*types.TicketAnalysis, error) {
	a.logger.DebugContext(ctx, "stub: Analyze called", "ticket_id", t.ID)
	sentiment := "neutral"
	lower := strings.ToLower(t.Subject)
	if strings.Contains(lower, "cannot") || strings.Contains(lower, "crash") || strings.Contains(lower, "wrong") {
		sentiment = "negative"
	}
	return &types.TicketAnalysis{
		TicketID:  t.ID,
		Summary:   "Customer writes about: " + t.Subject,
		Tags:      []string{"stub"},
		Sentiment: sentiment,
		Model:     "stub",
		CreatedAt: time.Now().UTC(),
	}, nil
}

// StubUsageReporter accepts every report.
type StubUsageReporter struct {
	logger *slog.Logger
}

func NewStubUsageReporter(logger *slog.Logger) *StubUsageReporter {
	return &StubUsageReporter{logger: logger}
}

func (s *StubUsageReporter) ReportUsage(ctx context.Context, rec types.UsageRecord) error {
	s.logger.InfoContext(ctx, "stub: ReportUsage called",
		"user_id", rec.UserID,
		"quantity", rec.Quantity,
	)
	return nil
}
