package types

import (
	"context"
)

// TicketSource fetches normalized tickets from one helpdesk account.
// Implemented by the provider adapters in the external package.
type TicketSource interface {
	// FetchTickets returns up to limit tickets, newest first. A limit of zero
	// fetches everything the account exposes.
	FetchTickets(ctx context.Context, limit int) ([]Ticket, error)
}

// TicketSourceFactory opens a TicketSource for a user's stored connection.
type TicketSourceFactory interface {
	ForUser(ctx context.Context, userID string, provider Provider) (TicketSource, error)
}

// TicketAnalyzer produces an AI analysis of one ticket.
type TicketAnalyzer interface {
	Analyze(ctx context.Context, t Ticket) (*TicketAnalysis, error)
}
