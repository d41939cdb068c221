package types

import "time"

// Ticket is a support ticket normalized from any helpdesk provider.
type Ticket struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Provider       Provider   `json:"provider"`
	ExternalID     string     `json:"external_id"`
	Subject        string     `json:"subject"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	RequesterEmail string     `json:"requester_email,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`

	// Raw is the provider payload as received, kept for re-analysis.
	Raw []byte `json:"-"`
}

// TicketAnalysis is the AI-generated summary and tagging for one ticket.
type TicketAnalysis struct {
	TicketID  string    `json:"ticket_id"`
	Summary   string    `json:"summary"`
	Tags      []string  `json:"tags"`
	Sentiment string    `json:"sentiment"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// ProviderConnection holds the credentials a user configured for a helpdesk.
// Credentials are sealed and only opened by the adapter factory.
type ProviderConnection struct {
	UserID            string   `json:"user_id"`
	Provider          Provider `json:"provider"`
	Domain            string   `json:"domain"`
	Email             string   `json:"email,omitempty"`
	SealedCredentials []byte   `json:"-"`
}

// UsageRecord is a batch of analyzed tickets not yet reported to billing.
type UsageRecord struct {
	UserID           string
	StripeCustomerID string
	Quantity         int
	// ThroughID is the highest analysis row id included in Quantity.
	ThroughID int64
}
