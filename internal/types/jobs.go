package types

import (
	"encoding/json"
	"math"
	"time"
)

// Frequency is the cadence of a recurring ScheduledJob.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	}
	return false
}

// ExecutionStatus is the state of a single JobExecution. Pending is a logical
// pre-state only; rows are inserted as running.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// AdhocStatus is the state of a user-triggered background job.
//
//	pending -> processing -> completed | failed | canceled
//	pending -> canceled
type AdhocStatus string

const (
	AdhocPending    AdhocStatus = "pending"
	AdhocProcessing AdhocStatus = "processing"
	AdhocCompleted  AdhocStatus = "completed"
	AdhocFailed     AdhocStatus = "failed"
	AdhocCanceled   AdhocStatus = "canceled"
)

// IsActive reports whether the job still occupies the single active slot for
// its (user, type) pair.
func (s AdhocStatus) IsActive() bool {
	return s == AdhocPending || s == AdhocProcessing
}

// IsTerminal reports whether the job has finished for any reason.
func (s AdhocStatus) IsTerminal() bool {
	return s == AdhocCompleted || s == AdhocFailed || s == AdhocCanceled
}

// AdhocJobType names the kind of ad-hoc work.
type AdhocJobType string

const (
	AdhocImport   AdhocJobType = "import"
	AdhocAnalysis AdhocJobType = "analysis"
	AdhocExport   AdhocJobType = "export"
)

// ParseAdhocJobType validates a raw job type string.
func ParseAdhocJobType(s string) (AdhocJobType, bool) {
	switch t := AdhocJobType(s); t {
	case AdhocImport, AdhocAnalysis, AdhocExport:
		return t, true
	}
	return "", false
}

// Provider identifies an external helpdesk.
type Provider string

const (
	ProviderZendesk   Provider = "zendesk"
	ProviderFreshdesk Provider = "freshdesk"
	ProviderIntercom  Provider = "intercom"
)

// ParseProvider validates a raw provider string.
func ParseProvider(s string) (Provider, bool) {
	switch p := Provider(s); p {
	case ProviderZendesk, ProviderFreshdesk, ProviderIntercom:
		return p, true
	}
	return "", false
}

// ScheduledJob is a recurring task definition.
type ScheduledJob struct {
	ID             string     `json:"id"`
	JobType        string     `json:"job_type"`
	Frequency      Frequency  `json:"frequency"`
	CronExpression *string    `json:"cron_expression,omitempty"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        time.Time  `json:"next_run"`
	Enabled        bool       `json:"enabled"`
	UserID         *string    `json:"user_id,omitempty"`
	Parameters     JobParams  `json:"parameters"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// OwnerID returns the owning user or "" for system jobs.
func (j *ScheduledJob) OwnerID() string {
	if j.UserID == nil {
		return ""
	}
	return *j.UserID
}

// JobExecution is one historical run of a ScheduledJob.
type JobExecution struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  *int64          `json:"duration_ms,omitempty"`
	Result      JobResult       `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

// AdhocJob is a one-shot, user-triggered, progress-reporting job. The JSON
// shape mirrors the stored row and is what brokers carry between processes.
type AdhocJob struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	JobType        AdhocJobType `json:"job_type"`
	Status         AdhocStatus  `json:"status"`
	Provider       *Provider    `json:"provider,omitempty"`
	Progress       int          `json:"progress"`
	TotalTickets   int          `json:"total_tickets"`
	ProcessedCount int          `json:"processed_count"`
	IsCompleted    bool         `json:"is_completed"`
	Stage          *string      `json:"stage,omitempty"`
	CurrentTicket  *string      `json:"current_ticket,omitempty"`
	ErrorMessage   *string      `json:"error_message,omitempty"`
	Parameters     JobParams    `json:"parameters,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// ProgressPercent converts processed/total into the 0-100 integer stored in
// the progress column.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(processed) * 100 / float64(total)))
	return ClampProgress(p)
}

// ClampProgress bounds p to [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// JobParams is the opaque parameter payload handed verbatim to a handler.
type JobParams map[string]any

// JobResult is the opaque payload a handler returns on success.
type JobResult map[string]any

// String returns the string value stored under key.
func (p JobParams) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Int returns the integer value stored under key or def when absent or not
// numeric. JSON numbers arrive as float64.
func (p JobParams) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
