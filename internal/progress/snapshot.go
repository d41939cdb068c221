// Package progress turns ad-hoc job rows into the normalized progress shape
// and delivers it to pollers and push subscribers. Both paths build their
// payload through FromJob.
package progress

import (
	"inzikt/internal/types"
)

// Snapshot is the client-facing view of an ad-hoc job.
type Snapshot struct {
	JobID          string            `json:"jobId"`
	Status         types.AdhocStatus `json:"status"`
	Stage          string            `json:"stage"`
	TotalTickets   int               `json:"totalTickets"`
	ProcessedCount int               `json:"processedCount"`
	Percentage     int               `json:"percentage"`
	Progress       int               `json:"progress"`
	IsCompleted    bool              `json:"isCompleted"`
	CurrentTicket  *string           `json:"currentTicket,omitempty"`
	Error          *string           `json:"error,omitempty"`
}

// FromJob normalizes a job row.
func FromJob(j *types.AdhocJob) Snapshot {
	progress := types.ClampProgress(j.Progress)
	s := Snapshot{
		JobID:          j.ID,
		Status:         j.Status,
		Stage:          stageOf(j, progress),
		TotalTickets:   j.TotalTickets,
		ProcessedCount: j.ProcessedCount,
		Percentage:     progress,
		Progress:       progress,
		IsCompleted:    j.IsCompleted || j.Status == types.AdhocCompleted || progress >= 100,
		CurrentTicket:  j.CurrentTicket,
		Error:          j.ErrorMessage,
	}
	if j.TotalTickets > 0 {
		s.Percentage = types.ProgressPercent(j.ProcessedCount, j.TotalTickets)
	}
	return s
}

func stageOf(j *types.AdhocJob, progress int) string {
	switch j.Status {
	case types.AdhocFailed, types.AdhocCompleted, types.AdhocCanceled:
		return string(j.Status)
	}
	if j.Stage != nil && *j.Stage != "" {
		return *j.Stage
	}
	switch {
	case progress < 25:
		return "scanning"
	case progress < 75:
		return "processing"
	default:
		return "importing"
	}
}

// Final reports whether no further updates are expected. A snapshot at 100%
// counts even while the status still says processing.
func (s Snapshot) Final() bool {
	return s.IsCompleted || s.Status.IsTerminal()
}
