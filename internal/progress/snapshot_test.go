package progress

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inzikt/internal/types"
)

func strPtr(s string) *string { return &s }

func TestFromJob_Stage(t *testing.T) {
	tests := []struct {
		name     string
		status   types.AdhocStatus
		stage    *string
		progress int
		want     string
	}{
		{"derived scanning", types.AdhocProcessing, nil, 10, "scanning"},
		{"derived processing", types.AdhocProcessing, nil, 25, "processing"},
		{"derived processing upper", types.AdhocProcessing, nil, 74, "processing"},
		{"derived importing", types.AdhocProcessing, nil, 75, "importing"},
		{"pending derives", types.AdhocPending, nil, 0, "scanning"},
		{"explicit wins", types.AdhocProcessing, strPtr("importing"), 5, "importing"},
		{"empty explicit derives", types.AdhocProcessing, strPtr(""), 50, "processing"},
		{"failed maps directly", types.AdhocFailed, strPtr("importing"), 40, "failed"},
		{"completed maps directly", types.AdhocCompleted, nil, 100, "completed"},
		{"canceled maps directly", types.AdhocCanceled, strPtr("scanning"), 12, "canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromJob(&types.AdhocJob{ID: "j", Status: tt.status, Stage: tt.stage, Progress: tt.progress})
			assert.Equal(t, tt.want, s.Stage)
		})
	}
}

func TestFromJob_PercentageAndCompletion(t *testing.T) {
	s := FromJob(&types.AdhocJob{ID: "j", Status: types.AdhocProcessing, Progress: 10, ProcessedCount: 1, TotalTickets: 3})
	assert.Equal(t, 33, s.Percentage)
	assert.Equal(t, 10, s.Progress)
	assert.False(t, s.IsCompleted)
	assert.False(t, s.Final())

	s = FromJob(&types.AdhocJob{ID: "j", Status: types.AdhocProcessing, Progress: 65})
	assert.Equal(t, 65, s.Percentage, "falls back to progress without a total")

	// Progress 100 is enough even while the status lags.
	s = FromJob(&types.AdhocJob{ID: "j", Status: types.AdhocProcessing, Progress: 100})
	assert.True(t, s.IsCompleted)
	assert.True(t, s.Final())

	s = FromJob(&types.AdhocJob{ID: "j", Status: types.AdhocCompleted, Progress: 80})
	assert.True(t, s.IsCompleted)

	s = FromJob(&types.AdhocJob{ID: "j", Status: types.AdhocPending, IsCompleted: true})
	assert.True(t, s.IsCompleted)

	s = FromJob(&types.AdhocJob{ID: "j", Status: types.AdhocFailed, Progress: 40, ErrorMessage: strPtr("boom")})
	assert.False(t, s.IsCompleted)
	assert.True(t, s.Final())
	assert.Equal(t, "boom", *s.Error)
}

func TestFromJob_ProgressSequenceScenario(t *testing.T) {
	job := &types.AdhocJob{ID: "j", Status: types.AdhocPending}
	assert.False(t, FromJob(job).IsCompleted)

	job.Status = types.AdhocProcessing
	for _, p := range []int{30, 65} {
		job.Progress = p
		assert.False(t, FromJob(job).IsCompleted, "progress %d", p)
	}
	job.Progress = 100
	assert.True(t, FromJob(job).IsCompleted)
}

func TestSnapshot_GoldenShape(t *testing.T) {
	job := &types.AdhocJob{
		ID:             "job-1",
		UserID:         "u1",
		JobType:        types.AdhocImport,
		Status:         types.AdhocProcessing,
		Stage:          strPtr("importing"),
		Progress:       50,
		ProcessedCount: 2,
		TotalTickets:   4,
		CurrentTicket:  strPtr("Refund request"),
	}
	b, err := json.Marshal(FromJob(job))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"jobId": "job-1",
		"status": "processing",
		"stage": "importing",
		"totalTickets": 4,
		"processedCount": 2,
		"percentage": 50,
		"progress": 50,
		"isCompleted": false,
		"currentTicket": "Refund request"
	}`, string(b))
}
