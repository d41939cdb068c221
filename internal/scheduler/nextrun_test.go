package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inzikt/internal/types"
)

func ptr[T any](v T) *T { return &v }

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestComputeNextRun(t *testing.T) {
	tests := []struct {
		name string
		freq types.Frequency
		cron *string
		now  time.Time
		want time.Time
	}{
		{"daily completes mid-morning", types.FrequencyDaily, nil, utc(2024, 1, 1, 10, 0), utc(2024, 1, 2, 3, 0)},
		{"daily before 03:00 still goes to tomorrow", types.FrequencyDaily, nil, utc(2024, 1, 1, 2, 0), utc(2024, 1, 2, 3, 0)},
		{"daily across month end", types.FrequencyDaily, nil, utc(2024, 1, 31, 23, 59), utc(2024, 2, 1, 3, 0)},
		{"hourly mid-hour", types.FrequencyHourly, nil, utc(2024, 1, 1, 10, 15), utc(2024, 1, 1, 11, 0)},
		{"hourly on the hour", types.FrequencyHourly, nil, utc(2024, 1, 1, 10, 0), utc(2024, 1, 1, 11, 0)},
		{"hourly across midnight", types.FrequencyHourly, nil, utc(2024, 1, 1, 23, 30), utc(2024, 1, 2, 0, 0)},
		{"weekly", types.FrequencyWeekly, nil, utc(2024, 1, 1, 10, 0), utc(2024, 1, 8, 3, 0)},
		{"monthly from the 31st", types.FrequencyMonthly, nil, utc(2024, 1, 31, 10, 0), utc(2024, 2, 1, 3, 0)},
		{"monthly across year end", types.FrequencyMonthly, nil, utc(2024, 12, 15, 10, 0), utc(2025, 1, 1, 3, 0)},
		{"custom every quarter hour", types.FrequencyCustom, ptr("*/15 * * * *"), utc(2024, 1, 1, 10, 7), utc(2024, 1, 1, 10, 15)},
		{"custom descriptor", types.FrequencyCustom, ptr("@daily"), utc(2024, 1, 1, 10, 0), utc(2024, 1, 2, 0, 0)},
		{"custom weekdays at nine", types.FrequencyCustom, ptr("0 9 * * 1-5"), utc(2024, 1, 5, 10, 0), utc(2024, 1, 8, 9, 0)},
		{"custom without expression falls back", types.FrequencyCustom, nil, utc(2024, 1, 1, 10, 0), utc(2024, 1, 2, 0, 0)},
		{"custom blank expression falls back", types.FrequencyCustom, ptr("  "), utc(2024, 1, 1, 10, 0), utc(2024, 1, 2, 0, 0)},
		{"custom invalid expression falls back", types.FrequencyCustom, ptr("every tuesday"), utc(2024, 1, 1, 10, 0), utc(2024, 1, 2, 0, 0)},
		{"unknown frequency falls back", types.Frequency("fortnightly"), nil, utc(2024, 1, 1, 10, 0), utc(2024, 1, 2, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeNextRun(tt.freq, tt.cron, tt.now)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ComputeNextRun(tt.freq, tt.cron, tt.now), "must be pure")
			assert.True(t, got.After(tt.now), "next run must be strictly after now")
		})
	}
}

func TestComputeNextRun_NormalizesToUTC(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	// 00:30 CET on Jan 2 is 23:30 UTC on Jan 1.
	now := time.Date(2024, 1, 2, 0, 30, 0, 0, berlin)

	got := ComputeNextRun(types.FrequencyDaily, nil, now)
	assert.Equal(t, utc(2024, 1, 2, 3, 0), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestParseCron(t *testing.T) {
	_, err := ParseCron("0 3 * * *")
	require.NoError(t, err)
	_, err = ParseCron("@every 15m")
	require.NoError(t, err)
	_, err = ParseCron("61 * * * *")
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	src := map[string]HandlerFunc{
		"b": func(context.Context, types.JobParams) (types.JobResult, error) { return nil, nil },
		"a": func(context.Context, types.JobParams) (types.JobResult, error) { return types.JobResult{"x": 1}, nil },
		"z": nil,
	}
	reg := NewRegistry(src)
	src["c"] = src["a"]

	assert.Equal(t, []string{"a", "b"}, reg.Types(), "nil handlers dropped, later mutation ignored")
	h, ok := reg.Lookup("a")
	require.True(t, ok)
	res, err := h(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res["x"])
	_, ok = reg.Lookup("c")
	assert.False(t, ok)
}
