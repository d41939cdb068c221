package scheduler

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"inzikt/internal/types"
)

// Fixed-cadence jobs run at this hour UTC.
const maintenanceHour = 3

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates a standard five-field expression or descriptor such
// as "@daily" or "@every 15m".
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(strings.TrimSpace(expr))
}

// ComputeNextRun returns the next time a job with the given cadence is due
// after now. It is pure: identical inputs give identical output, and the
// result is always strictly after now. All arithmetic is in UTC.
//
//	hourly   top of the next hour
//	daily    03:00 the following day
//	weekly   03:00 seven days ahead
//	monthly  03:00 on the 1st of the next month
//	custom   next cron match; midnight the following day if unparsable
func ComputeNextRun(freq types.Frequency, cronExpr *string, now time.Time) time.Time {
	now = now.UTC()
	y, m, d := now.Date()

	switch freq {
	case types.FrequencyHourly:
		return now.Truncate(time.Hour).Add(time.Hour)
	case types.FrequencyDaily:
		return time.Date(y, m, d+1, maintenanceHour, 0, 0, 0, time.UTC)
	case types.FrequencyWeekly:
		return time.Date(y, m, d+7, maintenanceHour, 0, 0, 0, time.UTC)
	case types.FrequencyMonthly:
		return time.Date(y, m+1, 1, maintenanceHour, 0, 0, 0, time.UTC)
	case types.FrequencyCustom:
		if cronExpr != nil && strings.TrimSpace(*cronExpr) != "" {
			if sched, err := ParseCron(*cronExpr); err == nil {
				if next := sched.Next(now); !next.IsZero() {
					return next.UTC()
				}
			}
		}
	}
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// usesFallback reports whether ComputeNextRun would fall back to midnight.
func usesFallback(freq types.Frequency, cronExpr *string) bool {
	switch freq {
	case types.FrequencyHourly, types.FrequencyDaily, types.FrequencyWeekly, types.FrequencyMonthly:
		return false
	case types.FrequencyCustom:
		if cronExpr == nil {
			return true
		}
		_, err := ParseCron(*cronExpr)
		return err != nil
	}
	return true
}
