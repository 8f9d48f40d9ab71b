package drift

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 10m". Schedules are evaluated in UTC, so timezone
// prefixes are rejected.
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, errors.New("drift: schedule is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, errors.New("drift: schedule must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("drift: invalid schedule %q: %w", clean, err)
	}
	return schedule, nil
}

// NextRun returns the first activation of expr after now, in UTC.
func NextRun(expr string, now time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now.UTC()), nil
}
