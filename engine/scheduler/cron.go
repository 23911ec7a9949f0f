package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowmatic/flowmatic/engine/core"
)

// Cron expressions carry 5 fields (minute hour dom month dow) or 6 with a
// leading seconds field.
var (
	fiveFieldParser = cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)
	sixFieldParser = cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)
)

// ParseCron parses a 5- or 6-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	var (
		schedule cron.Schedule
		err      error
	)
	switch len(fields) {
	case 5:
		schedule, err = fiveFieldParser.Parse(expr)
	case 6:
		schedule, err = sixFieldParser.Parse(expr)
	default:
		return nil, core.SchedulerError(core.CodeSchedulerInvalidCron,
			fmt.Sprintf("cron expression %q must have 5 or 6 fields, got %d", expr, len(fields)))
	}
	if err != nil {
		return nil, core.SchedulerError(core.CodeSchedulerInvalidCron,
			fmt.Sprintf("invalid cron expression %q: %s", expr, err))
	}
	return schedule, nil
}

// NextCron computes the next fire time strictly after t, evaluated in the
// given timezone (UTC when empty). Expressions that never fire within a
// year of t return a zero time and an error.
func NextCron(expr, timezone string, t time.Time) (time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, core.SchedulerError(core.CodeSchedulerInvalidCron,
				fmt.Sprintf("invalid timezone %q: %s", timezone, err))
		}
	}
	next := schedule.Next(t.In(loc))
	if next.IsZero() || next.After(t.Add(366*24*time.Hour)) {
		return time.Time{}, core.SchedulerError(core.CodeSchedulerInvalidCron,
			fmt.Sprintf("cron expression %q does not fire within a year", expr))
	}
	return next, nil
}

// ValidateCron reports whether the expression parses and fires within a
// year.
func ValidateCron(expr, timezone string) error {
	_, err := NextCron(expr, timezone, time.Now())
	return err
}
