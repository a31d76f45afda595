package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleCronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

const scheduleDefaultTimezone = "UTC"

func normalizeCronExpr(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.Join(strings.Fields(trimmed), " ")
}

// ComputeScheduleNextRun resolves the next pipeline run for a cron expression in UTC.
func ComputeScheduleNextRun(cronExpr string, from time.Time) (time.Time, error) {
	return ComputeScheduleNextRunForTimezone(cronExpr, scheduleDefaultTimezone, from)
}

// ComputeScheduleNextRunForTimezone evaluates the expression in the provided
// IANA timezone. An empty expression yields the zero time.
func ComputeScheduleNextRunForTimezone(cronExpr, timezone string, from time.Time) (time.Time, error) {
	cronExpr = normalizeCronExpr(cronExpr)
	if cronExpr == "" {
		return time.Time{}, nil
	}
	base := from
	if base.IsZero() {
		base = time.Now().UTC()
	}
	location, err := loadScheduleLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	schedule, err := scheduleCronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
	}
	return schedule.Next(base.In(location)).UTC(), nil
}

// ValidateSchedule checks a cron expression and timezone without computing a run.
func ValidateSchedule(cronExpr, timezone string) error {
	if _, err := loadScheduleLocation(timezone); err != nil {
		return err
	}
	if _, err := scheduleCronParser.Parse(normalizeCronExpr(cronExpr)); err != nil {
		return fmt.Errorf("parse cron expression: %w", err)
	}
	return nil
}

func loadScheduleLocation(raw string) (*time.Location, error) {
	timezone := strings.TrimSpace(raw)
	if timezone == "" {
		timezone = scheduleDefaultTimezone
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return location, nil
}
