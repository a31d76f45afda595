package store

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func TestComputeScheduleNextRunWithCronExpr(t *testing.T) {
	from := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)
	next, err := ComputeScheduleNextRun("*/30 * * * *", from)
	if err != nil {
		t.Fatalf("compute next run: %v", err)
	}
	expected := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("expected %s, got %s", expected, next)
	}
}

func TestComputeScheduleNextRunHonorsTimezone(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	next, err := ComputeScheduleNextRunForTimezone("0 9 * * *", "Asia/Ho_Chi_Minh", from)
	if err != nil {
		t.Fatalf("compute next run: %v", err)
	}
	expected := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("expected %s, got %s", expected, next)
	}
}

func TestComputeScheduleNextRunEmptyExpression(t *testing.T) {
	next, err := ComputeScheduleNextRun("   ", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.IsZero() {
		t.Fatalf("expected zero time, got %s", next)
	}
}

func TestComputeScheduleNextRunRejectsInvalidCronExpr(t *testing.T) {
	_, err := ComputeScheduleNextRun("not-a-cron", time.Now().UTC())
	if err == nil {
		t.Fatal("expected invalid cron expression error")
	}
	if err := ValidateSchedule("0 * * * *", "Mars/Olympus"); err == nil {
		t.Fatal("expected invalid timezone error")
	}
}
