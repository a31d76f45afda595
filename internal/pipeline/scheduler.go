package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/listing-intake/internal/heartbeat"
	"github.com/dwizi/listing-intake/internal/store"
)

const heartbeatComponent = "pipeline"

type BatchRunner interface {
	RunBatch(ctx context.Context, pageSize int) BatchResult
}

type SchedulerConfig struct {
	// IntervalMinutes of zero disables the periodic loop; a non-empty Cron is
	// then the only thing that runs batches. A positive interval wins over Cron.
	IntervalMinutes int
	Cron            string
	Timezone        string
	PageSize        int
}

type Scheduler struct {
	runner   BatchRunner
	cfg      SchedulerConfig
	logger   *slog.Logger
	reporter heartbeat.Reporter
	now      func() time.Time
}

func NewScheduler(runner BatchRunner, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	cfg.Cron = strings.TrimSpace(cfg.Cron)
	if cfg.Cron != "" {
		if err := store.ValidateSchedule(cfg.Cron, cfg.Timezone); err != nil {
			return nil, fmt.Errorf("pipeline schedule: %w", err)
		}
	}
	if cfg.IntervalMinutes < 0 {
		return nil, fmt.Errorf("pipeline interval must not be negative")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger.With("component", "pipeline_scheduler"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Scheduler) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

// Enabled reports whether either a cron expression or a positive interval is
// configured. A positive interval takes precedence over cron.
func (s *Scheduler) Enabled() bool {
	return s.cfg.Cron != "" || s.cfg.IntervalMinutes > 0
}

// Start runs batches until ctx ends. A disabled scheduler blocks without
// running anything.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.Enabled() {
		if s.reporter != nil {
			s.reporter.Disabled(heartbeatComponent, "no interval or cron configured")
		}
		s.logger.Info("pipeline scheduler disabled")
		<-ctx.Done()
		return nil
	}
	if s.reporter != nil {
		s.reporter.Starting(heartbeatComponent, "started")
	}
	s.logger.Info("pipeline scheduler started", "interval_minutes", s.cfg.IntervalMinutes, "cron", s.cfg.Cron)

	cronMode := s.cfg.IntervalMinutes <= 0
	for ctx.Err() == nil {
		startedAt := s.now()
		if !cronMode {
			s.runOnce(ctx)
		}
		wait, err := s.nextWait(startedAt)
		if err != nil {
			if s.reporter != nil {
				s.reporter.Degrade(heartbeatComponent, "compute next run failed", err)
			}
			s.logger.Error("compute next pipeline run failed", "error", err)
			wait = time.Minute
		}
		if !sleep(ctx, wait) {
			break
		}
		if cronMode {
			s.runOnce(ctx)
		}
	}
	if s.reporter != nil {
		s.reporter.Stopped(heartbeatComponent, "stopped")
	}
	s.logger.Info("pipeline scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	result := s.runner.RunBatch(ctx, s.cfg.PageSize)
	if s.reporter == nil {
		return
	}
	message := fmt.Sprintf("batch %s processed=%d failed=%d", result.CorrelationID, result.Processed, result.Failed)
	if result.Failed > 0 && result.Processed == 0 {
		s.reporter.Degrade(heartbeatComponent, message, fmt.Errorf("no message in batch succeeded"))
		return
	}
	s.reporter.Beat(heartbeatComponent, message)
}

// nextWait returns how long to sleep after a batch that started at
// startedAt. Interval mode subtracts the batch duration.
func (s *Scheduler) nextWait(startedAt time.Time) (time.Duration, error) {
	now := s.now()
	if s.cfg.IntervalMinutes > 0 {
		remaining := time.Duration(s.cfg.IntervalMinutes)*time.Minute - now.Sub(startedAt)
		if remaining < 0 {
			remaining = 0
		}
		return remaining, nil
	}
	next, err := store.ComputeScheduleNextRunForTimezone(s.cfg.Cron, s.cfg.Timezone, now)
	if err != nil {
		return 0, err
	}
	return next.Sub(now), nil
}

func sleep(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
