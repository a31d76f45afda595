package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

type Transition struct {
	Component string `json:"component"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type MonitorConfig struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	Logger       *slog.Logger
	OnTransition func(context.Context, Transition)
}

// Monitor polls the registry and logs every component state change.
type Monitor struct {
	registry     *Registry
	interval     time.Duration
	staleAfter   time.Duration
	logger       *slog.Logger
	onTransition func(context.Context, Transition)
}

func NewMonitor(registry *Registry, cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry:     registry,
		interval:     interval,
		staleAfter:   cfg.StaleAfter,
		logger:       logger.With("component", "heartbeat"),
		onTransition: cfg.OnTransition,
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	if m.registry == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("heartbeat monitor started", "interval", m.interval.String(), "stale_after", m.staleAfter.String())

	previous := map[string]string{}
	for {
		m.evaluate(ctx, m.registry.Snapshot(m.staleAfter), previous)
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, snapshot Snapshot, previous map[string]string) {
	seen := make(map[string]struct{}, len(snapshot.Components))
	for _, status := range snapshot.Components {
		seen[status.Name] = struct{}{}
		before, known := previous[status.Name]
		previous[status.Name] = status.State
		if !known || before == status.State {
			continue
		}
		transition := Transition{
			Component: status.Name,
			FromState: before,
			ToState:   status.State,
			Message:   status.Message,
			Error:     status.Error,
		}
		m.log(transition)
		if m.onTransition != nil {
			m.onTransition(ctx, transition)
		}
	}
	for name := range previous {
		if _, ok := seen[name]; !ok {
			delete(previous, name)
		}
	}
}

func (m *Monitor) log(transition Transition) {
	args := []any{"target", transition.Component, "from", transition.FromState, "to", transition.ToState}
	if transition.Message != "" {
		args = append(args, "message", transition.Message)
	}
	if transition.Error != "" {
		args = append(args, "error", transition.Error)
	}
	if IsDegradedState(transition.ToState) {
		m.logger.Warn("component degraded", args...)
		return
	}
	m.logger.Info("component state changed", args...)
}
