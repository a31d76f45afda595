// Package heartbeat tracks the liveness of the pipeline scheduler, the
// catalog watcher and every chat session.
package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting  = "starting"
	StateHealthy   = "healthy"
	StateListening = "listening"
	StateStopping  = "stopping"
	StateDegraded  = "degraded"
	StateDisabled  = "disabled"
	StateStopped   = "stopped"
	StateStale     = "stale"
)

// SessionComponent is the component name a chat session reports under.
func SessionComponent(sessionID string) string {
	return "session:" + strings.TrimSpace(sessionID)
}

type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Listening(component, message string)
	Stopping(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
	Forget(component string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	BaseState      string `json:"base_state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
	Stale          bool   `json:"stale,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

type component struct {
	state      string
	message    string
	lastError  string
	lastBeatAt time.Time
	updatedAt  time.Time
}

type Registry struct {
	mu         sync.RWMutex
	components map[string]component
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: map[string]component{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Starting(name, message string) {
	r.update(name, StateStarting, message, nil, false)
}

// Beat marks the component healthy and refreshes its staleness clock.
func (r *Registry) Beat(name, message string) {
	r.update(name, StateHealthy, message, nil, true)
}

// Listening marks a component that is up but only acts on external input.
// Listening components never go stale.
func (r *Registry) Listening(name, message string) {
	r.update(name, StateListening, message, nil, true)
}

// Stopping marks a component that was told to stop and is still winding down.
func (r *Registry) Stopping(name, message string) {
	r.update(name, StateStopping, message, nil, false)
}

func (r *Registry) Degrade(name, message string, err error) {
	r.update(name, StateDegraded, message, err, false)
}

func (r *Registry) Disabled(name, message string) {
	r.update(name, StateDisabled, message, nil, false)
}

func (r *Registry) Stopped(name, message string) {
	r.update(name, StateStopped, message, nil, false)
}

// Forget drops a component entirely, e.g. after a session is cleaned up.
func (r *Registry) Forget(name string) {
	key := componentKey(name)
	if r == nil || key == "" {
		return
	}
	r.mu.Lock()
	delete(r.components, key)
	r.mu.Unlock()
}

// update is a no-op on a nil registry so a disabled heartbeat can still be
// passed around as a Reporter.
func (r *Registry) update(name, state, message string, err error, beat bool) {
	key := componentKey(name)
	if r == nil || key == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.components[key]
	record.state = state
	record.message = strings.TrimSpace(message)
	record.lastError = ""
	if err != nil {
		record.lastError = strings.TrimSpace(err.Error())
	}
	record.updatedAt = now
	if beat || record.lastBeatAt.IsZero() {
		record.lastBeatAt = now
	}
	r.components[key] = record
}

// Snapshot reports every component. Healthy or starting components that have
// not beaten within staleAfter are reported stale; zero disables the check.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()
	r.mu.RLock()
	statuses := make([]ComponentStatus, 0, len(r.components))
	for name, record := range r.components {
		status := ComponentStatus{
			Name:           name,
			State:          record.state,
			BaseState:      record.state,
			Message:        record.message,
			Error:          record.lastError,
			LastBeatAtUnix: record.lastBeatAt.Unix(),
			UpdatedAtUnix:  record.updatedAt.Unix(),
		}
		if staleAfter > 0 && canGoStale(record.state) && now.Sub(record.lastBeatAt) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		statuses = append(statuses, status)
	}
	r.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         overall(statuses),
		Components:      statuses,
	}
}

// Component returns one component's status from a snapshot.
func (s Snapshot) Component(name string) (ComponentStatus, bool) {
	key := componentKey(name)
	for _, status := range s.Components {
		if status.Name == key {
			return status, true
		}
	}
	return ComponentStatus{}, false
}

func IsDegradedState(state string) bool {
	return state == StateDegraded || state == StateStale
}

func componentKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func canGoStale(state string) bool {
	return state == StateHealthy || state == StateStarting
}

func overall(statuses []ComponentStatus) string {
	if len(statuses) == 0 {
		return "unknown"
	}
	active := false
	starting := false
	for _, status := range statuses {
		switch status.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting:
			starting = true
			active = true
		case StateHealthy, StateListening, StateStopping:
			active = true
		}
	}
	switch {
	case starting:
		return StateStarting
	case active:
		return StateHealthy
	default:
		return "idle"
	}
}
