// Package session owns the lifecycle of chat sessions: one goroutine per
// running session, each feeding inbound messages to ingestion.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/connectors"
	"github.com/dwizi/listing-intake/internal/heartbeat"
	"github.com/dwizi/listing-intake/internal/store"
)

// Session runtime states. Stopping covers the bounded join in Stop.
const (
	StateStarting  = "starting"
	StateListening = "listening"
	StateStopping  = "stopping"
	StateStopped   = "stopped"
	StateError     = "error"
)

// Store is the persisted side of a session: identity in, last state out.
type Store interface {
	LookupSession(ctx context.Context, id string) (store.Session, error)
	ListSessions(ctx context.Context) ([]store.Session, error)
	UpdateSessionState(ctx context.Context, id, state, lastError string) error
}

// TransportBuilder turns a stored identity into an unconnected transport.
type TransportBuilder interface {
	Build(identity connectors.Identity, logger *slog.Logger) (connectors.Transport, error)
}

type Config struct {
	// StopTimeout bounds how long Stop waits for a listener goroutine.
	StopTimeout time.Duration
}

type Status struct {
	SessionID        string     `json:"session_id"`
	Name             string     `json:"name,omitempty"`
	Provider         string     `json:"provider,omitempty"`
	Running          bool       `json:"running"`
	State            string     `json:"state"`
	MessagesReceived int64      `json:"messages_received"`
	MessagesSent     int64      `json:"messages_sent"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

type runtimeState struct {
	mu           sync.Mutex
	id           string
	generation   uint64
	running      bool
	stopping     bool
	state        string
	received     int64
	sent         int64
	lastActivity time.Time
	startTime    time.Time
	lastError    string
	transport    connectors.Transport
	cancel       context.CancelFunc
	done         chan struct{}
}

type Manager struct {
	store      Store
	ingester   Ingester
	transports TransportBuilder
	cfg        Config
	logger     *slog.Logger
	reporter   heartbeat.Reporter
	now        func() time.Time

	mu          sync.Mutex
	sessions    map[string]*runtimeState
	generations uint64
}

func NewManager(sessionStore Store, ingester Ingester, transports TransportBuilder, cfg Config, logger *slog.Logger) *Manager {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      sessionStore,
		ingester:   ingester,
		transports: transports,
		cfg:        cfg,
		logger:     logger.With("component", "session_manager"),
		now:        func() time.Time { return time.Now().UTC() },
		sessions:   map[string]*runtimeState{},
	}
}

func (m *Manager) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	m.reporter = reporter
}

// Start connects the session and returns once the first connect attempt has
// resolved. A failed connect leaves the session in the error state and is
// not retried.
func (m *Manager) Start(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	runtime, generation, err := m.reserve(id)
	if err != nil {
		return err
	}
	if m.reporter != nil {
		m.reporter.Starting(heartbeat.SessionComponent(id), "connecting")
	}
	logger := m.logger.With("session_id", id)

	stored, err := m.store.LookupSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			err = apperr.Wrap(apperr.KindNotFound, "session.start", err)
		} else {
			err = apperr.Wrap(apperr.KindStoreTransient, "session.start", err)
		}
		m.fail(runtime, generation, err)
		return err
	}
	identity := connectors.Identity{
		SessionID:   stored.ID,
		Provider:    stored.Provider,
		Credentials: stored.Credentials,
		DeviceID:    stored.DeviceID,
		Settings:    stored.Settings,
	}
	transport, err := m.transports.Build(identity, m.logger)
	if err != nil {
		m.fail(runtime, generation, err)
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	runtime.mu.Lock()
	if runtime.generation != generation || !runtime.running {
		runtime.mu.Unlock()
		cancel()
		return apperr.New(apperr.KindConflict, "session.start", "session stopped while starting")
	}
	runtime.transport = transport
	runtime.cancel = cancel
	runtime.done = done
	runtime.mu.Unlock()

	listener := NewListener(identity, transport, m.ingester, m.logger)
	listener.onConnected = func() { m.connected(runtime, generation) }
	listener.onExit = func(err error) { m.exited(runtime, generation, err) }
	ready := make(chan error, 1)
	go func() {
		defer close(done)
		listener.Run(sessionCtx, ready)
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			m.fail(runtime, generation, err)
			logger.Error("session connect failed", "provider", stored.Provider, "error", err)
			return err
		}
		logger.Info("session started", "provider", stored.Provider)
		return nil
	case <-ctx.Done():
		cancel()
		transport.StopListening()
		m.fail(runtime, generation, ctx.Err())
		return ctx.Err()
	}
}

// reserve marks the session as starting under the registry lock so two
// concurrent starts cannot both proceed.
func (m *Manager) reserve(id string) (*runtimeState, uint64, error) {
	if id == "" {
		return nil, 0, apperr.Wrap(apperr.KindNotFound, "session.start", store.ErrSessionNotFound)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	runtime := m.sessions[id]
	if runtime == nil {
		runtime = &runtimeState{id: id}
		m.sessions[id] = runtime
	}
	runtime.mu.Lock()
	defer runtime.mu.Unlock()
	if runtime.running {
		return nil, 0, apperr.Wrap(apperr.KindConflict, "session.start", apperr.ErrAlreadyRunning)
	}
	m.generations++
	runtime.generation = m.generations
	runtime.running = true
	runtime.stopping = false
	runtime.state = StateStarting
	runtime.lastError = ""
	runtime.startTime = m.now()
	return runtime, runtime.generation, nil
}

func (m *Manager) connected(runtime *runtimeState, generation uint64) {
	runtime.mu.Lock()
	if runtime.generation != generation || !runtime.running || runtime.stopping {
		runtime.mu.Unlock()
		return
	}
	runtime.state = StateListening
	runtime.received = 0
	runtime.sent = 0
	runtime.lastActivity = time.Time{}
	runtime.lastError = ""
	runtime.mu.Unlock()
	if m.reporter != nil {
		m.reporter.Listening(heartbeat.SessionComponent(runtime.id), "listening")
	}
	m.persist(runtime.id, StateListening, "")
}

func (m *Manager) fail(runtime *runtimeState, generation uint64, err error) {
	runtime.mu.Lock()
	if runtime.generation != generation || runtime.state == StateStopped {
		runtime.mu.Unlock()
		return
	}
	runtime.running = false
	runtime.state = StateError
	runtime.lastError = err.Error()
	runtime.transport = nil
	runtime.cancel = nil
	runtime.mu.Unlock()
	if m.reporter != nil {
		m.reporter.Degrade(heartbeat.SessionComponent(runtime.id), "session failed", err)
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		m.persist(runtime.id, StateError, err.Error())
	}
}

// exited runs when the receive loop returns. A goroutine from an older
// generation, or one that Stop already accounted for, changes nothing.
func (m *Manager) exited(runtime *runtimeState, generation uint64, err error) {
	runtime.mu.Lock()
	if runtime.generation != generation || !runtime.running || runtime.stopping {
		runtime.mu.Unlock()
		return
	}
	runtime.mu.Unlock()
	if err != nil {
		m.logger.Warn("session receive loop ended", "session_id", runtime.id, "error", err)
		m.fail(runtime, generation, err)
		return
	}
	runtime.mu.Lock()
	runtime.running = false
	runtime.state = StateStopped
	runtime.transport = nil
	runtime.mu.Unlock()
	if m.reporter != nil {
		m.reporter.Stopped(heartbeat.SessionComponent(runtime.id), "receive loop ended")
	}
	m.persist(runtime.id, StateStopped, "")
}

// Stop signals the session and waits up to the configured timeout for its
// goroutine. A goroutine that outlives the timeout is abandoned and the
// session still counts as stopped.
func (m *Manager) Stop(id string) (bool, error) {
	id = strings.TrimSpace(id)
	m.mu.Lock()
	runtime := m.sessions[id]
	m.mu.Unlock()
	if runtime == nil {
		return false, nil
	}

	runtime.mu.Lock()
	if !runtime.running {
		runtime.mu.Unlock()
		return false, nil
	}
	runtime.stopping = true
	runtime.state = StateStopping
	generation := runtime.generation
	cancel, transport, done := runtime.cancel, runtime.transport, runtime.done
	runtime.mu.Unlock()
	if m.reporter != nil {
		m.reporter.Stopping(heartbeat.SessionComponent(id), "stopping")
	}
	m.persist(id, StateStopping, "")

	if cancel != nil {
		cancel()
	}
	if transport != nil {
		transport.StopListening()
	}
	if done != nil {
		timer := time.NewTimer(m.cfg.StopTimeout)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			m.logger.Warn("session did not stop in time, abandoning", "session_id", id, "timeout", m.cfg.StopTimeout.String())
		}
	}

	runtime.mu.Lock()
	if runtime.generation == generation {
		runtime.running = false
		runtime.stopping = false
		runtime.state = StateStopped
		runtime.transport = nil
		runtime.cancel = nil
	}
	runtime.mu.Unlock()
	if m.reporter != nil {
		m.reporter.Stopped(heartbeat.SessionComponent(id), "stopped")
	}
	m.persist(id, StateStopped, "")
	m.logger.Info("session stopped", "session_id", id)
	return true, nil
}

// Cleanup stops the session if needed and drops its runtime state. The
// stored identity is kept.
func (m *Manager) Cleanup(id string) (bool, error) {
	id = strings.TrimSpace(id)
	if _, err := m.Stop(id); err != nil {
		return false, err
	}
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if m.reporter != nil {
		m.reporter.Forget(heartbeat.SessionComponent(id))
	}
	if existed {
		m.logger.Info("session cleaned up", "session_id", id)
	}
	return existed, nil
}

// RecordReceived counts one accepted inbound message for the session.
func (m *Manager) RecordReceived(sessionID string, at time.Time) {
	runtime := m.lookup(sessionID)
	if runtime == nil {
		return
	}
	runtime.mu.Lock()
	runtime.received++
	runtime.lastActivity = at
	runtime.mu.Unlock()
}

// Send delivers content through the session's live transport.
func (m *Manager) Send(ctx context.Context, id, recipient string, threadType connectors.ThreadType, content string) error {
	if strings.TrimSpace(recipient) == "" || strings.TrimSpace(content) == "" {
		return apperr.New(apperr.KindValidation, "session.send", "recipient and content are required")
	}
	runtime := m.lookup(id)
	if runtime == nil {
		return apperr.Wrap(apperr.KindNotFound, "session.send", fmt.Errorf("%w: %s is not running", store.ErrSessionNotFound, id))
	}
	runtime.mu.Lock()
	transport := runtime.transport
	listening := runtime.running && runtime.state == StateListening
	runtime.mu.Unlock()
	if !listening || transport == nil {
		return apperr.New(apperr.KindConflict, "session.send", "session is not listening")
	}
	if err := transport.Send(ctx, recipient, threadType, content); err != nil {
		return err
	}
	runtime.mu.Lock()
	runtime.sent++
	runtime.lastActivity = m.now()
	runtime.mu.Unlock()
	return nil
}

func (m *Manager) Status(ctx context.Context, id string) (Status, error) {
	id = strings.TrimSpace(id)
	stored, err := m.store.LookupSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			if runtime := m.lookup(id); runtime != nil {
				return runtime.status(), nil
			}
			return Status{}, apperr.Wrap(apperr.KindNotFound, "session.status", err)
		}
		return Status{}, apperr.Wrap(apperr.KindStoreTransient, "session.status", err)
	}
	return m.merge(stored), nil
}

// List reports every stored session, overlaid with live runtime state.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	stored, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreTransient, "session.list", err)
	}
	statuses := make([]Status, 0, len(stored))
	for _, session := range stored {
		statuses = append(statuses, m.merge(session))
	}
	return statuses, nil
}

func (m *Manager) merge(stored store.Session) Status {
	status := Status{SessionID: stored.ID, State: stored.LastState, LastError: stored.LastError}
	if runtime := m.lookup(stored.ID); runtime != nil {
		status = runtime.status()
	}
	if status.State == "" {
		status.State = StateStopped
	}
	status.Name = stored.Name
	status.Provider = stored.Provider
	return status
}

// StartAutoSessions starts every stored session flagged for auto start and
// returns how many connected.
func (m *Manager) StartAutoSessions(ctx context.Context) (int, error) {
	stored, err := m.store.ListSessions(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreTransient, "session.autostart", err)
	}
	started := 0
	for _, session := range stored {
		if !session.AutoStart {
			continue
		}
		if err := m.Start(ctx, session.ID); err != nil {
			m.logger.Error("auto start failed", "session_id", session.ID, "kind", string(apperr.KindOf(err)), "error", err)
			continue
		}
		started++
	}
	return started, nil
}

// StopAll stops every running session in parallel.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var group errgroup.Group
	for _, id := range ids {
		group.Go(func() error {
			_, err := m.Stop(id)
			return err
		})
	}
	_ = group.Wait()
}

func (m *Manager) lookup(id string) *runtimeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[strings.TrimSpace(id)]
}

func (m *Manager) persist(id, state, lastError string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.UpdateSessionState(ctx, id, state, lastError); err != nil {
		m.logger.Warn("persist session state failed", "session_id", id, "state", state, "error", err)
	}
}

func (r *runtimeState) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := Status{
		SessionID:        r.id,
		Running:          r.running && !r.stopping,
		State:            r.state,
		MessagesReceived: r.received,
		MessagesSent:     r.sent,
		LastError:        r.lastError,
	}
	if !r.lastActivity.IsZero() {
		lastActivity := r.lastActivity
		status.LastActivity = &lastActivity
	}
	if !r.startTime.IsZero() {
		startTime := r.startTime
		status.StartTime = &startTime
	}
	return status
}
