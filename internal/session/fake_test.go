package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/listing-intake/internal/connectors"
	"github.com/dwizi/listing-intake/internal/ingest"
	"github.com/dwizi/listing-intake/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	connectErr error
	events     []connectors.Event
	names      map[string]string
	ignoreStop bool
	sendErr    error

	mu        sync.Mutex
	sent      []string
	delivered chan struct{}
	stopped   chan struct{}
	release   chan struct{}
	stopOnce  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		delivered: make(chan struct{}),
		stopped:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Connect(ctx context.Context, identity connectors.Identity) error {
	return f.connectErr
}

func (f *fakeTransport) Listen(ctx context.Context, handler connectors.Handler) error {
	for _, event := range f.events {
		handler(ctx, event)
	}
	close(f.delivered)
	if f.ignoreStop {
		<-f.release
		return nil
	}
	select {
	case <-ctx.Done():
	case <-f.stopped:
	}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, recipient string, threadType connectors.ThreadType, content string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recipient+":"+content)
	return nil
}

func (f *fakeTransport) LookupUserName(ctx context.Context, userID string) (string, error) {
	return f.names[userID], nil
}

func (f *fakeTransport) StopListening() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

// transportQueue hands out prepared transports in order, one per Build.
type transportQueue struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (q *transportQueue) factory(identity connectors.Identity, logger *slog.Logger) (connectors.Transport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.transports) == 0 {
		return newFakeTransport(), nil
	}
	next := q.transports[0]
	q.transports = q.transports[1:]
	return next, nil
}

type fixture struct {
	manager *Manager
	store   *store.Store
	queue   *transportQueue
}

func newFixture(t *testing.T, transports ...*fakeTransport) fixture {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "session.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	queue := &transportQueue{transports: transports}
	registry := connectors.NewRegistry()
	registry.Register("fake", queue.factory)

	ingester := ingest.New(sqlStore, testLogger())
	manager := NewManager(sqlStore, ingester, registry, Config{StopTimeout: time.Second}, testLogger())
	ingester.SetActivityRecorder(manager)
	t.Cleanup(manager.StopAll)
	return fixture{manager: manager, store: sqlStore, queue: queue}
}

func (f fixture) createSession(t *testing.T, id string, autoStart bool) {
	t.Helper()
	if _, err := f.store.CreateSession(context.Background(), store.CreateSessionInput{
		ID:          id,
		Provider:    "fake",
		Credentials: "token-" + id,
		AutoStart:   autoStart,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
