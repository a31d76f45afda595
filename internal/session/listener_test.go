package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dwizi/listing-intake/internal/connectors"
	"github.com/dwizi/listing-intake/internal/ingest"
)

type recordingIngester struct {
	mu     sync.Mutex
	inputs []ingest.Input
	err    error
}

func (r *recordingIngester) Ingest(ctx context.Context, input ingest.Input) (ingest.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, input)
	if r.err != nil {
		return ingest.Result{}, r.err
	}
	return ingest.Result{MessageID: "msg-1", Created: true}, nil
}

func TestHandleResolvesSenderLabel(t *testing.T) {
	transport := newFakeTransport()
	transport.names = map[string]string{"200": "Minh"}
	ingester := &recordingIngester{}
	identity := connectors.Identity{SessionID: "s1", Provider: "fake", Credentials: "x"}
	listener := NewListener(identity, transport, ingester, testLogger())

	events := []connectors.Event{
		{SenderID: "100", SenderName: "Hoa", Content: "one", ThreadID: "t1", ThreadType: connectors.ThreadGroup},
		{SenderID: "200", Content: "two", ThreadID: "t1", ThreadType: connectors.ThreadGroup},
		{SenderID: "300", Content: "three", ThreadID: "t2", ThreadType: connectors.ThreadUser},
		{SenderID: "", Content: "no sender"},
		{SenderID: "400", Content: "   "},
	}
	for _, event := range events {
		listener.Handle(context.Background(), event)
	}

	if len(ingester.inputs) != 3 {
		t.Fatalf("expected 3 ingested events, got %d", len(ingester.inputs))
	}
	want := []string{"Hoa", "Minh", "User_300"}
	for i, label := range want {
		if ingester.inputs[i].SenderLabel != label {
			t.Fatalf("event %d: expected label %q, got %q", i, label, ingester.inputs[i].SenderLabel)
		}
		if ingester.inputs[i].SessionID != "s1" {
			t.Fatalf("event %d: expected session id s1, got %q", i, ingester.inputs[i].SessionID)
		}
	}
	if ingester.inputs[2].ThreadType != "user" || ingester.inputs[2].ThreadID != "t2" {
		t.Fatalf("unexpected thread fields %+v", ingester.inputs[2])
	}
}

func TestRunKeepsReceivingAfterIngestFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.events = []connectors.Event{
		{SenderID: "1", Content: "first"},
		{SenderID: "2", Content: "second"},
	}
	ingester := &recordingIngester{err: errors.New("database is locked")}
	identity := connectors.Identity{SessionID: "s1", Provider: "fake", Credentials: "x"}
	listener := NewListener(identity, transport, ingester, testLogger())

	connected := false
	exited := make(chan error, 1)
	listener.onConnected = func() { connected = true }
	listener.onExit = func(err error) { exited <- err }

	ready := make(chan error, 1)
	go listener.Run(context.Background(), ready)
	if err := <-ready; err != nil {
		t.Fatalf("ready: %v", err)
	}
	if !connected {
		t.Fatal("expected connect callback before ready")
	}
	waitClosed(t, transport.delivered, "events delivered")
	transport.StopListening()
	if err := <-exited; err != nil {
		t.Fatalf("unexpected exit error: %v", err)
	}
	ingester.mu.Lock()
	defer ingester.mu.Unlock()
	if len(ingester.inputs) != 2 {
		t.Fatalf("expected both events attempted, got %d", len(ingester.inputs))
	}
}

func TestRunReportsConnectFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = errors.New("dial failed")
	identity := connectors.Identity{SessionID: "s1", Provider: "fake", Credentials: "x"}
	listener := NewListener(identity, transport, &recordingIngester{}, testLogger())
	listener.onConnected = func() { t.Error("connect callback must not run on failure") }

	ready := make(chan error, 1)
	listener.Run(context.Background(), ready)
	if err := <-ready; err == nil || err.Error() != "dial failed" {
		t.Fatalf("expected dial failure, got %v", err)
	}
}
