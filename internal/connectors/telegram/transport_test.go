package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/connectors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBotAPI struct {
	mu          sync.Mutex
	updatesSent bool
	updateCalls int
	sent        []string
}

func (f *fakeBotAPI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateCalls
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.URL.Path, "/botbad-token/") {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		_ = req.ParseForm()
		switch {
		case strings.HasSuffix(req.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"Intake","username":"intake_bot"}}`))
		case strings.HasSuffix(req.URL.Path, "/getUpdates"):
			f.mu.Lock()
			f.updateCalls++
			first := !f.updatesSent
			f.updatesSent = true
			f.mu.Unlock()
			if !first {
				time.Sleep(20 * time.Millisecond)
				_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":[
				{"update_id":10,"message":{"message_id":1,"date":1767225600,"chat":{"id":-1001,"type":"supergroup","title":"Brokers"},"from":{"id":42,"is_bot":false,"first_name":"Lan","last_name":"Tran"},"text":"Căn A1.01 tầng 12, 2.5 tỷ"}},
				{"update_id":11,"message":{"message_id":2,"date":1767225601,"chat":{"id":42,"type":"private","first_name":"Lan"},"from":{"id":42,"is_bot":false,"first_name":"Lan"},"photo":[]}},
				{"update_id":12,"message":{"message_id":3,"date":1767225602,"chat":{"id":43,"type":"private","first_name":"Minh"},"from":{"id":43,"is_bot":false,"first_name":"Minh"},"text":"Studio for rent"}}
			]}`))
		case strings.HasSuffix(req.URL.Path, "/sendMessage"):
			f.mu.Lock()
			f.sent = append(f.sent, req.Form.Get("chat_id")+":"+req.Form.Get("text"))
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":9,"date":1767225700,"chat":{"id":-1001,"type":"supergroup"}}}`))
		case strings.HasSuffix(req.URL.Path, "/getChat"):
			if req.Form.Get("chat_id") != "42" {
				t.Errorf("unexpected chat id %q", req.Form.Get("chat_id"))
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"type":"private","first_name":"Lan","last_name":"Tran","username":"lantran"}}`))
		default:
			t.Errorf("unexpected method %s", req.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestTransport(t *testing.T) (*Transport, *fakeBotAPI) {
	t.Helper()
	fake := &fakeBotAPI{}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	transport := New(Options{APIEndpoint: server.URL + "/bot%s/%s"}, testLogger())
	return transport, fake
}

func TestListenDeliversTextMessages(t *testing.T) {
	transport, _ := newTestTransport(t)
	if err := transport.Connect(context.Background(), connectors.Identity{SessionID: "ses_1", Provider: "telegram", Credentials: "good-token"}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	events := make(chan connectors.Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- transport.Listen(context.Background(), func(ctx context.Context, event connectors.Event) {
			events <- event
		})
	}()

	var received []connectors.Event
	for len(received) < 2 {
		select {
		case event := <-events:
			received = append(received, event)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected two events, got %d", len(received))
		}
	}
	transport.StopListening()
	transport.StopListening()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("listen did not return after stop")
	}

	group := received[0]
	if group.SenderID != "42" || group.SenderName != "Lan Tran" || group.ThreadID != "-1001" || group.ThreadType != connectors.ThreadGroup {
		t.Fatalf("unexpected group event %+v", group)
	}
	if group.Content != "Căn A1.01 tầng 12, 2.5 tỷ" || !group.ReceivedAt.Equal(time.Unix(1767225600, 0)) {
		t.Fatalf("unexpected group content %+v", group)
	}
	direct := received[1]
	if direct.SenderID != "43" || direct.ThreadType != connectors.ThreadUser {
		t.Fatalf("unexpected direct event %+v", direct)
	}
}

func TestSendAndLookupUserName(t *testing.T) {
	transport, fake := newTestTransport(t)
	if err := transport.Send(context.Background(), "-1001", connectors.ThreadGroup, "hello"); !apperr.Is(err, apperr.KindTransport) {
		t.Fatalf("expected transport error before connect, got %v", err)
	}
	if err := transport.Connect(context.Background(), connectors.Identity{Credentials: "good-token"}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := transport.Send(context.Background(), "-1001", connectors.ThreadGroup, "Đã nhận"); err != nil {
		t.Fatalf("send: %v", err)
	}
	fake.mu.Lock()
	sent := append([]string(nil), fake.sent...)
	fake.mu.Unlock()
	if len(sent) != 1 || sent[0] != "-1001:Đã nhận" {
		t.Fatalf("unexpected sent messages %v", sent)
	}

	name, err := transport.LookupUserName(context.Background(), "42")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if name != "Lan Tran" {
		t.Fatalf("unexpected name %q", name)
	}
}

func TestConnectRejectsBadToken(t *testing.T) {
	transport, _ := newTestTransport(t)
	err := transport.Connect(context.Background(), connectors.Identity{Credentials: "bad-token"})
	if !apperr.Is(err, apperr.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestStopBeforeConnectLeavesNoPoller(t *testing.T) {
	transport, fake := newTestTransport(t)
	transport.StopListening()

	err := transport.Connect(context.Background(), connectors.Identity{SessionID: "ses_1", Provider: "telegram", Credentials: "good-token"})
	if !apperr.Is(err, apperr.KindTransport) {
		t.Fatalf("expected transport error after stop, got %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- transport.Listen(context.Background(), func(ctx context.Context, event connectors.Event) {
			t.Errorf("unexpected event %+v", event)
		})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listen blocked on a stopped transport")
	}

	time.Sleep(100 * time.Millisecond)
	if calls := fake.pollCount(); calls != 0 {
		t.Fatalf("expected no getUpdates polling after stop, got %d calls", calls)
	}
}
