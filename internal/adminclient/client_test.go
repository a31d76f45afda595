package adminclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/config"
)

func TestClientStartSession(t *testing.T) {
	t.Parallel()

	var got struct {
		SessionID string `json:"session_id"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/sessions/start" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"tg-1","running":true,"state":"listening","messages_received":0,"messages_sent":0}`))
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	status, err := client.StartSession(context.Background(), " tg-1 ")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if got.SessionID != "tg-1" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
	if !status.Running || status.State != "listening" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestClientMapsErrorBodies(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"kind":"conflict","message":"session.start: session already running"}`))
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	_, err := client.StartSession(context.Background(), "tg-1")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict kind, got %v", err)
	}
	if err.Error() != "session.start: session already running" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestClientProcessBatchAndStats(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/process/batch":
			var payload map[string]int
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if payload["page_size"] != 5 {
				t.Errorf("expected page_size 5, got %v", payload)
			}
			_, _ = w.Write([]byte(`{"correlation_id":"c-1","processed":4,"failed":1,"pages":2}`))
		case "/api/v1/stats":
			_, _ = w.Write([]byte(`{"messages":10,"linked":4,"unlinked":6,"alternate_senders":2,"listings":5,"replacements":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	result, err := client.ProcessBatch(context.Background(), 5)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if result.Processed != 4 || result.Failed != 1 || result.CorrelationID != "c-1" {
		t.Fatalf("unexpected batch result %+v", result)
	}
	stats, err := client.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Messages != 10 || stats.Replacements != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestClientWithTimeoutClonesClient(t *testing.T) {
	t.Parallel()

	base := &Client{
		baseURL: "https://example.com",
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	updated := base.WithTimeout(3 * time.Second)
	if updated == nil || updated == base || updated.http == base.http {
		t.Fatal("expected timeout update to clone client")
	}
	if updated.http.Timeout != 3*time.Second {
		t.Fatalf("expected timeout 3s, got %s", updated.http.Timeout)
	}
	if base.http.Timeout != 15*time.Second {
		t.Fatalf("expected original timeout unchanged, got %s", base.http.Timeout)
	}
}

func TestNewRespectsAdminHTTPTimeoutConfig(t *testing.T) {
	t.Parallel()

	client, err := New(config.Config{
		AdminAPIURL:         "http://127.0.0.1:8080/",
		AdminHTTPTimeoutSec: 42,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.http.Timeout != 42*time.Second {
		t.Fatalf("expected timeout 42s, got %s", client.http.Timeout)
	}
	if client.baseURL != "http://127.0.0.1:8080" {
		t.Fatalf("expected trailing slash trimmed, got %s", client.baseURL)
	}
}
