package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/connectors"
	"github.com/dwizi/listing-intake/internal/heartbeat"
	"github.com/dwizi/listing-intake/internal/pipeline"
	"github.com/dwizi/listing-intake/internal/session"
	"github.com/dwizi/listing-intake/internal/store"
)

type fakeSessions struct {
	startErr error
	started  []string
	sent     []string
}

func (f *fakeSessions) Start(ctx context.Context, id string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeSessions) Stop(id string) (bool, error) { return id == "running", nil }

func (f *fakeSessions) Cleanup(id string) (bool, error) { return true, nil }

func (f *fakeSessions) Status(ctx context.Context, id string) (session.Status, error) {
	if id == "missing" {
		return session.Status{}, apperr.Wrap(apperr.KindNotFound, "session.status", apperr.ErrSessionNotFound)
	}
	return session.Status{SessionID: id, Running: true, State: session.StateListening}, nil
}

func (f *fakeSessions) List(ctx context.Context) ([]session.Status, error) {
	return []session.Status{{SessionID: "s1", State: session.StateStopped}}, nil
}

func (f *fakeSessions) Send(ctx context.Context, id, recipient string, threadType connectors.ThreadType, content string) error {
	f.sent = append(f.sent, id+"|"+recipient+"|"+string(threadType)+"|"+content)
	return nil
}

type fakeProcessor struct {
	singleErr error
}

func (f *fakeProcessor) Single(ctx context.Context, messageID string, commit bool) (pipeline.Outcome, error) {
	if f.singleErr != nil {
		return pipeline.Outcome{MessageID: messageID}, f.singleErr
	}
	return pipeline.Outcome{MessageID: messageID, Committed: commit, ListingID: "lst-1"}, nil
}

func (f *fakeProcessor) RunBatch(ctx context.Context, pageSize int) pipeline.BatchResult {
	return pipeline.BatchResult{CorrelationID: "corr-1", Processed: 2, Failed: 1, Pages: 1}
}

func newRouterTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "router.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return sqlStore
}

func newTestRouter(t *testing.T, sessions *fakeSessions, processor *fakeProcessor) (http.Handler, *store.Store) {
	t.Helper()
	sqlStore := newRouterTestStore(t)
	handler := NewRouter(Dependencies{
		Store:     sqlStore,
		Sessions:  sessions,
		Processor: processor,
		Providers: []string{"gateway", "imap", "telegram"},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return handler, sqlStore
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeResult(t *testing.T, res *httptest.ResponseRecorder) apperr.Result {
	t.Helper()
	var result apperr.Result
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, res.Body.String())
	}
	return result
}

func TestSessionCreateAndConflict(t *testing.T) {
	handler, sqlStore := newTestRouter(t, &fakeSessions{}, &fakeProcessor{})

	body := map[string]any{"id": "tg-1", "provider": "Telegram", "credentials": "123:abc", "auto_start": true}
	res := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", body)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", res.Code, res.Body.String())
	}
	stored, err := sqlStore.LookupSession(context.Background(), "tg-1")
	if err != nil {
		t.Fatalf("lookup session: %v", err)
	}
	if stored.Provider != "telegram" || !stored.AutoStart {
		t.Fatalf("unexpected stored session %+v", stored)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sessions", body)
	if res.Code != http.StatusConflict || decodeResult(t, res).Kind != apperr.KindConflict {
		t.Fatalf("expected conflict, got %d body=%s", res.Code, res.Body.String())
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sessions", map[string]any{"provider": "fax", "credentials": "x"})
	if res.Code != http.StatusBadRequest || decodeResult(t, res).Kind != apperr.KindValidation {
		t.Fatalf("expected validation error for unknown provider, got %d body=%s", res.Code, res.Body.String())
	}
}

func TestSessionLifecycleRoutes(t *testing.T) {
	sessions := &fakeSessions{}
	handler, _ := newTestRouter(t, sessions, &fakeProcessor{})

	res := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/start", map[string]string{"session_id": "s1"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for start, got %d body=%s", res.Code, res.Body.String())
	}
	var status session.Status
	if err := json.Unmarshal(res.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != session.StateListening || len(sessions.started) != 1 {
		t.Fatalf("unexpected start result %+v", status)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/stop", map[string]string{"session_id": "idle"})
	var stopPayload struct {
		Stopped bool `json:"stopped"`
	}
	_ = json.Unmarshal(res.Body.Bytes(), &stopPayload)
	if res.Code != http.StatusOK || stopPayload.Stopped {
		t.Fatalf("expected stopped=false for idle session, got %d %s", res.Code, res.Body.String())
	}

	res = doJSON(t, handler, http.MethodGet, "/api/v1/sessions/status?id=missing", nil)
	if res.Code != http.StatusNotFound || decodeResult(t, res).Kind != apperr.KindNotFound {
		t.Fatalf("expected not found, got %d body=%s", res.Code, res.Body.String())
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/send", map[string]string{"session_id": "s1", "recipient": "42", "thread_type": "group", "content": "ok"})
	if res.Code != http.StatusOK || len(sessions.sent) != 1 || sessions.sent[0] != "s1|42|group|ok" {
		t.Fatalf("unexpected send result %d %v", res.Code, sessions.sent)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/send", map[string]string{"session_id": "s1", "recipient": "42", "thread_type": "channel", "content": "ok"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected bad thread type to be rejected, got %d", res.Code)
	}

	res = doJSON(t, handler, http.MethodGet, "/api/v1/sessions/start", nil)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestSessionStartErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   apperr.Kind
	}{
		{"already running", apperr.Wrap(apperr.KindConflict, "session.start", apperr.ErrAlreadyRunning), http.StatusConflict, apperr.KindConflict},
		{"bad credentials", apperr.New(apperr.KindConfig, "telegram.connect", "invalid session identity"), http.StatusUnprocessableEntity, apperr.KindConfig},
		{"unreachable", apperr.New(apperr.KindTransport, "gateway.dial", "connection refused"), http.StatusBadGateway, apperr.KindTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, _ := newTestRouter(t, &fakeSessions{startErr: tc.err}, &fakeProcessor{})
			res := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/start", map[string]string{"session_id": "s1"})
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			if kind := decodeResult(t, res).Kind; kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, kind)
			}
		})
	}
}

func TestProcessRoutes(t *testing.T) {
	handler, _ := newTestRouter(t, &fakeSessions{}, &fakeProcessor{})
	res := doJSON(t, handler, http.MethodPost, "/api/v1/process/single", map[string]any{"message_id": "msg-1", "commit": true})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.Code, res.Body.String())
	}
	var outcome pipeline.Outcome
	if err := json.Unmarshal(res.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if !outcome.Committed || outcome.ListingID != "lst-1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/process/batch", map[string]any{"page_size": 10})
	var batch pipeline.BatchResult
	if err := json.Unmarshal(res.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if res.Code != http.StatusOK || batch.Processed != 2 || batch.Failed != 1 {
		t.Fatalf("unexpected batch result %d %+v", res.Code, batch)
	}

	res = doJSON(t, handler, http.MethodPost, "/api/v1/process/single", map[string]any{})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without message id, got %d", res.Code)
	}
}

func TestProcessSingleParseFailureCarriesDetail(t *testing.T) {
	parseErr := &apperr.Error{Kind: apperr.KindParse, Op: "extract.parse", Message: "no json object in model output", Detail: "sorry, I cannot help"}
	handler, _ := newTestRouter(t, &fakeSessions{}, &fakeProcessor{singleErr: parseErr})
	res := doJSON(t, handler, http.MethodPost, "/api/v1/process/single", map[string]any{"message_id": "msg-1"})
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["kind"] != string(apperr.KindParse) || payload["detail"] != "sorry, I cannot help" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestMessagesListingsAndStats(t *testing.T) {
	handler, sqlStore := newTestRouter(t, &fakeSessions{}, &fakeProcessor{})
	ctx := context.Background()
	ingested, err := sqlStore.IngestMessage(ctx, store.IngestMessageInput{
		SessionID:   "s1",
		SenderID:    "42",
		SenderLabel: "Lan",
		ThreadID:    "g1",
		ThreadType:  "group",
		Content:     "Bán A1.01",
		ContentHash: "hash-1",
		ReceivedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	listingID, err := sqlStore.CreateListing(ctx, store.CreateListingInput{UnitCode: "A1.01", SourceMessageID: ingested.MessageID})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if _, err := sqlStore.SetMessageLink(ctx, ingested.MessageID, listingID); err != nil {
		t.Fatalf("link: %v", err)
	}

	res := doJSON(t, handler, http.MethodGet, "/api/v1/messages?filter=linked", nil)
	var list struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(res.Body.Bytes(), &list)
	if res.Code != http.StatusOK || list.Count != 1 {
		t.Fatalf("expected one linked message, got %d %s", res.Code, res.Body.String())
	}

	res = doJSON(t, handler, http.MethodGet, "/api/v1/messages?filter=bogus", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected bad filter to be rejected, got %d", res.Code)
	}

	res = doJSON(t, handler, http.MethodGet, "/api/v1/messages/detail?id="+ingested.MessageID, nil)
	var detail map[string]any
	_ = json.Unmarshal(res.Body.Bytes(), &detail)
	if res.Code != http.StatusOK || detail["listing_id"] != listingID {
		t.Fatalf("unexpected detail %d %v", res.Code, detail)
	}

	res = doJSON(t, handler, http.MethodDelete, "/api/v1/listings?id="+listingID, nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected linked listing delete to conflict, got %d", res.Code)
	}
	res = doJSON(t, handler, http.MethodGet, "/api/v1/listings?id="+listingID, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected listing lookup to succeed, got %d", res.Code)
	}
	res = doJSON(t, handler, http.MethodGet, "/api/v1/listings?id=lst-missing", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected missing listing to be 404, got %d", res.Code)
	}

	res = doJSON(t, handler, http.MethodGet, "/api/v1/stats", nil)
	var stats store.Stats
	_ = json.Unmarshal(res.Body.Bytes(), &stats)
	if res.Code != http.StatusOK || stats.Messages != 1 || stats.Linked != 1 || stats.Listings != 1 {
		t.Fatalf("unexpected stats %d %+v", res.Code, stats)
	}
}

func TestHeartbeatRoute(t *testing.T) {
	handler, _ := newTestRouter(t, &fakeSessions{}, &fakeProcessor{})
	if res := doJSON(t, handler, http.MethodGet, "/api/v1/heartbeat", nil); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without heartbeat, got %d", res.Code)
	}

	registry := heartbeat.NewRegistry()
	registry.Listening(heartbeat.SessionComponent("s1"), "listening")
	withHeartbeat := NewRouter(Dependencies{
		Store:               newRouterTestStore(t),
		Heartbeat:           registry,
		HeartbeatStaleAfter: time.Minute,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	res := doJSON(t, withHeartbeat, http.MethodGet, "/api/v1/heartbeat", nil)
	var snapshot heartbeat.Snapshot
	if err := json.Unmarshal(res.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if _, ok := snapshot.Component("session:s1"); !ok {
		t.Fatalf("expected session component in %+v", snapshot)
	}
	if res := doJSON(t, withHeartbeat, http.MethodGet, "/readyz", nil); res.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", res.Code)
	}
}
