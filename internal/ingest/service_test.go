package ingest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/store"
)

type fakeRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeRecorder) RecordReceived(sessionID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[sessionID]++
}

func newTestService(t *testing.T) (*Service, *store.Store, *fakeRecorder) {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "ingest.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	recorder := &fakeRecorder{}
	service := New(sqlStore, slog.New(slog.NewTextHandler(io.Discard, nil)))
	service.SetActivityRecorder(recorder)
	return service, sqlStore, recorder
}

func TestContentHashIsStable(t *testing.T) {
	if ContentHash("abc") != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected sha256 hex: %s", ContentHash("abc"))
	}
	if ContentHash("  abc\n") != ContentHash("abc") {
		t.Fatal("expected surrounding whitespace to be ignored")
	}
	if ContentHash("abc") == ContentHash("ABC") {
		t.Fatal("expected hash to be case sensitive")
	}
}

func TestIngestDedupAcrossSenders(t *testing.T) {
	service, sqlStore, recorder := newTestService(t)
	ctx := context.Background()
	content := "Unit A1.01, floor 5, 35 sqm, 2.5B, east-facing"

	first, err := service.Ingest(ctx, Input{SessionID: "ses-1", SenderID: "u1", SenderLabel: "Lan", Content: content, ThreadID: "g1", ThreadType: "group"})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if !first.Created {
		t.Fatalf("expected created, got %+v", first)
	}
	second, err := service.Ingest(ctx, Input{SessionID: "ses-2", SenderID: "u2", SenderLabel: "Minh", Content: content, ThreadID: "g2", ThreadType: "group"})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.Created || !second.AlternateAdded || second.MessageID != first.MessageID {
		t.Fatalf("expected alternate sender on canonical message, got %+v", second)
	}
	repeat, err := service.Ingest(ctx, Input{SessionID: "ses-1", SenderID: "u1", Content: content})
	if err != nil {
		t.Fatalf("repeat ingest: %v", err)
	}
	if repeat.Created || repeat.AlternateAdded {
		t.Fatalf("expected repeat to be a no-op, got %+v", repeat)
	}

	stats, err := sqlStore.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Messages != 1 || stats.AlternateSenders != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if recorder.calls["ses-1"] != 2 || recorder.calls["ses-2"] != 1 {
		t.Fatalf("unexpected activity counts: %+v", recorder.calls)
	}
}

func TestIngestRejectsEmptyInput(t *testing.T) {
	service, sqlStore, recorder := newTestService(t)
	ctx := context.Background()

	_, err := service.Ingest(ctx, Input{SessionID: "ses-1", SenderID: "", Content: "hello"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for empty sender, got %v", err)
	}
	_, err = service.Ingest(ctx, Input{SessionID: "ses-1", SenderID: "u1", Content: "   "})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for empty content, got %v", err)
	}

	stats, err := sqlStore.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Messages != 0 {
		t.Fatalf("expected nothing persisted, got %+v", stats)
	}
	if len(recorder.calls) != 0 {
		t.Fatalf("expected no activity recorded, got %+v", recorder.calls)
	}
}
