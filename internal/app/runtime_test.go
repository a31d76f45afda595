package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/config"
	"github.com/dwizi/listing-intake/internal/llm/anthropic"
	"github.com/dwizi/listing-intake/internal/llm/openai"
	"github.com/dwizi/listing-intake/internal/store"
	"github.com/dwizi/listing-intake/internal/upsert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewProviderSelection(t *testing.T) {
	provider, err := newProvider(config.Config{LLMProvider: "Anthropic", LLMAPIKey: "k"}, testLogger())
	if err != nil {
		t.Fatalf("anthropic provider: %v", err)
	}
	if _, ok := provider.(*anthropic.Client); !ok {
		t.Fatalf("expected anthropic client, got %T", provider)
	}
	provider, err = newProvider(config.Config{}, testLogger())
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if _, ok := provider.(*openai.Client); !ok {
		t.Fatalf("expected openai client by default, got %T", provider)
	}
	if _, err := newProvider(config.Config{LLMProvider: "palm"}, testLogger()); apperr.KindOf(err) != apperr.KindConfig {
		t.Fatalf("expected config error for unknown provider, got %v", err)
	}
}

func TestNewCreatorSelection(t *testing.T) {
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "creator.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer sqlStore.Close()

	if creator := newCreator(config.Config{}, sqlStore, testLogger()); creator != upsert.Creator(sqlStore) {
		t.Fatalf("expected local store creator, got %T", creator)
	}
	creator := newCreator(config.Config{DownstreamURL: "https://listings.example.com"}, sqlStore, testLogger())
	if _, ok := creator.(*upsert.RemoteCreator); !ok {
		t.Fatalf("expected remote creator, got %T", creator)
	}
}

func TestNewCatalogToleratesMissingFileAndRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	holder, watchService, err := newCatalog(config.Config{CatalogPath: filepath.Join(dir, "missing.yaml")}, testLogger())
	if err != nil {
		t.Fatalf("missing catalog: %v", err)
	}
	if watchService != nil || len(holder.Current().Projects) != 0 {
		t.Fatal("expected empty catalog without watcher")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("projects: [unclosed"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, _, err := newCatalog(config.Config{CatalogPath: bad}, testLogger()); apperr.KindOf(err) != apperr.KindConfig {
		t.Fatalf("expected config error for bad catalog, got %v", err)
	}

	good := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(good, []byte("projects:\n  - id: vgp\n    name: Vinhomes Grand Park\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	holder, watchService, err = newCatalog(config.Config{CatalogPath: good}, testLogger())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if watchService == nil || !holder.Current().HasProject("vgp") {
		t.Fatal("expected loaded catalog with watcher")
	}
}

func TestNewTransportRegistryProviders(t *testing.T) {
	providers := newTransportRegistry(config.Config{}).Providers()
	want := []string{"gateway", "imap", "telegram"}
	if len(providers) != len(want) {
		t.Fatalf("unexpected providers %v", providers)
	}
	for i := range want {
		if providers[i] != want[i] {
			t.Fatalf("unexpected providers %v", providers)
		}
	}
}

func TestRuntimeServesUntilCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	dir := t.TempDir()
	runtime, err := New(config.Config{
		HTTPAddr:             addr,
		DBPath:               filepath.Join(dir, "db", "meta.sqlite"),
		CatalogPath:          filepath.Join(dir, "catalog.yaml"),
		StoreRetryAttempts:   1,
		HeartbeatEnabled:     true,
		HeartbeatIntervalSec: 1,
		HeartbeatStaleSec:    60,
		SessionAutoStart:     true,
	}, testLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := http.Get("http://" + addr + "/readyz")
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("runtime never became ready: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not shut down")
	}
}
