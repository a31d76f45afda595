package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/catalog"
	"github.com/dwizi/listing-intake/internal/config"
	"github.com/dwizi/listing-intake/internal/connectors"
	"github.com/dwizi/listing-intake/internal/connectors/gateway"
	"github.com/dwizi/listing-intake/internal/connectors/imap"
	"github.com/dwizi/listing-intake/internal/connectors/telegram"
	"github.com/dwizi/listing-intake/internal/extract"
	"github.com/dwizi/listing-intake/internal/heartbeat"
	"github.com/dwizi/listing-intake/internal/httpapi"
	"github.com/dwizi/listing-intake/internal/ingest"
	"github.com/dwizi/listing-intake/internal/llm"
	"github.com/dwizi/listing-intake/internal/llm/anthropic"
	"github.com/dwizi/listing-intake/internal/llm/openai"
	"github.com/dwizi/listing-intake/internal/pipeline"
	"github.com/dwizi/listing-intake/internal/retry"
	"github.com/dwizi/listing-intake/internal/session"
	"github.com/dwizi/listing-intake/internal/source"
	"github.com/dwizi/listing-intake/internal/store"
	"github.com/dwizi/listing-intake/internal/upsert"
	"github.com/dwizi/listing-intake/internal/watcher"
)

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}

	var heartbeatRegistry *heartbeat.Registry
	if cfg.HeartbeatEnabled {
		heartbeatRegistry = heartbeat.NewRegistry()
		heartbeatRegistry.Starting("runtime", "booting")
		heartbeatRegistry.Starting("api", "initializing")
	}

	catalogHolder, watchService, err := newCatalog(cfg, logger)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}
	if watchService != nil && heartbeatRegistry != nil {
		watchService.SetHeartbeatReporter(heartbeatRegistry)
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}
	engine := extract.NewEngine(provider, extract.EngineConfig{
		Temperature:       cfg.LLMTemperature,
		MaxTokens:         cfg.LLMMaxTokens,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	}, logger)

	policy := retry.Policy{
		Attempts:   cfg.StoreRetryAttempts,
		BaseDelay:  time.Duration(cfg.StoreRetryBaseMS) * time.Millisecond,
		Multiplier: 2,
	}
	coordinator := upsert.New(newCreator(cfg, sqlStore, logger), sqlStore, catalogHolder, policy, logger)
	processor := pipeline.NewProcessor(
		source.New(sqlStore, policy, logger),
		engine,
		coordinator,
		catalogHolder,
		pipeline.ProcessorConfig{MaxPages: cfg.PipelineMaxPages},
		logger,
	)
	schedulerService, err := pipeline.NewScheduler(processor, pipeline.SchedulerConfig{
		IntervalMinutes: cfg.PipelineIntervalMinutes,
		Cron:            cfg.PipelineCron,
		Timezone:        cfg.PipelineTimezone,
		PageSize:        cfg.PipelinePageSize,
	}, logger)
	if err != nil {
		sqlStore.Close()
		return nil, apperr.Wrap(apperr.KindConfig, "app.scheduler", err)
	}
	if heartbeatRegistry != nil {
		schedulerService.SetHeartbeatReporter(heartbeatRegistry)
	}

	transports := newTransportRegistry(cfg)
	ingestService := ingest.New(sqlStore, logger)
	sessionManager := session.NewManager(sqlStore, ingestService, transports, session.Config{
		StopTimeout: time.Duration(cfg.SessionStopTimeoutSec) * time.Second,
	}, logger)
	ingestService.SetActivityRecorder(sessionManager)
	if heartbeatRegistry != nil {
		sessionManager.SetHeartbeatReporter(heartbeatRegistry)
	}

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Store:               sqlStore,
		Sessions:            sessionManager,
		Processor:           processor,
		Providers:           transports.Providers(),
		Logger:              logger.With("component", "api"),
		Heartbeat:           heartbeatRegistry,
		HeartbeatStaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runtime := &Runtime{
		cfg:        cfg,
		logger:     logger,
		store:      sqlStore,
		catalog:    catalogHolder,
		sessions:   sessionManager,
		processor:  processor,
		scheduler:  schedulerService,
		httpServer: httpServer,
		watcher:    watchService,
		heartbeat:  heartbeatRegistry,
	}
	if heartbeatRegistry != nil {
		runtime.heartbeatMonitor = heartbeat.NewMonitor(heartbeatRegistry, heartbeat.MonitorConfig{
			Interval:   time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
			StaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
			Logger:     logger.With("component", "heartbeat-monitor"),
		})
	}
	return runtime, nil
}

// newCatalog loads the catalog file and watches it for edits. A missing file
// is tolerated: extraction then runs with empty enumerations.
func newCatalog(cfg config.Config, logger *slog.Logger) (*catalog.Holder, *watcher.Service, error) {
	path := strings.TrimSpace(cfg.CatalogPath)
	if path == "" {
		return catalog.NewStaticHolder(catalog.Catalog{}), nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("catalog file missing, extraction runs without known values", "path", path)
		return catalog.NewStaticHolder(catalog.Catalog{}), nil, nil
	}
	holder, err := catalog.NewHolder(path, logger.With("component", "catalog"))
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindConfig, "app.catalog", err)
	}
	watchService, err := watcher.New([]string{path}, logger, func(ctx context.Context, changed string) error {
		return holder.Reload()
	})
	if err != nil {
		return nil, nil, fmt.Errorf("watch catalog: %w", err)
	}
	return holder, watchService, nil
}

func newProvider(cfg config.Config, logger *slog.Logger) (llm.Provider, error) {
	timeout := time.Duration(cfg.LLMTimeoutSec) * time.Second
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "anthropic", "claude":
		return anthropic.New(anthropic.Config{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
			Timeout: timeout,
		}, logger), nil
	case "", "openai", "local":
		return openai.New(openai.Config{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
			Timeout: timeout,
		}, logger), nil
	default:
		return nil, apperr.New(apperr.KindConfig, "app.llm", fmt.Sprintf("unsupported llm provider %q", cfg.LLMProvider))
	}
}

// newCreator posts listings to the downstream API when one is configured and
// keeps them in the local store otherwise.
func newCreator(cfg config.Config, sqlStore *store.Store, logger *slog.Logger) upsert.Creator {
	if strings.TrimSpace(cfg.DownstreamURL) == "" {
		return sqlStore
	}
	logger.Info("listings are created downstream", "url", cfg.DownstreamURL)
	return upsert.NewRemoteCreator(upsert.RemoteConfig{
		BaseURL: cfg.DownstreamURL,
		APIKey:  cfg.DownstreamAPIKey,
		Timeout: time.Duration(cfg.DownstreamTimeoutSec) * time.Second,
	})
}

func newTransportRegistry(cfg config.Config) *connectors.Registry {
	registry := connectors.NewRegistry()
	registry.Register("telegram", telegram.Factory(telegram.Options{
		APIEndpoint: cfg.TelegramAPIEndpoint,
	}))
	registry.Register("gateway", gateway.Factory(gateway.Options{
		URL: cfg.GatewayURL,
	}))
	registry.Register("imap", imap.Factory(imap.Options{
		PollInterval:  time.Duration(cfg.IMAPPollSeconds) * time.Second,
		TLSSkipVerify: cfg.IMAPTLSSkipVerify,
	}))
	return registry
}
