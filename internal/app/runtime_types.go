package app

import (
	"log/slog"
	"net/http"

	"github.com/dwizi/listing-intake/internal/catalog"
	"github.com/dwizi/listing-intake/internal/config"
	"github.com/dwizi/listing-intake/internal/heartbeat"
	"github.com/dwizi/listing-intake/internal/pipeline"
	"github.com/dwizi/listing-intake/internal/session"
	"github.com/dwizi/listing-intake/internal/store"
	"github.com/dwizi/listing-intake/internal/watcher"
)

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            *store.Store
	catalog          *catalog.Holder
	sessions         *session.Manager
	processor        *pipeline.Processor
	scheduler        *pipeline.Scheduler
	httpServer       *http.Server
	watcher          *watcher.Service
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}
