package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/config"
	"github.com/dwizi/listing-intake/internal/connectors"
	"github.com/dwizi/listing-intake/internal/heartbeat"
	"github.com/dwizi/listing-intake/internal/pipeline"
	"github.com/dwizi/listing-intake/internal/session"
	"github.com/dwizi/listing-intake/internal/store"
)

type SessionManager interface {
	Start(ctx context.Context, id string) error
	Stop(id string) (bool, error)
	Cleanup(id string) (bool, error)
	Status(ctx context.Context, id string) (session.Status, error)
	List(ctx context.Context) ([]session.Status, error)
	Send(ctx context.Context, id, recipient string, threadType connectors.ThreadType, content string) error
}

type Processor interface {
	Single(ctx context.Context, messageID string, commit bool) (pipeline.Outcome, error)
	RunBatch(ctx context.Context, pageSize int) pipeline.BatchResult
}

type Dependencies struct {
	Config              config.Config
	Store               *store.Store
	Sessions            SessionManager
	Processor           Processor
	Providers           []string
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/sessions", rt.handleSessions)
	mux.HandleFunc("/api/v1/sessions/status", rt.handleSessionStatus)
	mux.HandleFunc("/api/v1/sessions/start", rt.handleSessionStart)
	mux.HandleFunc("/api/v1/sessions/stop", rt.handleSessionStop)
	mux.HandleFunc("/api/v1/sessions/cleanup", rt.handleSessionCleanup)
	mux.HandleFunc("/api/v1/sessions/send", rt.handleSessionSend)
	mux.HandleFunc("/api/v1/process/single", rt.handleProcessSingle)
	mux.HandleFunc("/api/v1/process/batch", rt.handleProcessBatch)
	mux.HandleFunc("/api/v1/messages", rt.handleMessages)
	mux.HandleFunc("/api/v1/messages/detail", rt.handleMessageDetail)
	mux.HandleFunc("/api/v1/listings", rt.handleListings)
	mux.HandleFunc("/api/v1/stats", rt.handleStats)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err as {"kind", "message"} with a status derived from
// its kind.
func writeError(w http.ResponseWriter, err error) {
	result := apperr.ResultOf(err)
	writeJSON(w, statusForKind(result.Kind), result)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConfig, apperr.KindParse:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransport, apperr.KindExtraction:
		return http.StatusBadGateway
	case apperr.KindStoreTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, apperr.Result{Kind: apperr.KindValidation, Message: "method not allowed"})
}

func decodePayload(w http.ResponseWriter, req *http.Request, payload any) bool {
	if err := json.NewDecoder(req.Body).Decode(payload); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "decode", "invalid payload"))
		return false
	}
	return true
}
