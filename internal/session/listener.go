package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dwizi/listing-intake/internal/connectors"
	"github.com/dwizi/listing-intake/internal/ingest"
)

type Ingester interface {
	Ingest(ctx context.Context, input ingest.Input) (ingest.Result, error)
}

// Listener binds one transport to the ingestion service. The owning manager
// is told about connect and exit through the callbacks.
type Listener struct {
	identity    connectors.Identity
	transport   connectors.Transport
	ingester    Ingester
	logger      *slog.Logger
	onConnected func()
	onExit      func(err error)
}

func NewListener(identity connectors.Identity, transport connectors.Transport, ingester Ingester, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		identity:  identity,
		transport: transport,
		ingester:  ingester,
		logger:    logger.With("component", "session_listener", "session_id", identity.SessionID),
	}
}

// Run connects, reports the connect result on ready, then receives until
// the transport stops. Exactly one value is sent on ready.
func (l *Listener) Run(ctx context.Context, ready chan<- error) {
	if err := l.transport.Connect(ctx, l.identity); err != nil {
		ready <- err
		return
	}
	if l.onConnected != nil {
		l.onConnected()
	}
	ready <- nil
	l.logger.Info("session listening", "provider", l.transport.Name())

	err := l.transport.Listen(ctx, l.Handle)
	if err != nil && ctx.Err() == nil {
		l.logger.Error("session receive loop failed", "error", err)
	}
	if l.onExit != nil {
		l.onExit(err)
	}
}

// Handle ingests one inbound event. Failures are logged and swallowed so
// the receive loop keeps going.
func (l *Listener) Handle(ctx context.Context, event connectors.Event) {
	senderID := strings.TrimSpace(event.SenderID)
	if senderID == "" || strings.TrimSpace(event.Content) == "" {
		l.logger.Debug("inbound event skipped", "sender_id", senderID)
		return
	}
	result, err := l.ingester.Ingest(ctx, ingest.Input{
		SessionID:   l.identity.SessionID,
		SenderID:    senderID,
		SenderLabel: l.senderLabel(ctx, event),
		Content:     event.Content,
		ThreadID:    event.ThreadID,
		ThreadType:  string(event.ThreadType),
		ReceivedAt:  event.ReceivedAt,
	})
	if err != nil {
		l.logger.Error("ingest inbound message failed", "sender_id", senderID, "thread_id", event.ThreadID, "error", err)
		return
	}
	l.logger.Debug("inbound message handled", "message_id", result.MessageID, "created", result.Created)
}

func (l *Listener) senderLabel(ctx context.Context, event connectors.Event) string {
	if name := strings.TrimSpace(event.SenderName); name != "" {
		return name
	}
	name, err := l.transport.LookupUserName(ctx, event.SenderID)
	if err != nil {
		l.logger.Debug("sender lookup failed", "sender_id", event.SenderID, "error", err)
	}
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "User_" + strings.TrimSpace(event.SenderID)
}
