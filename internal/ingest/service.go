// Package ingest records inbound chat messages exactly once per distinct
// content.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/store"
)

type Input struct {
	SessionID   string
	SenderID    string
	SenderLabel string
	Content     string
	ThreadID    string
	ThreadType  string
	ReceivedAt  time.Time
}

type Result struct {
	MessageID      string
	ContentHash    string
	Created        bool
	AlternateAdded bool
}

type Store interface {
	IngestMessage(ctx context.Context, input store.IngestMessageInput) (store.IngestMessageResult, error)
}

// ActivityRecorder is notified for every accepted message so per-session
// counters stay current.
type ActivityRecorder interface {
	RecordReceived(sessionID string, at time.Time)
}

type Service struct {
	store    Store
	recorder ActivityRecorder
	logger   *slog.Logger
	now      func() time.Time
}

func New(sqlStore Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  sqlStore,
		logger: logger.With("component", "ingest"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetActivityRecorder(recorder ActivityRecorder) {
	s.recorder = recorder
}

// ContentHash is the lowercase hex SHA-256 of the whitespace-trimmed
// content. External audits can recompute it with any sha256 tool.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

func (s *Service) Ingest(ctx context.Context, input Input) (Result, error) {
	senderID := strings.TrimSpace(input.SenderID)
	if senderID == "" {
		return Result{}, apperr.New(apperr.KindValidation, "ingest", "sender id is required")
	}
	if strings.TrimSpace(input.Content) == "" {
		return Result{}, apperr.New(apperr.KindValidation, "ingest", "content is required")
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	hash := ContentHash(input.Content)

	stored, err := s.store.IngestMessage(ctx, store.IngestMessageInput{
		SessionID:   strings.TrimSpace(input.SessionID),
		SenderID:    senderID,
		SenderLabel: input.SenderLabel,
		ThreadID:    input.ThreadID,
		ThreadType:  input.ThreadType,
		Content:     input.Content,
		ContentHash: hash,
		ReceivedAt:  receivedAt,
	})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindStoreTransient, "ingest", fmt.Errorf("store message: %w", err))
	}

	if s.recorder != nil {
		s.recorder.RecordReceived(input.SessionID, s.now())
	}
	switch {
	case stored.Created:
		s.logger.Info("message ingested", "message_id", stored.MessageID, "session_id", input.SessionID, "sender_id", senderID)
	case stored.AlternateAdded:
		s.logger.Info("duplicate content from new sender", "message_id", stored.MessageID, "session_id", input.SessionID, "sender_id", senderID)
	default:
		s.logger.Debug("duplicate content ignored", "message_id", stored.MessageID, "sender_id", senderID)
	}
	return Result{
		MessageID:      stored.MessageID,
		ContentHash:    hash,
		Created:        stored.Created,
		AlternateAdded: stored.AlternateAdded,
	}, nil
}
