package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageFilter string

const (
	MessageFilterUnlinked MessageFilter = "unlinked"
	MessageFilterLinked   MessageFilter = "linked"
	MessageFilterAll      MessageFilter = "all"
)

func ParseMessageFilter(raw string) (MessageFilter, error) {
	switch MessageFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MessageFilterUnlinked:
		return MessageFilterUnlinked, nil
	case MessageFilterLinked:
		return MessageFilterLinked, nil
	case MessageFilterAll:
		return MessageFilterAll, nil
	default:
		return "", fmt.Errorf("unknown message filter %q", raw)
	}
}

type InboundMessage struct {
	ID          string
	SessionID   string
	SenderID    string
	SenderLabel string
	ThreadID    string
	ThreadType  string
	Content     string
	ContentHash string
	ListingID   string
	ReceivedAt  time.Time
	ProcessedAt time.Time
	CreatedAt   time.Time
}

func (m InboundMessage) Linked() bool {
	return strings.TrimSpace(m.ListingID) != ""
}

type AlternateSender struct {
	ID          string
	MessageID   string
	SenderID    string
	SenderLabel string
	SessionID   string
	ReceivedAt  time.Time
}

type IngestMessageInput struct {
	SessionID   string
	SenderID    string
	SenderLabel string
	ThreadID    string
	ThreadType  string
	Content     string
	ContentHash string
	ReceivedAt  time.Time
}

type IngestMessageResult struct {
	MessageID      string
	Created        bool
	AlternateAdded bool
}

// IngestMessage inserts a message keyed by its content hash. When the hash
// already exists the sender is recorded as an alternate sender of the
// canonical message instead. Both steps run in one transaction and rely on
// the UNIQUE constraints, so concurrent identical deliveries collapse.
func (s *Store) IngestMessage(ctx context.Context, input IngestMessageInput) (IngestMessageResult, error) {
	hash := strings.TrimSpace(input.ContentHash)
	senderID := strings.TrimSpace(input.SenderID)
	if hash == "" || senderID == "" || strings.TrimSpace(input.Content) == "" {
		return IngestMessageResult{}, fmt.Errorf("content hash, sender and content are required")
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	senderLabel := strings.TrimSpace(input.SenderLabel)
	if senderLabel == "" {
		senderLabel = senderID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IngestMessageResult{}, fmt.Errorf("begin ingest: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	messageID := "msg_" + uuid.NewString()
	result, err := tx.ExecContext(
		ctx,
		`INSERT INTO inbound_messages (
			id, session_id, sender_id, sender_label, thread_id, thread_type,
			content, content_hash, received_at_unix_ms, created_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING`,
		messageID,
		strings.TrimSpace(input.SessionID),
		senderID,
		senderLabel,
		nullIfEmpty(strings.TrimSpace(input.ThreadID)),
		nullIfEmpty(strings.TrimSpace(input.ThreadType)),
		input.Content,
		hash,
		receivedAt.UnixMilli(),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return IngestMessageResult{}, fmt.Errorf("insert inbound message: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return IngestMessageResult{}, fmt.Errorf("insert inbound message rows: %w", err)
	}
	if inserted == 1 {
		if err := tx.Commit(); err != nil {
			return IngestMessageResult{}, fmt.Errorf("commit ingest: %w", err)
		}
		return IngestMessageResult{MessageID: messageID, Created: true}, nil
	}

	var canonicalID, canonicalSender string
	if err := tx.QueryRowContext(
		ctx,
		`SELECT id, sender_id FROM inbound_messages WHERE content_hash = ?`,
		hash,
	).Scan(&canonicalID, &canonicalSender); err != nil {
		return IngestMessageResult{}, fmt.Errorf("lookup canonical message: %w", err)
	}
	out := IngestMessageResult{MessageID: canonicalID}
	if canonicalSender != senderID {
		result, err := tx.ExecContext(
			ctx,
			`INSERT INTO alternate_senders (id, message_id, sender_id, sender_label, session_id, received_at_unix_ms)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(message_id, sender_id) DO NOTHING`,
			"alt_"+uuid.NewString(),
			canonicalID,
			senderID,
			senderLabel,
			strings.TrimSpace(input.SessionID),
			receivedAt.UnixMilli(),
		)
		if err != nil {
			return IngestMessageResult{}, fmt.Errorf("insert alternate sender: %w", err)
		}
		added, err := result.RowsAffected()
		if err != nil {
			return IngestMessageResult{}, fmt.Errorf("insert alternate sender rows: %w", err)
		}
		out.AlternateAdded = added == 1
	}
	if err := tx.Commit(); err != nil {
		return IngestMessageResult{}, fmt.Errorf("commit ingest: %w", err)
	}
	return out, nil
}

type ListMessagesInput struct {
	Filter MessageFilter
	Limit  int
}

// ListMessages returns messages oldest first.
func (s *Store) ListMessages(ctx context.Context, input ListMessagesInput) ([]InboundMessage, error) {
	query := messageSelect
	switch input.Filter {
	case MessageFilterUnlinked, "":
		query += ` WHERE listing_id IS NULL`
	case MessageFilterLinked:
		query += ` WHERE listing_id IS NOT NULL`
	case MessageFilterAll:
	default:
		return nil, fmt.Errorf("unknown message filter %q", input.Filter)
	}
	query += ` ORDER BY received_at_unix_ms ASC, rowid ASC`
	args := []any{}
	if input.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, input.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []InboundMessage
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *Store) LookupMessage(ctx context.Context, id string) (InboundMessage, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return InboundMessage{}, ErrMessageNotFound
	}
	message, err := scanMessage(s.db.QueryRowContext(ctx, messageSelect+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InboundMessage{}, ErrMessageNotFound
		}
		return InboundMessage{}, fmt.Errorf("lookup message: %w", err)
	}
	return message, nil
}

func (s *Store) ListAlternateSenders(ctx context.Context, messageID string) ([]AlternateSender, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, message_id, sender_id, sender_label, session_id, received_at_unix_ms
		 FROM alternate_senders WHERE message_id = ? ORDER BY received_at_unix_ms ASC, rowid ASC`,
		strings.TrimSpace(messageID),
	)
	if err != nil {
		return nil, fmt.Errorf("list alternate senders: %w", err)
	}
	defer rows.Close()

	var senders []AlternateSender
	for rows.Next() {
		var (
			sender     AlternateSender
			receivedMS int64
		)
		if err := rows.Scan(&sender.ID, &sender.MessageID, &sender.SenderID, &sender.SenderLabel, &sender.SessionID, &receivedMS); err != nil {
			return nil, fmt.Errorf("scan alternate sender: %w", err)
		}
		sender.ReceivedAt = time.UnixMilli(receivedMS).UTC()
		senders = append(senders, sender)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alternate senders: %w", err)
	}
	return senders, nil
}

// SetMessageLink points a message at a listing and stamps it processed. A
// previous link is recorded in listing_replacements and returned; the old
// listing itself is left untouched.
func (s *Store) SetMessageLink(ctx context.Context, messageID, listingID string) (string, error) {
	messageID = strings.TrimSpace(messageID)
	listingID = strings.TrimSpace(listingID)
	if messageID == "" {
		return "", ErrMessageNotFound
	}
	if listingID == "" {
		return "", fmt.Errorf("listing id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin link: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT listing_id FROM inbound_messages WHERE id = ?`, messageID).Scan(&previous); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrMessageNotFound
		}
		return "", fmt.Errorf("lookup message link: %w", err)
	}
	now := time.Now().UTC().Unix()
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE inbound_messages SET listing_id = ?, processed_at_unix = ? WHERE id = ?`,
		listingID,
		now,
		messageID,
	); err != nil {
		return "", fmt.Errorf("update message link: %w", err)
	}
	previousID := strings.TrimSpace(previous.String)
	if previousID != "" && previousID != listingID {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO listing_replacements (id, message_id, previous_listing_id, listing_id, replaced_at_unix)
			 VALUES (?, ?, ?, ?, ?)`,
			"rep_"+uuid.NewString(),
			messageID,
			previousID,
			listingID,
			now,
		); err != nil {
			return "", fmt.Errorf("record listing replacement: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit link: %w", err)
	}
	return previousID, nil
}

type Replacement struct {
	ID                string
	MessageID         string
	PreviousListingID string
	ListingID         string
	ReplacedAt        time.Time
}

func (s *Store) ListReplacements(ctx context.Context, messageID string) ([]Replacement, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, message_id, previous_listing_id, listing_id, replaced_at_unix
		 FROM listing_replacements WHERE message_id = ? ORDER BY replaced_at_unix ASC, rowid ASC`,
		strings.TrimSpace(messageID),
	)
	if err != nil {
		return nil, fmt.Errorf("list replacements: %w", err)
	}
	defer rows.Close()

	var replacements []Replacement
	for rows.Next() {
		var (
			replacement  Replacement
			replacedUnix int64
		)
		if err := rows.Scan(&replacement.ID, &replacement.MessageID, &replacement.PreviousListingID, &replacement.ListingID, &replacedUnix); err != nil {
			return nil, fmt.Errorf("scan replacement: %w", err)
		}
		replacement.ReplacedAt = time.Unix(replacedUnix, 0).UTC()
		replacements = append(replacements, replacement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replacements: %w", err)
	}
	return replacements, nil
}

type Stats struct {
	Messages         int `json:"messages"`
	Linked           int `json:"linked"`
	Unlinked         int `json:"unlinked"`
	AlternateSenders int `json:"alternate_senders"`
	Listings         int `json:"listings"`
	Replacements     int `json:"replacements"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT
			(SELECT COUNT(*) FROM inbound_messages),
			(SELECT COUNT(*) FROM inbound_messages WHERE listing_id IS NOT NULL),
			(SELECT COUNT(*) FROM alternate_senders),
			(SELECT COUNT(*) FROM listings),
			(SELECT COUNT(*) FROM listing_replacements)`,
	).Scan(&stats.Messages, &stats.Linked, &stats.AlternateSenders, &stats.Listings, &stats.Replacements); err != nil {
		return Stats{}, fmt.Errorf("load stats: %w", err)
	}
	stats.Unlinked = stats.Messages - stats.Linked
	return stats, nil
}

const messageSelect = `SELECT id, session_id, sender_id, sender_label, COALESCE(thread_id, ''), COALESCE(thread_type, ''),
	content, content_hash, COALESCE(listing_id, ''), COALESCE(processed_at_unix, 0), received_at_unix_ms, created_at_unix
	FROM inbound_messages`

func scanMessage(row rowScanner) (InboundMessage, error) {
	var (
		message       InboundMessage
		processedUnix int64
		receivedMS    int64
		createdUnix   int64
	)
	if err := row.Scan(
		&message.ID,
		&message.SessionID,
		&message.SenderID,
		&message.SenderLabel,
		&message.ThreadID,
		&message.ThreadType,
		&message.Content,
		&message.ContentHash,
		&message.ListingID,
		&processedUnix,
		&receivedMS,
		&createdUnix,
	); err != nil {
		return InboundMessage{}, err
	}
	if processedUnix > 0 {
		message.ProcessedAt = time.Unix(processedUnix, 0).UTC()
	}
	message.ReceivedAt = time.UnixMilli(receivedMS).UTC()
	message.CreatedAt = time.Unix(createdUnix, 0).UTC()
	return message, nil
}
