package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dwizi/listing-intake/internal/apperr"
	_ "modernc.org/sqlite"
)

var (
	ErrSessionNotFound = apperr.ErrSessionNotFound
	ErrMessageNotFound = apperr.ErrMessageNotFound
	ErrListingNotFound = errors.New("listing not found")
	ErrListingLinked   = errors.New("listing is still linked to a message")
	ErrSessionExists   = errors.New("session already exists")
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			provider TEXT NOT NULL,
			credentials TEXT NOT NULL,
			device_id TEXT,
			settings_json TEXT NOT NULL DEFAULT '{}',
			auto_start INTEGER NOT NULL DEFAULT 0,
			last_state TEXT NOT NULL DEFAULT 'stopped',
			last_error TEXT,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS inbound_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_label TEXT NOT NULL,
			thread_id TEXT,
			thread_type TEXT,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL UNIQUE,
			listing_id TEXT,
			processed_at_unix INTEGER,
			received_at_unix_ms INTEGER NOT NULL,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_messages_received ON inbound_messages(received_at_unix_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_messages_listing ON inbound_messages(listing_id);`,
		`CREATE TABLE IF NOT EXISTS alternate_senders (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_label TEXT NOT NULL,
			session_id TEXT NOT NULL,
			received_at_unix_ms INTEGER NOT NULL,
			UNIQUE(message_id, sender_id),
			FOREIGN KEY(message_id) REFERENCES inbound_messages(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			project_id TEXT,
			property_type_id TEXT,
			unit_code TEXT,
			floor INTEGER,
			area_sqm REAL,
			price REAL,
			bedrooms INTEGER,
			bathrooms INTEGER,
			direction TEXT,
			listing_type TEXT,
			status TEXT,
			contact_name TEXT,
			contact_phone TEXT,
			notes TEXT,
			source_message_id TEXT,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS listing_replacements (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			previous_listing_id TEXT NOT NULL,
			listing_id TEXT NOT NULL,
			replaced_at_unix INTEGER NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	alterQueries := []string{
		`ALTER TABLE listings ADD COLUMN source_message_id TEXT;`,
		`ALTER TABLE sessions ADD COLUMN last_error TEXT;`,
	}
	for _, query := range alterQueries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			message := strings.ToLower(err.Error())
			if strings.Contains(message, "duplicate column name") || strings.Contains(message, "no such table") {
				continue
			}
			return fmt.Errorf("run migration alter: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullIntPtr(value *int) any {
	if value == nil {
		return nil
	}
	return int64(*value)
}

func nullFloatPtr(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func intPtrFromNull(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	out := int(value.Int64)
	return &out
}

func floatPtrFromNull(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	out := value.Float64
	return &out
}

func isSQLiteConstraint(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "unique") || strings.Contains(text, "constraint")
}

// IsTransient reports errors worth retrying, such as lock contention.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrMessageNotFound) || errors.Is(err, ErrListingNotFound) {
		return false
	}
	return !isSQLiteConstraint(err)
}
