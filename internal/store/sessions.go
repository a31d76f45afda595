package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is the stored identity of one chat account.
type Session struct {
	ID          string
	Name        string
	Provider    string
	Credentials string
	DeviceID    string
	Settings    map[string]string
	AutoStart   bool
	LastState   string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CreateSessionInput struct {
	ID          string
	Name        string
	Provider    string
	Credentials string
	DeviceID    string
	Settings    map[string]string
	AutoStart   bool
}

func (s *Store) CreateSession(ctx context.Context, input CreateSessionInput) (Session, error) {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	credentials := strings.TrimSpace(input.Credentials)
	if provider == "" || credentials == "" {
		return Session{}, fmt.Errorf("provider and credentials are required")
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = "ses_" + uuid.NewString()
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = id
	}
	settings := input.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return Session{}, fmt.Errorf("encode session settings: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (id, name, provider, credentials, device_id, settings_json, auto_start, last_state, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'stopped', ?, ?)`,
		id,
		name,
		provider,
		credentials,
		nullIfEmpty(strings.TrimSpace(input.DeviceID)),
		string(settingsJSON),
		boolToInt(input.AutoStart),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return Session{}, fmt.Errorf("%w: %s", ErrSessionExists, id)
		}
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s.LookupSession(ctx, id)
}

func (s *Store) LookupSession(ctx context.Context, id string) (Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Session{}, ErrSessionNotFound
	}
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionSelect+` ORDER BY created_at_unix ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionState persists the last observed lifecycle state so it
// survives restarts of the process.
func (s *Store) UpdateSessionState(ctx context.Context, id, state, lastError string) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET last_state = ?, last_error = ?, updated_at_unix = ? WHERE id = ?`,
		strings.TrimSpace(state),
		nullIfEmpty(lastError),
		time.Now().UTC().Unix(),
		strings.TrimSpace(id),
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session state rows: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

const sessionSelect = `SELECT id, name, provider, credentials, COALESCE(device_id, ''), settings_json,
	auto_start, last_state, COALESCE(last_error, ''), created_at_unix, updated_at_unix FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		session      Session
		settingsJSON string
		autoStart    int
		createdUnix  int64
		updatedUnix  int64
	)
	if err := row.Scan(
		&session.ID,
		&session.Name,
		&session.Provider,
		&session.Credentials,
		&session.DeviceID,
		&settingsJSON,
		&autoStart,
		&session.LastState,
		&session.LastError,
		&createdUnix,
		&updatedUnix,
	); err != nil {
		return Session{}, err
	}
	session.Settings = map[string]string{}
	if strings.TrimSpace(settingsJSON) != "" {
		if err := json.Unmarshal([]byte(settingsJSON), &session.Settings); err != nil {
			return Session{}, fmt.Errorf("decode session settings: %w", err)
		}
	}
	session.AutoStart = autoStart != 0
	session.CreatedAt = time.Unix(createdUnix, 0).UTC()
	session.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return session, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
