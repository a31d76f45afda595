package httpapi

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/connectors"
	"github.com/dwizi/listing-intake/internal/store"
)

type createSessionRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Provider    string            `json:"provider"`
	Credentials string            `json:"credentials"`
	DeviceID    string            `json:"device_id"`
	Settings    map[string]string `json:"settings"`
	AutoStart   bool              `json:"auto_start"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type sendRequest struct {
	SessionID  string `json:"session_id"`
	Recipient  string `json:"recipient"`
	ThreadType string `json:"thread_type"`
	Content    string `json:"content"`
}

func (r *router) handleSessions(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		statuses, err := r.deps.Sessions.List(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": statuses, "count": len(statuses)})
	case http.MethodPost:
		r.handleSessionCreate(w, req)
	default:
		methodNotAllowed(w)
	}
}

func (r *router) handleSessionCreate(w http.ResponseWriter, req *http.Request) {
	var payload createSessionRequest
	if !decodePayload(w, req, &payload) {
		return
	}
	provider := strings.ToLower(strings.TrimSpace(payload.Provider))
	if provider == "" || strings.TrimSpace(payload.Credentials) == "" {
		writeError(w, apperr.New(apperr.KindValidation, "session.create", "provider and credentials are required"))
		return
	}
	if len(r.deps.Providers) > 0 && !slices.Contains(r.deps.Providers, provider) {
		writeError(w, &apperr.Error{Kind: apperr.KindValidation, Op: "session.create", Message: provider, Err: apperr.ErrUnknownProvider})
		return
	}
	created, err := r.deps.Store.CreateSession(req.Context(), store.CreateSessionInput{
		ID:          payload.ID,
		Name:        payload.Name,
		Provider:    provider,
		Credentials: payload.Credentials,
		DeviceID:    payload.DeviceID,
		Settings:    payload.Settings,
		AutoStart:   payload.AutoStart,
	})
	if err != nil {
		kind := apperr.KindStoreTransient
		if errors.Is(err, store.ErrSessionExists) {
			kind = apperr.KindConflict
		}
		writeError(w, apperr.Wrap(kind, "session.create", err))
		return
	}
	r.deps.Logger.Info("session created", "session_id", created.ID, "provider", created.Provider)
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": created.ID,
		"name":       created.Name,
		"provider":   created.Provider,
		"auto_start": created.AutoStart,
	})
}

func (r *router) handleSessionStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimSpace(req.URL.Query().Get("id"))
	if id == "" {
		writeError(w, apperr.New(apperr.KindValidation, "session.status", "id query parameter is required"))
		return
	}
	status, err := r.deps.Sessions.Status(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *router) handleSessionStart(w http.ResponseWriter, req *http.Request) {
	id, ok := r.sessionID(w, req)
	if !ok {
		return
	}
	if err := r.deps.Sessions.Start(req.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	status, err := r.deps.Sessions.Status(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *router) handleSessionStop(w http.ResponseWriter, req *http.Request) {
	id, ok := r.sessionID(w, req)
	if !ok {
		return
	}
	stopped, err := r.deps.Sessions.Stop(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "stopped": stopped})
}

func (r *router) handleSessionCleanup(w http.ResponseWriter, req *http.Request) {
	id, ok := r.sessionID(w, req)
	if !ok {
		return
	}
	cleaned, err := r.deps.Sessions.Cleanup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "cleaned": cleaned})
}

func (r *router) handleSessionSend(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload sendRequest
	if !decodePayload(w, req, &payload) {
		return
	}
	threadType, err := connectors.ParseThreadType(payload.ThreadType)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.deps.Sessions.Send(req.Context(), payload.SessionID, payload.Recipient, threadType, payload.Content); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": payload.SessionID, "sent": true})
}

func (r *router) sessionID(w http.ResponseWriter, req *http.Request) (string, bool) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return "", false
	}
	var payload sessionRequest
	if !decodePayload(w, req, &payload) {
		return "", false
	}
	id := strings.TrimSpace(payload.SessionID)
	if id == "" {
		writeError(w, apperr.New(apperr.KindValidation, "session", "session_id is required"))
		return "", false
	}
	return id, true
}
