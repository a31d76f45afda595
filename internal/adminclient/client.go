package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/config"
	"github.com/dwizi/listing-intake/internal/heartbeat"
	"github.com/dwizi/listing-intake/internal/pipeline"
	"github.com/dwizi/listing-intake/internal/session"
	"github.com/dwizi/listing-intake/internal/store"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type CreateSessionRequest struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Provider    string            `json:"provider"`
	Credentials string            `json:"credentials"`
	DeviceID    string            `json:"device_id,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
	AutoStart   bool              `json:"auto_start"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	AutoStart bool   `json:"auto_start"`
}

type Message struct {
	ID              string `json:"id"`
	SessionID       string `json:"session_id"`
	SenderID        string `json:"sender_id"`
	SenderLabel     string `json:"sender_label"`
	ThreadID        string `json:"thread_id"`
	ThreadType      string `json:"thread_type"`
	Content         string `json:"content"`
	ContentHash     string `json:"content_hash"`
	ListingID       string `json:"listing_id"`
	ReceivedAtUnix  int64  `json:"received_at_unix"`
	ProcessedAtUnix int64  `json:"processed_at_unix"`
}

type ListMessagesResponse struct {
	Items []Message `json:"items"`
	Count int       `json:"count"`
}

type listSessionsResponse struct {
	Items []session.Status `json:"items"`
	Count int              `json:"count"`
}

func New(cfg config.Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.AdminAPIURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("admin api url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse admin api url: %w", err)
	}
	timeout := time.Duration(cfg.AdminHTTPTimeoutSec) * time.Second
	if timeout < time.Second {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	if timeout < time.Second {
		return c
	}
	clone := *c
	if c.http == nil {
		clone.http = &http.Client{Timeout: timeout}
		return &clone
	}
	httpClone := *c.http
	httpClone.Timeout = timeout
	clone.http = &httpClone
	return &clone
}

func (c *Client) ListSessions(ctx context.Context) ([]session.Status, error) {
	var response listSessionsResponse
	if err := c.get(ctx, "/api/v1/sessions", &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (c *Client) CreateSession(ctx context.Context, input CreateSessionRequest) (CreateSessionResponse, error) {
	input.Provider = strings.TrimSpace(input.Provider)
	if input.Provider == "" || strings.TrimSpace(input.Credentials) == "" {
		return CreateSessionResponse{}, fmt.Errorf("provider and credentials are required")
	}
	var response CreateSessionResponse
	if err := c.post(ctx, "/api/v1/sessions", input, &response); err != nil {
		return CreateSessionResponse{}, err
	}
	return response, nil
}

func (c *Client) SessionStatus(ctx context.Context, sessionID string) (session.Status, error) {
	var status session.Status
	if err := c.get(ctx, "/api/v1/sessions/status?id="+url.QueryEscape(strings.TrimSpace(sessionID)), &status); err != nil {
		return session.Status{}, err
	}
	return status, nil
}

func (c *Client) StartSession(ctx context.Context, sessionID string) (session.Status, error) {
	var status session.Status
	if err := c.post(ctx, "/api/v1/sessions/start", map[string]string{"session_id": strings.TrimSpace(sessionID)}, &status); err != nil {
		return session.Status{}, err
	}
	return status, nil
}

func (c *Client) StopSession(ctx context.Context, sessionID string) (bool, error) {
	var response struct {
		Stopped bool `json:"stopped"`
	}
	if err := c.post(ctx, "/api/v1/sessions/stop", map[string]string{"session_id": strings.TrimSpace(sessionID)}, &response); err != nil {
		return false, err
	}
	return response.Stopped, nil
}

func (c *Client) CleanupSession(ctx context.Context, sessionID string) (bool, error) {
	var response struct {
		Cleaned bool `json:"cleaned"`
	}
	if err := c.post(ctx, "/api/v1/sessions/cleanup", map[string]string{"session_id": strings.TrimSpace(sessionID)}, &response); err != nil {
		return false, err
	}
	return response.Cleaned, nil
}

func (c *Client) Send(ctx context.Context, sessionID, recipient, threadType, content string) error {
	payload := map[string]string{
		"session_id":  strings.TrimSpace(sessionID),
		"recipient":   strings.TrimSpace(recipient),
		"thread_type": strings.TrimSpace(threadType),
		"content":     content,
	}
	return c.post(ctx, "/api/v1/sessions/send", payload, nil)
}

func (c *Client) ProcessSingle(ctx context.Context, messageID string, commit bool) (pipeline.Outcome, error) {
	payload := map[string]any{
		"message_id": strings.TrimSpace(messageID),
		"commit":     commit,
	}
	var outcome pipeline.Outcome
	if err := c.post(ctx, "/api/v1/process/single", payload, &outcome); err != nil {
		return pipeline.Outcome{}, err
	}
	return outcome, nil
}

func (c *Client) ProcessBatch(ctx context.Context, pageSize int) (pipeline.BatchResult, error) {
	payload := map[string]any{}
	if pageSize > 0 {
		payload["page_size"] = pageSize
	}
	var result pipeline.BatchResult
	if err := c.post(ctx, "/api/v1/process/batch", payload, &result); err != nil {
		return pipeline.BatchResult{}, err
	}
	return result, nil
}

func (c *Client) ListMessages(ctx context.Context, filter string, limit int) ([]Message, error) {
	query := url.Values{}
	if strings.TrimSpace(filter) != "" {
		query.Set("filter", strings.TrimSpace(filter))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var response ListMessagesResponse
	if err := c.get(ctx, "/api/v1/messages?"+query.Encode(), &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (c *Client) Stats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	if err := c.get(ctx, "/api/v1/stats", &stats); err != nil {
		return store.Stats{}, err
	}
	return stats, nil
}

func (c *Client) Heartbeat(ctx context.Context) (heartbeat.Snapshot, error) {
	var snapshot heartbeat.Snapshot
	if err := c.get(ctx, "/api/v1/heartbeat", &snapshot); err != nil {
		return heartbeat.Snapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

// doJSON decodes out on success. Error bodies come back as *apperr.Error so
// callers can branch on the server's kind.
func (c *Client) doJSON(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "admin", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var apiError struct {
			Kind    apperr.Kind `json:"kind"`
			Message string      `json:"message"`
			Detail  string      `json:"detail"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiError)
		if strings.TrimSpace(apiError.Message) == "" {
			apiError.Message = res.Status
		}
		if apiError.Kind == "" {
			apiError.Kind = apperr.KindInternal
		}
		return &apperr.Error{Kind: apiError.Kind, Message: apiError.Message, Detail: apiError.Detail}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
