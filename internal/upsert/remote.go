package upsert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/store"
)

type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RemoteCreator creates listings through the downstream record API instead of
// the local store.
type RemoteCreator struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRemoteCreator(cfg RemoteConfig) *RemoteCreator {
	timeout := cfg.Timeout
	if timeout < time.Second {
		timeout = 30 * time.Second
	}
	return &RemoteCreator{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *RemoteCreator) CreateListing(ctx context.Context, input store.CreateListingInput) (string, error) {
	requestBody, err := json.Marshal(input)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "downstream.create", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/listings", bytes.NewReader(requestBody))
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfig, "downstream.create", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransport, "downstream.create", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var apiError struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiError)
		message := strings.TrimSpace(apiError.Message)
		if message == "" {
			message = strings.TrimSpace(apiError.Error)
		}
		if message == "" {
			message = res.Status
		}
		kind := apperr.KindTransport
		if res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusUnprocessableEntity {
			kind = apperr.KindValidation
		}
		return "", apperr.New(kind, "downstream.create", message)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return "", apperr.Wrap(apperr.KindTransport, "downstream.create", fmt.Errorf("decode response: %w", err))
	}
	if strings.TrimSpace(created.ID) == "" {
		return "", apperr.New(apperr.KindTransport, "downstream.create", "downstream returned no listing id")
	}
	return strings.TrimSpace(created.ID), nil
}
