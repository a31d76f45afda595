package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/store"
)

func (r *router) handleMessages(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter, err := store.ParseMessageFilter(req.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "messages.list", err))
		return
	}
	limit := 50
	if limitInput := strings.TrimSpace(req.URL.Query().Get("limit")); limitInput != "" {
		parsed, err := strconv.Atoi(limitInput)
		if err != nil || parsed < 1 {
			writeError(w, apperr.New(apperr.KindValidation, "messages.list", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	messages, err := r.deps.Store.ListMessages(req.Context(), store.ListMessagesInput{Filter: filter, Limit: limit})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStoreTransient, "messages.list", err))
		return
	}
	items := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		items = append(items, messageResponse(message))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (r *router) handleMessageDetail(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimSpace(req.URL.Query().Get("id"))
	if id == "" {
		writeError(w, apperr.New(apperr.KindValidation, "messages.detail", "id query parameter is required"))
		return
	}
	ctx := req.Context()
	message, err := r.deps.Store.LookupMessage(ctx, id)
	if err != nil {
		writeError(w, storeError("messages.detail", err))
		return
	}
	alternates, err := r.deps.Store.ListAlternateSenders(ctx, id)
	if err != nil {
		writeError(w, storeError("messages.detail", err))
		return
	}
	replacements, err := r.deps.Store.ListReplacements(ctx, id)
	if err != nil {
		writeError(w, storeError("messages.detail", err))
		return
	}

	payload := messageResponse(message)
	senders := make([]map[string]any, 0, len(alternates))
	for _, alternate := range alternates {
		senders = append(senders, map[string]any{
			"sender_id":        alternate.SenderID,
			"sender_label":     alternate.SenderLabel,
			"session_id":       alternate.SessionID,
			"received_at_unix": alternate.ReceivedAt.Unix(),
		})
	}
	history := make([]map[string]any, 0, len(replacements))
	for _, replacement := range replacements {
		history = append(history, map[string]any{
			"previous_listing_id": replacement.PreviousListingID,
			"listing_id":          replacement.ListingID,
			"replaced_at_unix":    replacement.ReplacedAt.Unix(),
		})
	}
	payload["alternate_senders"] = senders
	payload["replacements"] = history
	writeJSON(w, http.StatusOK, payload)
}

func (r *router) handleListings(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimSpace(req.URL.Query().Get("id"))
	if id == "" {
		writeError(w, apperr.New(apperr.KindValidation, "listings", "id query parameter is required"))
		return
	}
	switch req.Method {
	case http.MethodGet:
		listing, err := r.deps.Store.LookupListing(req.Context(), id)
		if err != nil {
			writeError(w, storeError("listings.lookup", err))
			return
		}
		writeJSON(w, http.StatusOK, listing)
	case http.MethodDelete:
		if err := r.deps.Store.DeleteListing(req.Context(), id); err != nil {
			writeError(w, storeError("listings.delete", err))
			return
		}
		r.deps.Logger.Info("listing deleted", "listing_id", id)
		writeJSON(w, http.StatusOK, map[string]any{"listing_id": id, "deleted": true})
	default:
		methodNotAllowed(w)
	}
}

func (r *router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := r.deps.Store.Stats(req.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStoreTransient, "stats", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func storeError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrMessageNotFound), errors.Is(err, store.ErrListingNotFound):
		return apperr.Wrap(apperr.KindNotFound, op, err)
	case errors.Is(err, store.ErrListingLinked):
		return apperr.Wrap(apperr.KindConflict, op, err)
	default:
		return apperr.Wrap(apperr.KindStoreTransient, op, err)
	}
}

func messageResponse(message store.InboundMessage) map[string]any {
	payload := map[string]any{
		"id":               message.ID,
		"session_id":       message.SessionID,
		"sender_id":        message.SenderID,
		"sender_label":     message.SenderLabel,
		"thread_id":        message.ThreadID,
		"thread_type":      message.ThreadType,
		"content":          message.Content,
		"content_hash":     message.ContentHash,
		"listing_id":       message.ListingID,
		"received_at_unix": message.ReceivedAt.Unix(),
	}
	if !message.ProcessedAt.IsZero() {
		payload["processed_at_unix"] = message.ProcessedAt.Unix()
	}
	return payload
}
