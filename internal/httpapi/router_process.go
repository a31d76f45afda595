package httpapi

import (
	"net/http"
	"strings"

	"github.com/dwizi/listing-intake/internal/apperr"
)

type processSingleRequest struct {
	MessageID string `json:"message_id"`
	Commit    bool   `json:"commit"`
}

type processBatchRequest struct {
	PageSize int `json:"page_size"`
}

func (r *router) handleProcessSingle(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload processSingleRequest
	if !decodePayload(w, req, &payload) {
		return
	}
	messageID := strings.TrimSpace(payload.MessageID)
	if messageID == "" {
		writeError(w, apperr.New(apperr.KindValidation, "process.single", "message_id is required"))
		return
	}
	outcome, err := r.deps.Processor.Single(req.Context(), messageID, payload.Commit)
	if err != nil {
		result := apperr.ResultOf(err)
		status := statusForKind(result.Kind)
		body := map[string]any{"kind": result.Kind, "message": result.Message}
		if detail := apperr.DetailOf(err); detail != "" {
			body["detail"] = detail
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (r *router) handleProcessBatch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload processBatchRequest
	if req.ContentLength != 0 && !decodePayload(w, req, &payload) {
		return
	}
	if payload.PageSize < 0 || payload.PageSize > 500 {
		writeError(w, apperr.New(apperr.KindValidation, "process.batch", "page_size must be between 1 and 500"))
		return
	}
	result := r.deps.Processor.RunBatch(req.Context(), payload.PageSize)
	writeJSON(w, http.StatusOK, result)
}
