package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/pipeline"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeQueryError maps query path failures onto HTTP statuses.
func writeQueryError(w http.ResponseWriter, err error) {
	var se *pipeline.StageError
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, conversation.ErrSessionNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, conversation.ErrBusy), errors.Is(err, conversation.ErrClosed):
		httpError(w, http.StatusConflict, "session_conflict", "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "%v", err)
	case errors.As(err, &se) && se.Stage == pipeline.StageRetrieve:
		httpError(w, http.StatusBadGateway, "retrieval_error", "%v", err)
	case errors.As(err, &se):
		httpError(w, http.StatusBadGateway, "generation_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

// writeIngestError reports a failed upload. Problems with the uploaded
// documents are the client's; storage and model failures are ours.
func writeIngestError(w http.ResponseWriter, err error) {
	var ie *ingest.Error
	if errors.As(err, &ie) && ie.Stage == ingest.StageLoad {
		httpError(w, http.StatusUnprocessableEntity, "ingestion_error", "%v", err)
		return
	}
	httpError(w, http.StatusBadGateway, "ingestion_error", "%v", err)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
