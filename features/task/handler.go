package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"docpilot/features/document"
	"docpilot/internal/generate"
	"docpilot/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Run handles POST /tasks for every blocking task kind.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "document_id is required", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "kind is required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Run(r.Context(), req)
	if err != nil {
		h.writeTaskError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Ask handles POST /ask, the blocking question endpoint.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"document_id"`
		Question   string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" || req.Question == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "document_id and question are required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Ask(r.Context(), req.DocumentID, req.Question)
	if err != nil {
		h.writeTaskError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// AskStream handles POST /ask/stream as server-sent events. Closing the
// connection cancels generation upstream.
func (h *Handler) AskStream(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"document_id"`
		Question   string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" || req.Question == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "document_id and question are required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := h.service.AskStream(r.Context(), req.DocumentID, req.Question)
	if err != nil {
		h.writeTaskError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		switch ev.Type {
		case "meta":
			writeSSE(w, "meta", map[string]int{"sources_used": ev.SourcesUsed})
		case "token":
			writeSSE(w, "token", map[string]string{"text": ev.Token})
		case "done":
			writeSSE(w, "done", map[string]bool{"cached": ev.Cached})
		case "error":
			writeSSE(w, "error", map[string]string{"message": ev.Err.Error()})
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal sse payload", "error", err, "event", event)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

// writeTaskError maps service errors to status codes.
func (h *Handler) writeTaskError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
	case errors.Is(err, document.ErrNotReady):
		h.writeError(ctx, w, "NOT_READY", err.Error(), http.StatusConflict)
	case errors.Is(err, ErrUnknownKind):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, generate.ErrModelNotFound):
		h.writeError(ctx, w, "MODEL_NOT_FOUND", err.Error(), http.StatusBadGateway)
	case errors.Is(err, generate.ErrBackendUnavailable):
		h.writeError(ctx, w, "BACKEND_UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("task failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
