package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"docpilot/internal/middleware"
)

type DocumentRepo interface {
	Count(ctx context.Context) (int, error)
}

type CacheCounter interface {
	CountEntries(ctx context.Context) (int, error)
}

type IndexCounter interface {
	CountChunks() int
}

type Handler struct {
	documents DocumentRepo
	cache     CacheCounter
	index     IndexCounter
}

func NewHandler(d DocumentRepo, c CacheCounter, ix IndexCounter) *Handler {
	return &Handler{documents: d, cache: c, index: ix}
}

type StatsResponse struct {
	Documents     int `json:"documents"`
	CacheEntries  int `json:"cache_entries"`
	IndexedChunks int `json:"indexed_chunks"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dCount, err := h.documents.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	cCount, err := h.cache.CountEntries(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count cache entries", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count cache entries", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Documents:     dCount,
		CacheEntries:  cCount,
		IndexedChunks: h.index.CountChunks(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
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
