package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"carebridge/internal/middleware"
)

// IndexStatsProvider exposes the retrieval-side counters.
type IndexStatsProvider interface {
	Stats(ctx context.Context) map[string]any
}

// DocumentCounter reports registry counts grouped by ingest status.
type DocumentCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// ConversationCounter reports how many conversations are retained.
type ConversationCounter interface {
	Len() int
}

type Handler struct {
	index         IndexStatsProvider
	documents     DocumentCounter
	conversations ConversationCounter
}

func NewHandler(index IndexStatsProvider, documents DocumentCounter, conversations ConversationCounter) *Handler {
	return &Handler{index: index, documents: documents, conversations: conversations}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	byStatus, err := h.documents.CountByStatus(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "document stats failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	total := 0
	for _, count := range byStatus {
		total += count
	}

	payload := map[string]any{
		"documents": map[string]any{
			"total":     total,
			"by_status": byStatus,
		},
		"index": h.index.Stats(r.Context()),
		"conversations": map[string]any{
			"active": h.conversations.Len(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": payload}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]any{
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
