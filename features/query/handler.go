package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"carebridge/internal/middleware"
	"carebridge/internal/retrieval"
)

// Searcher is the slice of the retrieval service the handler needs.
type Searcher interface {
	Query(ctx context.Context, query string, opts *retrieval.QueryOptions) (*retrieval.Result, error)
}

type Handler struct {
	searcher Searcher
}

func NewHandler(searcher Searcher) *Handler {
	return &Handler{searcher: searcher}
}

type request struct {
	Query               string                            `json:"query"`
	TopK                *int                              `json:"top_k,omitempty"`
	SimilarityThreshold *float32                          `json:"similarity_threshold,omitempty"`
	Filters             map[string]retrieval.FilterValues `json:"filters,omitempty"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.searcher.Query(r.Context(), req.Query, &retrieval.QueryOptions{
		TopK:      req.TopK,
		Threshold: req.SimilarityThreshold,
		Filters:   req.Filters,
	})
	if err != nil {
		if errors.Is(err, retrieval.ErrValidation) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(r.Context(), "query failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": result}); err != nil {
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
