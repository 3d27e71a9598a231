package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RetrievalChecker reports index and embedder health in one probe.
type RetrievalChecker interface {
	Healthy(ctx context.Context) error
}

// FilterChecker is the safety filter self-test.
type FilterChecker interface {
	Healthy() bool
}

type Handler struct {
	db        Pinger
	retrieval RetrievalChecker
	filter    FilterChecker
}

func NewHandler(db Pinger, retrieval RetrievalChecker, filter FilterChecker) *Handler {
	return &Handler{db: db, retrieval: retrieval, filter: filter}
}

// Live is the liveness probe: the process is up and serving.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready aggregates component health. Any failing component degrades the
// whole endpoint to 503 so load balancers stop routing to this instance.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"database":      "ok",
		"retrieval":     "ok",
		"safety_filter": "ok",
	}
	status := http.StatusOK

	if err := h.db.PingContext(r.Context()); err != nil {
		slog.WarnContext(r.Context(), "database health check failed", "error", err)
		components["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.retrieval.Healthy(r.Context()); err != nil {
		slog.WarnContext(r.Context(), "retrieval health check failed", "error", err)
		components["retrieval"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if !h.filter.Healthy() {
		slog.WarnContext(r.Context(), "safety filter self-test failed")
		components["safety_filter"] = "self-test failed"
		status = http.StatusServiceUnavailable
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": components,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
