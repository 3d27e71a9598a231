package document

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"carebridge/internal/middleware"
)

type Handler struct {
	service     *Service
	uploadDir   string
	maxUploadMB int64
}

func NewHandler(service *Service, uploadDir string, maxUploadMB int64) *Handler {
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &Handler{service: service, uploadDir: uploadDir, maxUploadMB: maxUploadMB}
}

var allowedExtensions = map[string]bool{
	".txt": true, ".md": true, ".html": true,
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string `json:"title"`
		Category string `json:"category"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "title is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "content is required", http.StatusBadRequest)
		return
	}

	doc := &Document{Title: req.Title, Category: req.Category}
	if err := h.service.Create(r.Context(), doc, req.Content); err != nil {
		if errors.Is(err, ErrDuplicate) {
			h.writeError(r.Context(), w, "CONFLICT", err.Error(), http.StatusConflict)
			return
		}
		slog.ErrorContext(r.Context(), "document create failed", "error", err, "title", req.Title)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	h.writeData(w, doc)
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "file too large", http.StatusBadRequest)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "title is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "unsupported file type", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		slog.ErrorContext(r.Context(), "upload directory create failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	destPath := filepath.Join(h.uploadDir, uuid.NewString()+ext)
	dest, err := os.Create(filepath.Clean(destPath)) // #nosec G304 -- name is a fresh UUID under the configured upload dir
	if err != nil {
		slog.ErrorContext(r.Context(), "upload file create failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer dest.Close()

	hasher := sha256.New()
	if _, err := io.Copy(dest, io.TeeReader(file, hasher)); err != nil {
		slog.ErrorContext(r.Context(), "upload write failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	hash := fmt.Sprintf("%x", hasher.Sum(nil))

	doc, err := h.service.Upload(r.Context(), title, r.FormValue("category"), destPath, hash)
	if err != nil {
		if removeErr := os.Remove(destPath); removeErr != nil {
			slog.WarnContext(r.Context(), "orphaned upload cleanup failed", "path", destPath, "error", removeErr)
		}
		if errors.Is(err, ErrDuplicate) {
			h.writeError(r.Context(), w, "CONFLICT", err.Error(), http.StatusConflict)
			return
		}
		slog.ErrorContext(r.Context(), "document upload failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	h.writeData(w, doc)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "document list failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	h.writeData(w, docs)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "document not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "document get failed", "error", err, "document_id", id)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeData(w, doc)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		slog.ErrorContext(r.Context(), "document delete failed", "error", err, "document_id", id)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Reingest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Reingest(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "document not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "document reingest failed", "error", err, "document_id", id)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": data}); err != nil {
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
