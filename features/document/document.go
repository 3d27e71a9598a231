package document

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"carebridge/internal/config"
	"carebridge/internal/middleware"
	"carebridge/internal/worker"
)

// Document statuses follow the ingest lifecycle.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrDuplicate signals that a document with identical content already exists.
var ErrDuplicate = errors.New("duplicate document")

type Document struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Category    string `json:"category,omitempty"`
	FilePath    string `json:"-"`
	ContentHash string `json:"-"`
	Status      string `json:"status"`
	ChunkCount  int    `json:"chunk_count"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type Repository interface {
	Save(ctx context.Context, doc *Document) error
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	UpdateStatus(ctx context.Context, id, status string) error
	SetChunkCount(ctx context.Context, id string, count int) error
	SoftDelete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Remover is the retrieval-side cleanup used when a document is deleted.
type Remover interface {
	DeleteDocument(ctx context.Context, documentID string) (int, error)
}

type Service struct {
	repo    Repository
	pub     EventPublisher
	remover Remover
}

func NewService(repo Repository, pub EventPublisher, remover Remover) *Service {
	return &Service{repo: repo, pub: pub, remover: remover}
}

// Create registers an inline-content document and queues its ingestion.
func (s *Service) Create(ctx context.Context, doc *Document, content string) error {
	hash := sha256.Sum256([]byte(content))
	doc.ContentHash = fmt.Sprintf("%x", hash)

	exists, err := s.repo.ExistsByHash(ctx, doc.ContentHash)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}

	doc.Status = StatusPending
	if err := s.repo.Save(ctx, doc); err != nil {
		return err
	}

	s.publishTask(ctx, worker.IngestTaskPayload{
		DocumentID: doc.ID,
		Content:    content,
		Title:      doc.Title,
		Category:   doc.Category,
	})
	return nil
}

// Upload registers a file-backed document and queues its ingestion. The
// caller has already written the file and computed its hash.
func (s *Service) Upload(ctx context.Context, title, category, path, hash string) (*Document, error) {
	exists, err := s.repo.ExistsByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicate
	}

	doc := &Document{
		Title:       title,
		Category:    category,
		FilePath:    path,
		ContentHash: hash,
		Status:      StatusPending,
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return nil, err
	}

	s.publishTask(ctx, worker.IngestTaskPayload{
		DocumentID: doc.ID,
		Path:       path,
		Title:      title,
		Category:   category,
	})
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}

// Delete removes the document's chunks from the index, then soft-deletes
// the registry row.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.remover.DeleteDocument(ctx, id); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id)
}

// Reingest re-queues a file-backed document, e.g. after a failed run or a
// chunking configuration change. Inline documents keep no copy of their
// content, so they cannot be re-queued.
func (s *Service) Reingest(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.FilePath == "" {
		return fmt.Errorf("document %s has no stored file to re-ingest", id)
	}

	if _, err := s.remover.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusPending); err != nil {
		return err
	}

	s.publishTask(ctx, worker.IngestTaskPayload{
		DocumentID: doc.ID,
		Path:       doc.FilePath,
		Title:      doc.Title,
		Category:   doc.Category,
	})
	return nil
}

func (s *Service) publishTask(ctx context.Context, payload worker.IngestTaskPayload) {
	payload.CorrelationID = middleware.GetCorrelationID(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "ingest task marshal failed", "error", err)
		return
	}
	if err := s.pub.Publish(config.TopicIngestTask, body); err != nil {
		slog.ErrorContext(ctx, "ingest task publish failed", "document_id", payload.DocumentID, "error", err)
	} else {
		slog.InfoContext(ctx, "ingest task published", "document_id", payload.DocumentID)
	}
}
