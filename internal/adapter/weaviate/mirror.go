package weaviate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"

	"carebridge/internal/vector"
)

// ClassName is the Weaviate class holding mirrored chunks.
const ClassName = "HealthChunk"

// Mirror replicates indexed chunks into a Weaviate instance. The local flat
// index stays the source of truth; the mirror is a courtesy replica, so
// callers log mirror errors and move on rather than failing the operation.
type Mirror struct {
	client *weaviate.Client
	logger *slog.Logger
}

func NewMirror(client *weaviate.Client, logger *slog.Logger) *Mirror {
	return &Mirror{client: client, logger: logger}
}

// NewClient builds a plain Weaviate client for the mirror.
func NewClient(host, scheme string) (*weaviate.Client, error) {
	return weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
}

// EnsureSchema creates the chunk class if the instance does not have it yet.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	exists, err := m.client.Schema().ClassExistenceChecker().WithClassName(ClassName).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", ClassName, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      ClassName,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "documentId", DataType: []string{"text"}},
			{Name: "chunkId", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
		},
	}
	if err := m.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", ClassName, err)
	}

	m.logger.Info("mirror schema created", "class", ClassName)
	return nil
}

// StoreChunks replicates a batch of indexed chunks. Entries and vectors are
// parallel, exactly as they went into the local index. Individual failures
// are logged and counted, never fatal.
func (m *Mirror) StoreChunks(ctx context.Context, entries []vector.Entry, vectors [][]float32) error {
	if len(entries) != len(vectors) {
		return fmt.Errorf("entries and vectors length mismatch: %d vs %d", len(entries), len(vectors))
	}

	failed := 0
	for i, e := range entries {
		_, err := m.client.Data().Creator().
			WithClassName(ClassName).
			WithProperties(map[string]interface{}{
				"content":    e.Content,
				"documentId": e.DocumentID,
				"chunkId":    e.ID,
				"chunkIndex": e.ChunkIndex,
			}).
			WithVector(vectors[i]).
			Do(ctx)
		if err != nil {
			failed++
			m.logger.Warn("mirror store failed", "chunk_id", e.ID, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("mirror stored %d of %d chunks", len(entries)-failed, len(entries))
	}
	return nil
}

// DeleteByDocument removes every mirrored chunk of a document.
func (m *Mirror) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := m.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueString(documentID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("mirror delete for document %s: %w", documentID, err)
	}
	return nil
}
