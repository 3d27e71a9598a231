package retrieval_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebridge/internal/retrieval"
	"carebridge/internal/settings"
	"carebridge/internal/vector"
)

// stubEmbedder hands out fixed vectors keyed by text. Unknown texts get the
// fallback vector.
type stubEmbedder struct {
	vectors    map[string][]float32
	fallback   []float32
	embedErr   error
	batchErr   error
	healthyErr error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	return s.lookup(text), nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.lookup(t)
	}
	return out, nil
}

func (s *stubEmbedder) Healthy(context.Context) error { return s.healthyErr }

func (s *stubEmbedder) lookup(text string) []float32 {
	if v, ok := s.vectors[text]; ok {
		return v
	}
	return s.fallback
}

type stubMirror struct {
	stored   []vector.Entry
	deleted  []string
	storeErr error
}

func (m *stubMirror) StoreChunks(_ context.Context, entries []vector.Entry, _ [][]float32) error {
	m.stored = append(m.stored, entries...)
	return m.storeErr
}

func (m *stubMirror) DeleteByDocument(_ context.Context, documentID string) error {
	m.deleted = append(m.deleted, documentID)
	return nil
}

type stubSettingsRepo struct {
	row *settings.Settings
	err error
}

func (r *stubSettingsRepo) Get(context.Context) (*settings.Settings, error) { return r.row, r.err }
func (r *stubSettingsRepo) Update(context.Context, *settings.Settings) error {
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestService(e retrieval.Embedder, mirror retrieval.Mirror, settingsSvc *settings.Service, cfg retrieval.Config) (*retrieval.Service, *vector.Index) {
	idx := vector.NewIndex()
	svc := retrieval.NewService(e, idx, mirror, settingsSvc, cfg, nil, discard())
	return svc, idx
}

func defaultEmbedder() *stubEmbedder {
	return &stubEmbedder{
		vectors: map[string][]float32{
			"Insulin therapy basics.": {1, 0, 0},
			"Diet and nutrition.":     {0, 1, 0},
			"insulin":                 {1, 0, 0},
		},
		fallback: []float32{0, 0, 1},
	}
}

func TestService_AddDocumentsAndQuery(t *testing.T) {
	e := defaultEmbedder()
	svc, _ := newTestService(e, nil, nil, retrieval.Config{TopK: 5, SimilarityThreshold: 0.5})

	report, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics.", "Diet and nutrition."}, nil, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DocumentsTotal)
	assert.Equal(t, 0, report.DocumentsFailed)
	assert.Equal(t, 2, report.ChunksIndexed)
	assert.Len(t, report.DocumentIDs, 2)

	result, err := svc.Query(context.Background(), "insulin", nil)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "Insulin therapy basics.", result.Documents[0].Content)
	assert.InDelta(t, 1.0, float64(result.Documents[0].Score), 1e-5)
	assert.Equal(t, 1, result.TotalResults)
	assert.Equal(t, 5, result.Metadata["top_k"])
}

func TestService_Query(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		svc, _ := newTestService(defaultEmbedder(), nil, nil, retrieval.Config{})
		_, err := svc.Query(context.Background(), "", nil)
		assert.ErrorIs(t, err, retrieval.ErrValidation)
	})

	t.Run("oversized query", func(t *testing.T) {
		svc, _ := newTestService(defaultEmbedder(), nil, nil, retrieval.Config{})
		_, err := svc.Query(context.Background(), strings.Repeat("q", retrieval.MaxQueryLength+1), nil)
		assert.ErrorIs(t, err, retrieval.ErrValidation)
	})

	t.Run("embedder failure surfaces", func(t *testing.T) {
		e := defaultEmbedder()
		svc, _ := newTestService(e, nil, nil, retrieval.Config{})
		_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, nil, 0, -1)
		require.NoError(t, err)

		e.embedErr = errors.New("provider down")
		_, err = svc.Query(context.Background(), "insulin", nil)
		assert.Error(t, err)
	})

	t.Run("settings row overrides config defaults", func(t *testing.T) {
		e := defaultEmbedder()
		settingsSvc := settings.NewService(&stubSettingsRepo{row: &settings.Settings{SearchTopK: 1, SimilarityThreshold: 0.1}})
		svc, _ := newTestService(e, nil, settingsSvc, retrieval.Config{TopK: 5, SimilarityThreshold: 0.9})

		_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics.", "Diet and nutrition."}, nil, 0, -1)
		require.NoError(t, err)

		// Query vector overlaps both documents; topK from settings caps at 1.
		e.vectors["overlap"] = []float32{0.7071, 0.7071, 0}
		result, err := svc.Query(context.Background(), "overlap", nil)
		require.NoError(t, err)
		assert.Len(t, result.Documents, 1)
		assert.Equal(t, 1, result.Metadata["top_k"])
	})

	t.Run("unreadable settings fall back to config", func(t *testing.T) {
		e := defaultEmbedder()
		settingsSvc := settings.NewService(&stubSettingsRepo{err: errors.New("db down")})
		svc, _ := newTestService(e, nil, settingsSvc, retrieval.Config{TopK: 5, SimilarityThreshold: 0.5})

		_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, nil, 0, -1)
		require.NoError(t, err)

		result, err := svc.Query(context.Background(), "insulin", nil)
		require.NoError(t, err)
		assert.Len(t, result.Documents, 1)
	})

	t.Run("membership filter keeps any listed category", func(t *testing.T) {
		e := defaultEmbedder()
		svc, _ := newTestService(e, nil, nil, retrieval.Config{TopK: 5, SimilarityThreshold: 0.1})

		_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, map[string]string{"category": "diabetes"}, 0, -1)
		require.NoError(t, err)
		_, err = svc.AddDocuments(context.Background(), []string{"Diet and nutrition."}, map[string]string{"category": "nutrition"}, 0, -1)
		require.NoError(t, err)

		e.vectors["overlap"] = []float32{0.7071, 0.7071, 0}
		result, err := svc.Query(context.Background(), "overlap", &retrieval.QueryOptions{
			Filters: map[string]retrieval.FilterValues{"category": {"diabetes", "cardiology"}},
		})
		require.NoError(t, err)
		require.Len(t, result.Documents, 1)
		assert.Equal(t, "Insulin therapy basics.", result.Documents[0].Content)

		// Both categories listed: both documents survive.
		result, err = svc.Query(context.Background(), "overlap", &retrieval.QueryOptions{
			Filters: map[string]retrieval.FilterValues{"category": {"diabetes", "nutrition"}},
		})
		require.NoError(t, err)
		assert.Len(t, result.Documents, 2)
	})

	t.Run("per-request options win", func(t *testing.T) {
		e := defaultEmbedder()
		svc, _ := newTestService(e, nil, nil, retrieval.Config{TopK: 5, SimilarityThreshold: 0.99})

		_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, nil, 0, -1)
		require.NoError(t, err)

		low := float32(0.1)
		one := 1
		result, err := svc.Query(context.Background(), "insulin", &retrieval.QueryOptions{TopK: &one, Threshold: &low})
		require.NoError(t, err)
		assert.Len(t, result.Documents, 1)
	})
}

func TestFilterValues_UnmarshalJSON(t *testing.T) {
	t.Run("single string becomes one value", func(t *testing.T) {
		var f retrieval.FilterValues
		require.NoError(t, json.Unmarshal([]byte(`"diabetes"`), &f))
		assert.Equal(t, retrieval.FilterValues{"diabetes"}, f)
	})

	t.Run("array keeps all values", func(t *testing.T) {
		var f retrieval.FilterValues
		require.NoError(t, json.Unmarshal([]byte(`["diabetes", "cardiology"]`), &f))
		assert.Equal(t, retrieval.FilterValues{"diabetes", "cardiology"}, f)
	})

	t.Run("anything else is rejected", func(t *testing.T) {
		var f retrieval.FilterValues
		err := json.Unmarshal([]byte(`7`), &f)
		assert.ErrorIs(t, err, retrieval.ErrValidation)
	})
}

func TestService_AddDocuments(t *testing.T) {
	t.Run("empty batch is rejected", func(t *testing.T) {
		svc, _ := newTestService(defaultEmbedder(), nil, nil, retrieval.Config{})
		_, err := svc.AddDocuments(context.Background(), nil, nil, 0, -1)
		assert.ErrorIs(t, err, retrieval.ErrValidation)
	})

	t.Run("bad document is counted, batch continues", func(t *testing.T) {
		svc, _ := newTestService(defaultEmbedder(), nil, nil, retrieval.Config{})

		report, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics.", "   "}, nil, 0, -1)
		require.NoError(t, err)
		assert.Equal(t, 2, report.DocumentsTotal)
		assert.Equal(t, 1, report.DocumentsFailed)
		assert.Equal(t, 1, report.ChunksIndexed)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0], "document 1")
	})

	t.Run("all documents empty yields empty report without embedding", func(t *testing.T) {
		e := defaultEmbedder()
		e.batchErr = errors.New("must not be called")
		svc, _ := newTestService(e, nil, nil, retrieval.Config{})

		report, err := svc.AddDocuments(context.Background(), []string{"", "  "}, nil, 0, -1)
		require.NoError(t, err)
		assert.Equal(t, 2, report.DocumentsFailed)
		assert.Zero(t, report.ChunksIndexed)
	})

	t.Run("embedding failure aborts and surfaces", func(t *testing.T) {
		e := defaultEmbedder()
		e.batchErr = errors.New("rate limited")
		svc, idx := newTestService(e, nil, nil, retrieval.Config{})

		_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, nil, 0, -1)
		assert.Error(t, err)
		assert.Zero(t, idx.Stats().TotalVectors)
	})

	t.Run("chunk metadata carries position and shared fields", func(t *testing.T) {
		e := defaultEmbedder()
		svc, idx := newTestService(e, nil, nil, retrieval.Config{})

		_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, map[string]string{"category": "education"}, 0, -1)
		require.NoError(t, err)

		hits, err := idx.Search([]float32{1, 0, 0}, 1, 0, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "education", hits[0].Metadata["category"])
		assert.Equal(t, "0", hits[0].Metadata["chunk_index"])
		assert.Equal(t, "1", hits[0].Metadata["total_chunks"])
	})

	t.Run("mirror failure is not fatal", func(t *testing.T) {
		mirror := &stubMirror{storeErr: errors.New("weaviate down")}
		svc, _ := newTestService(defaultEmbedder(), mirror, nil, retrieval.Config{SimilarityThreshold: 0.5})

		report, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, nil, 0, -1)
		require.NoError(t, err)
		assert.Equal(t, 1, report.ChunksIndexed)
		require.Len(t, mirror.stored, 1)
		assert.Equal(t, "chunk_0", mirror.stored[0].ID)
	})
}

func TestService_UpdateDocument(t *testing.T) {
	e := defaultEmbedder()
	svc, _ := newTestService(e, nil, nil, retrieval.Config{TopK: 5, SimilarityThreshold: 0.5})

	_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, map[string]string{"document_id": "doc-1"}, 0, -1)
	require.NoError(t, err)

	e.vectors["Updated insulin guidance."] = []float32{1, 0, 0}
	report, err := svc.UpdateDocument(context.Background(), "doc-1", "Updated insulin guidance.", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksIndexed)
	assert.Equal(t, []string{"doc-1"}, report.DocumentIDs)

	result, err := svc.Query(context.Background(), "insulin", nil)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "Updated insulin guidance.", result.Documents[0].Content)
	assert.Equal(t, "doc-1", result.Documents[0].DocumentID)
}

func TestService_DeleteDocument(t *testing.T) {
	t.Run("removes chunks and notifies mirror", func(t *testing.T) {
		mirror := &stubMirror{}
		svc, idx := newTestService(defaultEmbedder(), mirror, nil, retrieval.Config{SimilarityThreshold: 0.5})

		_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, map[string]string{"document_id": "doc-1"}, 0, -1)
		require.NoError(t, err)

		removed, err := svc.DeleteDocument(context.Background(), "doc-1")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Zero(t, idx.Stats().TotalVectors)
		assert.Equal(t, []string{"doc-1"}, mirror.deleted)
	})

	t.Run("unknown document is a logged no-op", func(t *testing.T) {
		svc, _ := newTestService(defaultEmbedder(), nil, nil, retrieval.Config{})
		removed, err := svc.DeleteDocument(context.Background(), "missing")
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("empty id", func(t *testing.T) {
		svc, _ := newTestService(defaultEmbedder(), nil, nil, retrieval.Config{})
		_, err := svc.DeleteDocument(context.Background(), "")
		assert.ErrorIs(t, err, retrieval.ErrValidation)
	})
}

func TestService_PersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := defaultEmbedder()
	idx := vector.NewIndex()
	cfg := retrieval.Config{TopK: 5, SimilarityThreshold: 0.5, IndexDir: dir}
	svc := retrieval.NewService(e, idx, nil, nil, cfg, nil, discard())

	_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, nil, 0, -1)
	require.NoError(t, err)

	fresh := vector.NewIndex()
	require.NoError(t, fresh.Load(dir))
	svc2 := retrieval.NewService(e, fresh, nil, nil, cfg, nil, discard())

	result, err := svc2.Query(context.Background(), "insulin", nil)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "Insulin therapy basics.", result.Documents[0].Content)
}

func TestService_StatsAndHealth(t *testing.T) {
	e := defaultEmbedder()
	svc, _ := newTestService(e, nil, nil, retrieval.Config{TopK: 5, SimilarityThreshold: 0.5, ChunkSize: 1000, ChunkOverlap: 200})

	_, err := svc.AddDocuments(context.Background(), []string{"Insulin therapy basics."}, nil, 0, -1)
	require.NoError(t, err)

	stats := svc.Stats(context.Background())
	assert.Equal(t, 1, stats["total_chunks"])
	assert.Equal(t, 1, stats["total_documents"])
	assert.Equal(t, 3, stats["embedding_dimensions"])

	assert.NoError(t, svc.Healthy(context.Background()))

	e.healthyErr = errors.New("provider down")
	assert.Error(t, svc.Healthy(context.Background()))
}
