package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"carebridge/internal/settings"
	"carebridge/internal/text"
	"carebridge/internal/vector"
)

// ErrValidation flags empty or oversized caller input.
var ErrValidation = errors.New("invalid input")

// MaxQueryLength bounds query text; anything longer is almost certainly a
// pasted document, not a question.
const MaxQueryLength = 2000

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Healthy(ctx context.Context) error
}

// Mirror is the optional replica store. All calls are best-effort.
type Mirror interface {
	StoreChunks(ctx context.Context, entries []vector.Entry, vectors [][]float32) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Document is one retrieved chunk with its relevance score.
type Document struct {
	Content    string            `json:"content"`
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Score      float32           `json:"relevance_score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Result is the full answer to one retrieval query.
type Result struct {
	Documents    []Document     `json:"documents"`
	Query        string         `json:"query"`
	TotalResults int            `json:"total_results"`
	Elapsed      time.Duration  `json:"-"`
	ElapsedMs    int64          `json:"processing_time_ms"`
	Metadata     map[string]any `json:"metadata"`
}

// FilterValues lists the acceptable values for one metadata key: a single
// value is an exact match, several are set membership. It decodes from
// either a JSON string or an array of strings, so both
// {"category": "diabetes"} and {"category": ["diabetes", "cardiology"]}
// are valid filters on the wire.
type FilterValues []string

func (f *FilterValues) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*f = FilterValues{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("%w: filter values must be a string or an array of strings", ErrValidation)
	}
	*f = many
	return nil
}

// QueryOptions override the resolved defaults per request.
type QueryOptions struct {
	TopK      *int
	Threshold *float32
	Filters   map[string]FilterValues
}

// IngestReport counts per-document outcomes of a batch ingestion. One bad
// document never aborts the rest.
type IngestReport struct {
	DocumentsTotal  int      `json:"documents_total"`
	DocumentsFailed int      `json:"documents_failed"`
	ChunksIndexed   int      `json:"chunks_indexed"`
	DocumentIDs     []string `json:"document_ids"`
	Errors          []string `json:"errors,omitempty"`
}

// Config holds process-level defaults, used when the runtime settings row is
// unavailable or unset.
type Config struct {
	TopK                int
	SimilarityThreshold float32
	ChunkSize           int
	ChunkOverlap        int
	IndexDir            string
}

// Service orchestrates the ingestion and query paths: chunker in, embedder
// across, index underneath, optional mirror on the side.
type Service struct {
	embedder    Embedder
	index       *vector.Index
	mirror      Mirror
	settingsSvc *settings.Service
	cfg         Config
	queryLog    *QueryLogger
	logger      *slog.Logger
}

func NewService(e Embedder, idx *vector.Index, mirror Mirror, settingsSvc *settings.Service, cfg Config, queryLog *QueryLogger, logger *slog.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = text.DefaultChunkSize
	}
	return &Service{
		embedder:    e,
		index:       idx,
		mirror:      mirror,
		settingsSvc: settingsSvc,
		cfg:         cfg,
		queryLog:    queryLog,
		logger:      logger,
	}
}

// Query embeds the question, searches the index and returns the surviving
// documents best-first. Defaults resolve from the runtime settings row,
// falling back to process config; explicit options win over both.
func (s *Service) Query(ctx context.Context, query string, opts *QueryOptions) (*Result, error) {
	start := time.Now()

	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}
	if len(query) > MaxQueryLength {
		return nil, fmt.Errorf("%w: query exceeds %d characters", ErrValidation, MaxQueryLength)
	}

	topK, threshold := s.resolveDefaults(ctx)
	var filters map[string][]string
	if opts != nil {
		if opts.TopK != nil && *opts.TopK > 0 {
			topK = *opts.TopK
		}
		if opts.Threshold != nil {
			threshold = *opts.Threshold
		}
		if len(opts.Filters) > 0 {
			filters = make(map[string][]string, len(opts.Filters))
			for k, v := range opts.Filters {
				filters[k] = v
			}
		}
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(queryVec, topK, threshold, filters)
	if err != nil {
		return nil, err
	}

	documents := make([]Document, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		documents = append(documents, Document{
			Content:    h.Content,
			ChunkID:    h.ID,
			DocumentID: h.DocumentID,
			Score:      h.Score,
			Metadata:   h.Metadata,
		})
	}
	sort.SliceStable(documents, func(i, j int) bool { return documents[i].Score > documents[j].Score })

	elapsed := time.Since(start)
	result := &Result{
		Documents:    documents,
		Query:        query,
		TotalResults: len(documents),
		Elapsed:      elapsed,
		ElapsedMs:    elapsed.Milliseconds(),
		Metadata: map[string]any{
			"top_k":                topK,
			"similarity_threshold": threshold,
			"filters_applied":      filters,
		},
	}

	if s.queryLog != nil {
		s.queryLog.Log(ctx, QueryLogEntry{
			Query:      query,
			NumResults: len(documents),
			TopK:       topK,
			Threshold:  threshold,
			Duration:   elapsed,
		})
	}

	return result, nil
}

// AddDocuments chunks, embeds and indexes a batch of texts. sharedMeta is
// merged into every chunk's metadata; chunkSize <= 0 and overlap < 0 fall
// back to the configured defaults. Per-document chunking failures are counted in the
// report; embedding and index failures abort and surface to the caller.
func (s *Service) AddDocuments(ctx context.Context, texts []string, sharedMeta map[string]string, chunkSize, overlap int) (*IngestReport, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no documents provided", ErrValidation)
	}
	if chunkSize <= 0 {
		chunkSize = s.cfg.ChunkSize
	}
	if overlap < 0 {
		overlap = s.cfg.ChunkOverlap
	}

	chunker := text.NewChunker(chunkSize, overlap)
	report := &IngestReport{DocumentsTotal: len(texts)}

	var entries []vector.Entry
	var contents []string

	for i, docText := range texts {
		cleaned := text.Clean(docText)
		if cleaned == "" {
			report.DocumentsFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("document %d: empty after cleaning", i))
			continue
		}

		docID := sharedMeta["document_id"]
		if docID == "" || len(texts) > 1 {
			docID = uuid.NewString()
		}
		report.DocumentIDs = append(report.DocumentIDs, docID)

		chunks := chunker.Chunk(cleaned)
		for _, ch := range chunks {
			meta := map[string]string{
				"document_index": strconv.Itoa(i),
				"chunk_index":    strconv.Itoa(ch.Index),
				"total_chunks":   strconv.Itoa(len(chunks)),
				"chunk_size":     strconv.Itoa(ch.CharLength),
			}
			for k, v := range sharedMeta {
				if k == "document_id" {
					continue
				}
				meta[k] = v
			}

			entries = append(entries, vector.Entry{
				DocumentID: docID,
				Content:    ch.Content,
				ChunkIndex: ch.Index,
				Metadata:   meta,
			})
			contents = append(contents, ch.Content)
		}
	}

	if len(entries) == 0 {
		return report, nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return report, err
	}

	ids, err := s.index.Add(vectors, entries)
	if err != nil {
		return report, err
	}
	report.ChunksIndexed = len(ids)

	if err := s.persist(); err != nil {
		return report, err
	}

	if s.mirror != nil {
		for i := range entries {
			entries[i].ID = ids[i]
		}
		if err := s.mirror.StoreChunks(ctx, entries, vectors); err != nil {
			s.logger.Warn("mirror replication incomplete", "error", err)
		}
	}

	s.logger.Info("documents ingested",
		"documents", report.DocumentsTotal,
		"failed", report.DocumentsFailed,
		"chunks", report.ChunksIndexed,
	)
	return report, nil
}

// UpdateDocument replaces a document's chunks: delete, then re-ingest the
// new content under the same document ID.
func (s *Service) UpdateDocument(ctx context.Context, documentID, newContent string, meta map[string]string) (*IngestReport, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: empty document id", ErrValidation)
	}

	if _, err := s.DeleteDocument(ctx, documentID); err != nil {
		return nil, err
	}

	merged := map[string]string{"document_id": documentID}
	for k, v := range meta {
		merged[k] = v
	}
	return s.AddDocuments(ctx, []string{newContent}, merged, 0, -1)
}

// DeleteDocument removes a document's chunks from the index (and the mirror,
// best-effort) and persists the shrunken index. Returns how many chunks went.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("%w: empty document id", ErrValidation)
	}

	removed := s.index.DeleteByDocument(documentID)
	if removed == 0 {
		s.logger.Warn("document not found in index", "document_id", documentID)
		return 0, nil
	}

	if err := s.persist(); err != nil {
		return removed, err
	}

	if s.mirror != nil {
		if err := s.mirror.DeleteByDocument(ctx, documentID); err != nil {
			s.logger.Warn("mirror delete incomplete", "document_id", documentID, "error", err)
		}
	}

	s.logger.Info("document deleted", "document_id", documentID, "chunks_removed", removed)
	return removed, nil
}

// Stats merges index counts with the active defaults.
func (s *Service) Stats(ctx context.Context) map[string]any {
	topK, threshold := s.resolveDefaults(ctx)
	idx := s.index.Stats()
	return map[string]any{
		"total_chunks":         idx.TotalVectors,
		"total_documents":      idx.Documents,
		"embedding_dimensions": idx.Dimension,
		"top_k":                topK,
		"similarity_threshold": threshold,
		"chunk_size":           s.cfg.ChunkSize,
		"chunk_overlap":        s.cfg.ChunkOverlap,
	}
}

// Healthy reports readiness: index halves in lock-step and embedding
// provider reachable.
func (s *Service) Healthy(ctx context.Context) error {
	if err := s.index.Healthy(); err != nil {
		return err
	}
	return s.embedder.Healthy(ctx)
}

func (s *Service) persist() error {
	if s.cfg.IndexDir == "" {
		return nil
	}
	return s.index.Persist(s.cfg.IndexDir)
}

// resolveDefaults prefers the runtime settings row, falling back to process
// config when the row is unreadable or a field is unset.
func (s *Service) resolveDefaults(ctx context.Context) (int, float32) {
	topK := s.cfg.TopK
	threshold := s.cfg.SimilarityThreshold

	if s.settingsSvc == nil {
		return topK, threshold
	}
	row, err := s.settingsSvc.Get(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable, using config defaults", "error", err)
		return topK, threshold
	}
	if row.SearchTopK > 0 {
		topK = row.SearchTopK
	}
	if row.SimilarityThreshold > 0 {
		threshold = row.SimilarityThreshold
	}
	return topK, threshold
}
