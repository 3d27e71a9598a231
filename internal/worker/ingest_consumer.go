package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"carebridge/internal/config"
	"carebridge/internal/middleware"
	"carebridge/internal/retrieval"
	"carebridge/internal/text"
)

// Ingestor is the slice of the retrieval service the worker needs.
type Ingestor interface {
	AddDocuments(ctx context.Context, texts []string, sharedMeta map[string]string, chunkSize, overlap int) (*retrieval.IngestReport, error)
}

// DocumentStatusUpdater moves a registry row through its lifecycle.
type DocumentStatusUpdater interface {
	UpdateStatus(ctx context.Context, id, status string) error
	SetChunkCount(ctx context.Context, id string, count int) error
}

// Extractor pulls raw text out of an uploaded file.
type Extractor interface {
	ExtractFile(path string) (string, error)
}

// ResultPublisher emits ingest outcome events.
type ResultPublisher interface {
	Publish(topic string, body []byte) error
}

const ingestTimeout = 120 * time.Second

// IngestConsumer processes ingest tasks off the queue: extract, chunk,
// embed, index, then report. Malformed messages and permanently broken
// documents are dropped rather than requeued; transient failures (provider,
// index persistence) return an error so NSQ retries.
type IngestConsumer struct {
	ingestor  Ingestor
	documents DocumentStatusUpdater
	extractor Extractor
	publisher ResultPublisher
}

func NewIngestConsumer(i Ingestor, d DocumentStatusUpdater, e Extractor, p ResultPublisher) *IngestConsumer {
	return &IngestConsumer{ingestor: i, documents: d, extractor: e, publisher: p}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestTaskPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON never gets better on retry.
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.DocumentID == "" {
		slog.Error("poison pill: missing document id")
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	if err := h.documents.UpdateStatus(ctx, payload.DocumentID, "processing"); err != nil {
		slog.WarnContext(ctx, "status update failed", "document_id", payload.DocumentID, "error", err)
	}

	content := payload.Content
	if payload.Path != "" {
		extracted, err := h.extractor.ExtractFile(payload.Path)
		if err != nil {
			if errors.Is(err, text.ErrNotFound) || errors.Is(err, text.ErrUnsupportedFormat) {
				// The file will never become readable; fail the document.
				h.fail(ctx, payload, err)
				return nil
			}
			slog.ErrorContext(ctx, "extraction failed, will retry", "document_id", payload.DocumentID, "error", err)
			return err
		}
		content = extracted
	}

	meta := map[string]string{"document_id": payload.DocumentID}
	if payload.Title != "" {
		meta["title"] = payload.Title
	}
	if payload.Category != "" {
		meta["category"] = payload.Category
	}

	// Absent payload knobs mean "use configured defaults"; an explicit
	// zero overlap is honored.
	overlap := -1
	if payload.ChunkOverlap != nil {
		overlap = *payload.ChunkOverlap
	}

	report, err := h.ingestor.AddDocuments(ctx, []string{content}, meta, payload.ChunkSize, overlap)
	if err != nil {
		slog.ErrorContext(ctx, "ingestion failed, will retry", "document_id", payload.DocumentID, "error", err)
		return err
	}
	if report.DocumentsFailed > 0 {
		h.fail(ctx, payload, errors.New("document produced no indexable content"))
		return nil
	}

	if err := h.documents.UpdateStatus(ctx, payload.DocumentID, "completed"); err != nil {
		slog.WarnContext(ctx, "status update failed", "document_id", payload.DocumentID, "error", err)
	}
	if err := h.documents.SetChunkCount(ctx, payload.DocumentID, report.ChunksIndexed); err != nil {
		slog.WarnContext(ctx, "chunk count update failed", "document_id", payload.DocumentID, "error", err)
	}

	h.publishResult(ctx, IngestResultPayload{
		DocumentID:    payload.DocumentID,
		Status:        "completed",
		ChunksIndexed: report.ChunksIndexed,
		CorrelationID: payload.CorrelationID,
	})

	slog.InfoContext(ctx, "document ingested", "document_id", payload.DocumentID, "chunks", report.ChunksIndexed)
	return nil
}

func (h *IngestConsumer) fail(ctx context.Context, payload IngestTaskPayload, cause error) {
	slog.ErrorContext(ctx, "document ingestion failed permanently", "document_id", payload.DocumentID, "error", cause)

	if err := h.documents.UpdateStatus(ctx, payload.DocumentID, "failed"); err != nil {
		slog.WarnContext(ctx, "status update failed", "document_id", payload.DocumentID, "error", err)
	}

	h.publishResult(ctx, IngestResultPayload{
		DocumentID:    payload.DocumentID,
		Status:        "failed",
		Error:         cause.Error(),
		CorrelationID: payload.CorrelationID,
	})
}

func (h *IngestConsumer) publishResult(ctx context.Context, result IngestResultPayload) {
	if h.publisher == nil {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		slog.ErrorContext(ctx, "result marshal failed", "error", err)
		return
	}
	if err := h.publisher.Publish(config.TopicIngestResult, body); err != nil {
		slog.WarnContext(ctx, "result publish failed", "document_id", result.DocumentID, "error", err)
	}
}
