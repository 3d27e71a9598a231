package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrEmbedding wraps every provider failure so callers can match the class
// without depending on vendor error types.
var ErrEmbedding = errors.New("embedding provider failure")

const (
	// Rough 4-chars-per-token estimate against the provider's 8k token cap.
	maxEmbedChars = 32000

	DefaultBatchSize  = 100
	DefaultBatchDelay = 200 * time.Millisecond
)

// EmbedderConfig carries the provider knobs.
type EmbedderConfig struct {
	APIKey     string
	Model      string
	BatchSize  int
	BatchDelay time.Duration
}

// Embedder produces L2-normalized embedding vectors via the Gemini API.
// Normalization happens here so the vector index can treat inner product as
// cosine similarity.
type Embedder struct {
	client     *genai.Client
	model      string
	batchSize  int
	batchDelay time.Duration
}

func NewEmbedder(ctx context.Context, cfg EmbedderConfig, opts ...option.ClientOption) (*Embedder, error) {
	clientOpts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrEmbedding, err)
	}

	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}

	return &Embedder{
		client:     client,
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.BatchDelay,
	}, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

// Embed returns the normalized vector for one text. Empty input short-
// circuits to an empty vector without touching the provider.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	text = truncate(ctx, text)

	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrEmbedding)
	}

	return normalize(res.Embedding.Values), nil
}

// EmbedBatch embeds texts in sub-batches with a courtesy delay between
// calls. Output order matches input order; empty texts map to nil vectors
// without a provider call. A provider failure is attributed to the specific
// sub-batch that failed, preserving the count of already-completed work in
// the error.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	// Positions of texts that actually need a provider call.
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if t != "" {
			positions = append(positions, i)
		}
	}

	em := e.client.EmbeddingModel(e.model)

	for start := 0; start < len(positions); start += e.batchSize {
		end := start + e.batchSize
		if end > len(positions) {
			end = len(positions)
		}
		sub := positions[start:end]

		batch := em.NewBatch()
		for _, pos := range sub {
			batch.AddContent(genai.Text(truncate(ctx, texts[pos])))
		}

		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: sub-batch %d-%d of %d (%d texts already embedded): %v",
				ErrEmbedding, start, end-1, len(positions), start, err)
		}
		if len(res.Embeddings) != len(sub) {
			return nil, fmt.Errorf("%w: sub-batch %d-%d returned %d embeddings for %d texts",
				ErrEmbedding, start, end-1, len(res.Embeddings), len(sub))
		}

		for i, pos := range sub {
			results[pos] = normalize(res.Embeddings[i].Values)
		}

		if end < len(positions) && e.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEmbedding, ctx.Err())
			case <-time.After(e.batchDelay):
			}
		}
	}

	return results, nil
}

// Healthy embeds a short probe to verify provider reachability.
func (e *Embedder) Healthy(ctx context.Context) error {
	vec, err := e.Embed(ctx, "health probe")
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: probe returned empty vector", ErrEmbedding)
	}
	return nil
}

func truncate(ctx context.Context, text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	slog.WarnContext(ctx, "text truncated for embedding", "original_length", len(text), "max", maxEmbedChars)
	return text[:maxEmbedChars]
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
