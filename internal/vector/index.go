package vector

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Entry is the metadata stored alongside one vector. The vector itself lives
// in a parallel slice so snapshots can encode the two halves separately.
type Entry struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	ChunkIndex int               `json:"chunk_index"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Result is one search hit. Score is the inner product between the query and
// the stored vector; with normalized vectors that equals cosine similarity.
type Result struct {
	Entry
	Score float32
}

// IndexStats is a point-in-time summary for the stats and health endpoints.
type IndexStats struct {
	TotalVectors int `json:"total_vectors"`
	Dimension    int `json:"dimension"`
	Documents    int `json:"documents"`
}

// Index is a flat, exact-scan inner-product index. It assumes callers store
// normalized vectors. The dimension is locked by the first insert; every
// later vector must match it. All methods are safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	dim     int
	nextID  int
	vectors [][]float32
	entries []Entry
}

func NewIndex() *Index {
	return &Index{}
}

// Add inserts a batch atomically: every vector is validated against the
// locked dimension before any state changes, so a bad batch leaves the index
// untouched. Returned IDs follow insertion order.
func (x *Index) Add(vectors [][]float32, entries []Entry) ([]string, error) {
	if len(vectors) != len(entries) {
		return nil, fmt.Errorf("vectors and entries length mismatch: %d vs %d", len(vectors), len(entries))
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	dim := x.dim
	if dim == 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return nil, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
		}
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, index expects %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	x.dim = dim

	ids := make([]string, 0, len(vectors))
	for i, v := range vectors {
		e := entries[i]
		e.ID = fmt.Sprintf("chunk_%d", x.nextID)
		x.nextID++

		stored := make([]float32, dim)
		copy(stored, v)

		x.vectors = append(x.vectors, stored)
		x.entries = append(x.entries, e)
		ids = append(ids, e.ID)
	}

	return ids, nil
}

// Search scans every stored vector and returns up to topK hits with score
// at or above threshold, best first. Equal scores keep insertion order.
// filter, when non-nil, must match: each key lists its acceptable values,
// so a single value is an exact match and several values are set
// membership. The reserved key "document_id" matches the entry's document,
// any other key matches entry metadata.
func (x *Index) Search(query []float32, topK int, threshold float32, filter map[string][]string) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.vectors) == 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d", ErrDimensionMismatch, len(query), x.dim)
	}
	if topK <= 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(x.entries))
	for i, e := range x.entries {
		if !matches(e, filter) {
			continue
		}
		score := dot(query, x.vectors[i])
		if score < threshold {
			continue
		}
		results = append(results, Result{Entry: e, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDocument removes every chunk of a document and rebuilds the
// backing slices. Surviving chunks keep their IDs. Returns the number of
// chunks removed.
func (x *Index) DeleteByDocument(documentID string) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	kept := 0
	removed := 0
	for i, e := range x.entries {
		if e.DocumentID == documentID {
			removed++
			continue
		}
		x.entries[kept] = x.entries[i]
		x.vectors[kept] = x.vectors[i]
		kept++
	}
	x.entries = x.entries[:kept]
	x.vectors = x.vectors[:kept]

	if kept == 0 {
		// An empty index may be re-seeded with a new dimension.
		x.dim = 0
	}

	return removed
}

// Stats returns current counts.
func (x *Index) Stats() IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	docs := make(map[string]struct{}, len(x.entries))
	for _, e := range x.entries {
		docs[e.DocumentID] = struct{}{}
	}

	return IndexStats{
		TotalVectors: len(x.vectors),
		Dimension:    x.dim,
		Documents:    len(docs),
	}
}

// Healthy reports whether the two internal halves agree. It is the check
// behind the readiness endpoint.
func (x *Index) Healthy() error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.vectors) != len(x.entries) {
		return fmt.Errorf("%w: %d vectors, %d entries", ErrCorruptIndex, len(x.vectors), len(x.entries))
	}
	return nil
}

const (
	vectorsFile = "vectors.gob"
	entriesFile = "entries.json"
)

type snapshot struct {
	Dim     int
	NextID  int
	Vectors [][]float32
}

// Persist writes the index as a snapshot pair under dir: vectors as gob,
// entries as JSON. Both halves go through temp files and rename so a crash
// mid-write never leaves a half-updated pair behind.
func (x *Index) Persist(dir string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot{Dim: x.dim, NextID: x.nextID, Vectors: x.vectors}); err != nil {
		return fmt.Errorf("encode vectors: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, vectorsFile), buf.Bytes()); err != nil {
		return err
	}

	entries := x.entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	return writeAtomic(filepath.Join(dir, entriesFile), data)
}

// Load replaces the index contents with a persisted snapshot pair. A missing
// pair is not an error: the index simply starts empty. A half-missing or
// inconsistent pair is ErrCorruptIndex.
func (x *Index) Load(dir string) error {
	vecPath := filepath.Join(dir, vectorsFile)
	entPath := filepath.Join(dir, entriesFile)

	vecData, vecErr := os.ReadFile(filepath.Clean(vecPath))
	entData, entErr := os.ReadFile(filepath.Clean(entPath))

	if os.IsNotExist(vecErr) && os.IsNotExist(entErr) {
		return nil
	}
	if vecErr != nil || entErr != nil {
		return fmt.Errorf("%w: snapshot pair incomplete (vectors: %v, entries: %v)", ErrCorruptIndex, vecErr, entErr)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(vecData)).Decode(&snap); err != nil {
		return fmt.Errorf("%w: decode vectors: %v", ErrCorruptIndex, err)
	}

	var entries []Entry
	if err := json.Unmarshal(entData, &entries); err != nil {
		return fmt.Errorf("%w: decode entries: %v", ErrCorruptIndex, err)
	}

	if len(snap.Vectors) != len(entries) {
		return fmt.Errorf("%w: %d vectors but %d entries", ErrCorruptIndex, len(snap.Vectors), len(entries))
	}
	for i, v := range snap.Vectors {
		if len(v) != snap.Dim {
			return fmt.Errorf("%w: vector %d has dimension %d, snapshot declares %d", ErrCorruptIndex, i, len(v), snap.Dim)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.dim = snap.Dim
	x.nextID = snap.NextID
	x.vectors = snap.Vectors
	x.entries = entries
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func matches(e Entry, filter map[string][]string) bool {
	for k, accepted := range filter {
		got := e.Metadata[k]
		if k == "document_id" {
			got = e.DocumentID
		}
		if !oneOf(got, accepted) {
			return false
		}
	}
	return true
}

func oneOf(s string, values []string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
