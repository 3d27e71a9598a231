package text

import (
	"regexp"
	"strings"
)

// Chunk is one bounded segment of a source document, ordered by Index.
type Chunk struct {
	Content    string
	Index      int
	CharLength int
}

// Chunker splits cleaned text into overlapping, boundary-aware segments.
type Chunker struct {
	size    int
	overlap int
}

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	// A sentence break is only taken when it falls inside the last 30% of
	// the window; earlier breaks would produce lopsided chunks.
	breakWindowRatio = 0.7
)

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	// Overlap must leave room for forward progress.
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk walks the text in a sliding window of the configured size. When the
// window's right edge falls before the end of the text, the cut moves back to
// the nearest sentence-ending character, provided that break point sits past
// breakWindowRatio of the window. Each step advances by size-overlap, with a
// guaranteed minimum of one character so the walk always terminates.
func (c *Chunker) Chunk(text string) []Chunk {
	if text == "" {
		return nil
	}

	var chunks []Chunk
	start := 0
	index := 0

	for start < len(text) {
		end := start + c.size
		truncated := end >= len(text)
		if truncated {
			end = len(text)
		}

		window := text[start:end]

		if !truncated {
			if cut := lastSentenceBreak(window); float64(cut) > float64(c.size)*breakWindowRatio {
				window = window[:cut+1]
				end = start + cut + 1
			}
		}

		if trimmed := strings.TrimSpace(window); trimmed != "" {
			chunks = append(chunks, Chunk{Content: trimmed, Index: index, CharLength: len(trimmed)})
			index++
		}

		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next

		if truncated {
			break
		}
	}

	return chunks
}

// lastSentenceBreak returns the highest index of a sentence-ending character
// in window, or -1 when none exists.
func lastSentenceBreak(window string) int {
	best := -1
	for _, ending := range []string{".", "!", "?", "\n"} {
		if i := strings.LastIndex(window, ending); i > best {
			best = i
		}
	}
	return best
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)

// ChunkBySentences splits text strictly at sentence boundaries, accumulating
// sentences until the next one would push the chunk past maxChunkSize.
func ChunkBySentences(text string, maxChunkSize int) []Chunk {
	if text == "" {
		return nil
	}
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultChunkSize
	}

	sentences := sentenceRe.FindAllString(text, -1)

	var chunks []Chunk
	var current strings.Builder
	index := 0

	flush := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			chunks = append(chunks, Chunk{Content: trimmed, Index: index, CharLength: len(trimmed)})
			index++
		}
		current.Reset()
	}

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+len(sentence)+1 > maxChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	flush()

	return chunks
}

// DocumentStats summarizes a document's text for the registry and stats API.
type DocumentStats struct {
	Characters      int `json:"characters"`
	Words           int `json:"words"`
	Sentences       int `json:"sentences"`
	Paragraphs      int `json:"paragraphs"`
	EstimatedTokens int `json:"estimated_tokens"`
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+`)

// Stats computes basic counts; tokens are estimated at four characters each.
func Stats(text string) DocumentStats {
	if text == "" {
		return DocumentStats{}
	}

	paragraphs := 0
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}

	return DocumentStats{
		Characters:      len(text),
		Words:           len(strings.Fields(text)),
		Sentences:       len(sentenceEndRe.Split(text, -1)),
		Paragraphs:      paragraphs,
		EstimatedTokens: len(text) / 4,
	}
}
