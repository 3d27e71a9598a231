package worker

// IngestTaskPayload asks the worker to ingest one uploaded document. Either
// Path points at a file under the upload directory, or Content carries the
// raw text directly.
type IngestTaskPayload struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path,omitempty"`
	Content    string `json:"content,omitempty"`
	Title      string `json:"title,omitempty"`
	Category   string `json:"category,omitempty"`

	// ChunkOverlap is a pointer so an explicit zero survives the wire;
	// nil means "use configured defaults".
	ChunkSize    int  `json:"chunk_size,omitempty"`
	ChunkOverlap *int `json:"chunk_overlap,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
}

// IngestResultPayload reports the outcome of one ingest task.
type IngestResultPayload struct {
	DocumentID    string `json:"document_id"`
	Status        string `json:"status"` // completed or failed
	ChunksIndexed int    `json:"chunks_indexed"`
	Error         string `json:"error,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
