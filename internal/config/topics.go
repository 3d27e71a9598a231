package config

const (
	// TopicIngestTask is the NSQ topic for document ingestion tasks.
	TopicIngestTask = "ingest.task"

	// TopicIngestResult is the NSQ topic for ingestion outcomes (success/failure).
	TopicIngestResult = "ingest.result"
)
