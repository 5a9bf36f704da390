package config

const (
	// TopicIngest is the NSQ topic for source ingestion tasks
	// (chunk, embed and persist one source record).
	TopicIngest = "ingest.source"

	// TopicIngestResult is the NSQ topic for ingestion run summaries.
	TopicIngestResult = "ingest.result"
)
