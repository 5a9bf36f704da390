package worker

import (
	"context"
	"time"

	"vitae/internal/embedding"
)

// Chunk embedding lifecycle states as persisted on the chunk record.
const (
	StatusPending  = "pending"
	StatusEmbedded = "embedded"
	StatusFailed   = "failed"
)

// ChunkRecord is the persisted form of one chunk: text, metadata copied
// down from its source, the embedding vector and the dedup hash.
type ChunkRecord struct {
	SourceID    string
	Kind        string
	Title       string
	Content     string
	Skills      []string
	Tags        []string
	DateStart   *time.Time
	DateEnd     *time.Time
	TokenCount  int
	Vector      []float32
	ContentHash string
	Status      string
}

// ChunkStore persists chunks. Writes are at-least-once; InsertChunk
// reports skipped=true when the content hash already exists so replays
// stay idempotent.
type ChunkStore interface {
	InsertChunk(ctx context.Context, rec ChunkRecord) (id string, skipped bool, err error)
	ExistingHashes(ctx context.Context, sourceID string) (map[string]bool, error)
	DeleteChunksBySource(ctx context.Context, sourceID string) error
	UpdateChunkStatus(ctx context.Context, id, status string) error
}

type Embedder interface {
	Embed(ctx context.Context, text string, input embedding.InputType) ([]float32, error)
}

type ResultPublisher interface {
	Publish(topic string, body []byte) error
}
