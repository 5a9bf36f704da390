package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"vitae/internal/chunker"
	"vitae/internal/config"
	"vitae/internal/embedding"
	"vitae/internal/middleware"
)

// IngestConsumer processes one source per NSQ message: chunk, dedup
// against stored hashes, embed, persist. Chunk-level failures are
// aggregated into the run summary instead of failing the message.
type IngestConsumer struct {
	chunker  *chunker.Chunker
	embedder Embedder
	store    ChunkStore
	producer ResultPublisher

	embedTimeout time.Duration
}

func NewIngestConsumer(c *chunker.Chunker, e Embedder, s ChunkStore, pub ResultPublisher, embedTimeout time.Duration) *IngestConsumer {
	if embedTimeout <= 0 {
		embedTimeout = 60 * time.Second
	}
	return &IngestConsumer{
		chunker:      c,
		embedder:     e,
		store:        s,
		producer:     pub,
		embedTimeout: embedTimeout,
	}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	if payload.SourceID == "" || payload.Title == "" {
		slog.ErrorContext(ctx, "poison pill: payload missing source id or title")
		return nil
	}

	src := chunker.SourceRecord{
		ID:           payload.SourceID,
		Type:         payload.Type,
		Title:        payload.Title,
		Organization: payload.Organization,
		Location:     payload.Location,
		StartDate:    payload.StartDate,
		EndDate:      payload.EndDate,
		Summary:      payload.Summary,
		Achievements: payload.Achievements,
		Skills:       payload.Skills,
		Tags:         payload.Tags,
	}

	if payload.Replace {
		if err := h.store.DeleteChunksBySource(ctx, payload.SourceID); err != nil {
			slog.ErrorContext(ctx, "clearing existing chunks failed", "error", err, "source_id", payload.SourceID)
			return err // Retry
		}
	}

	drafts := h.chunker.Chunk(src)
	summary := IngestResult{SourceID: payload.SourceID, CorrelationID: payload.CorrelationID}
	if len(drafts) == 0 {
		slog.WarnContext(ctx, "source produced no chunks", "source_id", payload.SourceID)
		h.publishResult(ctx, summary)
		return nil
	}

	known, err := h.store.ExistingHashes(ctx, payload.SourceID)
	if err != nil {
		slog.ErrorContext(ctx, "loading stored hashes failed", "error", err, "source_id", payload.SourceID)
		return err // Retry
	}

	unique, duplicate := chunker.Partition(drafts, known)
	summary.Skipped = len(duplicate)

	vectors, errs := h.embedAll(ctx, unique)

	for i, d := range unique {
		if errs[i] != nil {
			if embedding.IsKind(errs[i], embedding.KindNonRetryable) {
				// Systemic misconfiguration; stop the whole run here.
				slog.ErrorContext(ctx, "embedding rejected as non-retryable", "error", errs[i], "source_id", payload.SourceID)
				return errs[i]
			}
			summary.Failed++
			slog.WarnContext(ctx, "chunk embedding failed", "error", errs[i],
				"source_id", payload.SourceID, "kind", string(d.Kind))
			continue
		}

		rec := ChunkRecord{
			SourceID:    payload.SourceID,
			Kind:        string(d.Kind),
			Title:       d.Title,
			Content:     d.Content(),
			Skills:      d.Skills,
			Tags:        d.Tags,
			DateStart:   d.DateStart,
			DateEnd:     d.DateEnd,
			TokenCount:  d.TokenCount,
			Vector:      vectors[i],
			ContentHash: chunker.Hash(d.Body),
			Status:      StatusPending,
		}

		id, skipped, err := h.store.InsertChunk(ctx, rec)
		if err != nil {
			summary.Failed++
			slog.ErrorContext(ctx, "chunk insert failed", "error", err, "source_id", payload.SourceID, "kind", string(d.Kind))
			continue
		}
		if skipped {
			summary.Skipped++
			continue
		}

		if err := h.store.UpdateChunkStatus(ctx, id, StatusEmbedded); err != nil {
			summary.Failed++
			slog.ErrorContext(ctx, "chunk status update failed", "error", err, "chunk_id", id)
			continue
		}
		summary.Processed++
	}

	slog.InfoContext(ctx, "ingestion run complete", "source_id", payload.SourceID,
		"processed", summary.Processed, "skipped", summary.Skipped, "failed", summary.Failed)
	h.publishResult(ctx, summary)
	return nil
}

// embedAll fans the drafts out as individual submissions so the shared
// queue can batch them, and so one invalid vector fails only its own
// chunk.
func (h *IngestConsumer) embedAll(ctx context.Context, drafts []chunker.Draft) ([][]float32, []error) {
	vectors := make([][]float32, len(drafts))
	errs := make([]error, len(drafts))

	var wg sync.WaitGroup
	for i, d := range drafts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			ectx, cancel := context.WithTimeout(ctx, h.embedTimeout)
			defer cancel()
			vectors[i], errs[i] = h.embedder.Embed(ectx, text, embedding.InputDocument)
		}(i, d.Content())
	}
	wg.Wait()
	return vectors, errs
}

func (h *IngestConsumer) publishResult(ctx context.Context, summary IngestResult) {
	if h.producer == nil {
		return
	}
	body, err := json.Marshal(summary)
	if err != nil {
		slog.ErrorContext(ctx, "marshalling run summary failed", "error", err)
		return
	}
	if err := h.producer.Publish(config.TopicIngestResult, body); err != nil {
		slog.ErrorContext(ctx, "publishing run summary failed", "error", err)
	}
}
