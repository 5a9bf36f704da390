package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"vitae/internal/middleware"
)

// SourceStatusUpdater marks a source record with the outcome of its
// ingestion run.
type SourceStatusUpdater interface {
	UpdateStatus(ctx context.Context, id, status string) error
}

// ResultConsumer consumes ingestion summaries and settles the source
// record's status. A run that produced nothing but failures is marked
// failed; anything that stored at least one chunk counts as completed.
type ResultConsumer struct {
	sources SourceStatusUpdater
}

func NewResultConsumer(sources SourceStatusUpdater) *ResultConsumer {
	return &ResultConsumer{sources: sources}
}

func (c *ResultConsumer) HandleMessage(m *nsq.Message) error {
	var result IngestResult
	if err := json.Unmarshal(m.Body, &result); err != nil {
		slog.Error("dropping malformed ingest result", "error", err)
		return nil
	}
	if result.SourceID == "" {
		slog.Error("dropping ingest result without source id")
		return nil
	}

	ctx := context.Background()
	if result.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, result.CorrelationID)
	}

	status := "completed"
	if result.Failed > 0 && result.Processed == 0 {
		status = "failed"
	}

	if err := c.sources.UpdateStatus(ctx, result.SourceID, status); err != nil {
		slog.ErrorContext(ctx, "failed to update source status",
			"error", err, "source_id", result.SourceID, "status", status)
		return err
	}

	slog.InfoContext(ctx, "source ingestion settled",
		"source_id", result.SourceID,
		"status", status,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return nil
}
