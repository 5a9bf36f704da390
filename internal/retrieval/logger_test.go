package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"vitae/internal/middleware"
)

func TestQueryLogger_ThreadSafety(t *testing.T) {
	var buf bytes.Buffer
	logger := NewQueryLogger(&buf)
	ctx := context.Background()

	concurrency := 50
	iterations := 100
	var wg sync.WaitGroup

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				logger.Log(ctx, QueryLogEntry{
					Query:    "test",
					Duration: time.Millisecond,
				})
			}
		}()
	}
	wg.Wait()

	// Verify output is valid JSON stream
	decoder := json.NewDecoder(&buf)
	count := 0
	for decoder.More() {
		var entry QueryLogEntry
		err := decoder.Decode(&entry)
		if err != nil {
			t.Fatalf("Failed to decode entry %d: %v", count, err)
		}
		count++
	}

	expected := concurrency * iterations
	if count != expected {
		t.Errorf("Expected %d entries, got %d", expected, count)
	}
}

func TestQueryLogger_CorrelationIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewQueryLogger(&buf)

	ctx := middleware.WithCorrelationID(context.Background(), "req-123")
	logger.Log(ctx, QueryLogEntry{Query: "go experience"})

	var entry QueryLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.CorrelationID != "req-123" {
		t.Errorf("expected correlation id req-123, got %q", entry.CorrelationID)
	}
}
