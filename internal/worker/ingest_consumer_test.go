package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vitae/internal/chunker"
	"vitae/internal/embedding"
	"vitae/internal/tokens"
	"vitae/internal/worker"
)

type MockChunkStore struct{ mock.Mock }

func (m *MockChunkStore) InsertChunk(ctx context.Context, rec worker.ChunkRecord) (string, bool, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockChunkStore) ExistingHashes(ctx context.Context, sourceID string) (map[string]bool, error) {
	args := m.Called(ctx, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *MockChunkStore) DeleteChunksBySource(ctx context.Context, sourceID string) error {
	return m.Called(ctx, sourceID).Error(0)
}

func (m *MockChunkStore) UpdateChunkStatus(ctx context.Context, id, status string) error {
	return m.Called(ctx, id, status).Error(0)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

// fakeEmbedder routes each text through a function so tests can fail
// specific chunks.
type fakeEmbedder struct {
	fn func(text string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, input embedding.InputType) ([]float32, error) {
	if f.fn != nil {
		return f.fn(text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func newTestChunker(t *testing.T) *chunker.Chunker {
	t.Helper()
	budget, err := tokens.NewBudget(30, 120, 200)
	require.NoError(t, err)
	counter := tokens.NewCounter()
	return chunker.New(counter, tokens.NewSplitter(counter, budget), chunker.Options{})
}

func testPayload() worker.IngestPayload {
	start := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	return worker.IngestPayload{
		SourceID:     "src-1",
		Type:         "job",
		Title:        "Staff Engineer",
		Organization: "Acme Corp",
		StartDate:    &start,
		Summary: "Owned the payments platform end to end, from API design through on-call. " +
			"Drove the migration off the legacy settlement system while keeping the error budget intact.",
		Achievements: []string{
			"Cut settlement latency 40% by replacing the nightly batch with streaming reconciliation.",
			"Scaled the ledger service to 2M transactions per day without adding hardware.",
		},
		Skills:        []string{"Go", "PostgreSQL", "Kafka"},
		Tags:          []string{"fintech", "payments"},
		CorrelationID: "corr-1",
	}
}

func message(t *testing.T, payload interface{}) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return nsq.NewMessage(nsq.MessageID{}, body)
}

func decodeSummary(t *testing.T, body []byte) worker.IngestResult {
	t.Helper()
	var res worker.IngestResult
	require.NoError(t, json.Unmarshal(body, &res))
	return res
}

func TestHandleMessage_HappyPath(t *testing.T) {
	ch := newTestChunker(t)
	payload := testPayload()

	drafts := ch.Chunk(chunker.SourceRecord{
		ID: payload.SourceID, Type: payload.Type, Title: payload.Title,
		Organization: payload.Organization, StartDate: payload.StartDate,
		Summary: payload.Summary, Achievements: payload.Achievements,
		Skills: payload.Skills, Tags: payload.Tags,
	})
	require.NotEmpty(t, drafts)

	store := new(MockChunkStore)
	pub := new(MockPublisher)

	store.On("ExistingHashes", mock.Anything, "src-1").Return(map[string]bool{}, nil)
	for i := range drafts {
		store.On("InsertChunk", mock.Anything, mock.MatchedBy(func(rec worker.ChunkRecord) bool {
			return rec.SourceID == "src-1" && rec.Status == worker.StatusPending &&
				len(rec.Vector) == 3 && rec.ContentHash != ""
		})).Return(fmt.Sprintf("chunk-%d", i), false, nil).Once()
	}
	store.On("UpdateChunkStatus", mock.Anything, mock.Anything, worker.StatusEmbedded).
		Return(nil).Times(len(drafts))

	var published []byte
	pub.On("Publish", "ingest.result", mock.MatchedBy(func(b []byte) bool {
		published = b
		return true
	})).Return(nil)

	c := worker.NewIngestConsumer(ch, &fakeEmbedder{}, store, pub, 0)
	err := c.HandleMessage(message(t, payload))
	require.NoError(t, err)

	summary := decodeSummary(t, published)
	assert.Equal(t, len(drafts), summary.Processed)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, "corr-1", summary.CorrelationID)
	store.AssertExpectations(t)
}

func TestHandleMessage_PoisonPill(t *testing.T) {
	store := new(MockChunkStore)
	c := worker.NewIngestConsumer(newTestChunker(t), &fakeEmbedder{}, store, nil, 0)

	err := c.HandleMessage(nsq.NewMessage(nsq.MessageID{}, []byte("{not json")))
	assert.NoError(t, err, "invalid json must not be requeued")
	store.AssertNotCalled(t, "ExistingHashes", mock.Anything, mock.Anything)
}

func TestHandleMessage_MissingSourceID(t *testing.T) {
	store := new(MockChunkStore)
	c := worker.NewIngestConsumer(newTestChunker(t), &fakeEmbedder{}, store, nil, 0)

	payload := testPayload()
	payload.SourceID = ""
	err := c.HandleMessage(message(t, payload))
	assert.NoError(t, err)
	store.AssertNotCalled(t, "ExistingHashes", mock.Anything, mock.Anything)
}

func TestHandleMessage_AllDuplicatesSkipped(t *testing.T) {
	ch := newTestChunker(t)
	payload := testPayload()

	drafts := ch.Chunk(chunker.SourceRecord{
		ID: payload.SourceID, Type: payload.Type, Title: payload.Title,
		Organization: payload.Organization, StartDate: payload.StartDate,
		Summary: payload.Summary, Achievements: payload.Achievements,
		Skills: payload.Skills, Tags: payload.Tags,
	})
	known := make(map[string]bool, len(drafts))
	for _, d := range drafts {
		known[chunker.Hash(d.Body)] = true
	}

	store := new(MockChunkStore)
	pub := new(MockPublisher)
	store.On("ExistingHashes", mock.Anything, "src-1").Return(known, nil)

	var published []byte
	pub.On("Publish", "ingest.result", mock.MatchedBy(func(b []byte) bool {
		published = b
		return true
	})).Return(nil)

	embedCalls := 0
	emb := &fakeEmbedder{fn: func(string) ([]float32, error) {
		embedCalls++
		return []float32{1}, nil
	}}

	c := worker.NewIngestConsumer(ch, emb, store, pub, 0)
	require.NoError(t, c.HandleMessage(message(t, payload)))

	summary := decodeSummary(t, published)
	assert.Equal(t, len(drafts), summary.Skipped)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, embedCalls, "duplicates must not be re-embedded")
	store.AssertNotCalled(t, "InsertChunk", mock.Anything, mock.Anything)
}

func TestHandleMessage_ValidationFailureSkipsChunkOnly(t *testing.T) {
	ch := newTestChunker(t)
	payload := testPayload()

	store := new(MockChunkStore)
	pub := new(MockPublisher)
	store.On("ExistingHashes", mock.Anything, "src-1").Return(map[string]bool{}, nil)
	store.On("InsertChunk", mock.Anything, mock.Anything).Return("chunk-1", false, nil)
	store.On("UpdateChunkStatus", mock.Anything, mock.Anything, worker.StatusEmbedded).Return(nil)

	var published []byte
	pub.On("Publish", "ingest.result", mock.MatchedBy(func(b []byte) bool {
		published = b
		return true
	})).Return(nil)

	// The skills chunk comes back with a bad vector; everything else
	// embeds fine.
	emb := &fakeEmbedder{fn: func(text string) ([]float32, error) {
		if strings.Contains(text, "Skills applied") {
			return nil, &embedding.Error{Kind: embedding.KindValidation, Err: errors.New("non-finite value")}
		}
		return []float32{0.5}, nil
	}}

	c := worker.NewIngestConsumer(ch, emb, store, pub, 0)
	err := c.HandleMessage(message(t, payload))
	require.NoError(t, err, "a validation failure on one chunk must not requeue the message")

	summary := decodeSummary(t, published)
	assert.Equal(t, 1, summary.Failed)
	assert.Greater(t, summary.Processed, 0)
}

func TestHandleMessage_NonRetryableAbortsRun(t *testing.T) {
	store := new(MockChunkStore)
	store.On("ExistingHashes", mock.Anything, "src-1").Return(map[string]bool{}, nil)

	emb := &fakeEmbedder{fn: func(string) ([]float32, error) {
		return nil, &embedding.Error{Kind: embedding.KindNonRetryable, Err: errors.New("api key rejected")}
	}}

	c := worker.NewIngestConsumer(newTestChunker(t), emb, store, nil, 0)
	err := c.HandleMessage(message(t, testPayload()))
	assert.Error(t, err, "authentication-class failures abort and requeue")
	store.AssertNotCalled(t, "InsertChunk", mock.Anything, mock.Anything)
}

func TestHandleMessage_ReplaceDropsExistingChunks(t *testing.T) {
	store := new(MockChunkStore)
	pub := new(MockPublisher)

	store.On("DeleteChunksBySource", mock.Anything, "src-1").Return(nil)
	store.On("ExistingHashes", mock.Anything, "src-1").Return(map[string]bool{}, nil)
	store.On("InsertChunk", mock.Anything, mock.Anything).Return("id", false, nil)
	store.On("UpdateChunkStatus", mock.Anything, mock.Anything, worker.StatusEmbedded).Return(nil)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	payload := testPayload()
	payload.Replace = true

	c := worker.NewIngestConsumer(newTestChunker(t), &fakeEmbedder{}, store, pub, 0)
	require.NoError(t, c.HandleMessage(message(t, payload)))
	store.AssertCalled(t, "DeleteChunksBySource", mock.Anything, "src-1")
}

func TestHandleMessage_HashLookupFailureRetries(t *testing.T) {
	store := new(MockChunkStore)
	store.On("ExistingHashes", mock.Anything, "src-1").Return(nil, errors.New("weaviate down"))

	c := worker.NewIngestConsumer(newTestChunker(t), &fakeEmbedder{}, store, nil, 0)
	err := c.HandleMessage(message(t, testPayload()))
	assert.Error(t, err)
}

func TestHandleMessage_DedupAtInsert(t *testing.T) {
	store := new(MockChunkStore)
	pub := new(MockPublisher)
	store.On("ExistingHashes", mock.Anything, "src-1").Return(map[string]bool{}, nil)
	// Concurrent writer beat us to every insert.
	store.On("InsertChunk", mock.Anything, mock.Anything).Return("", true, nil)

	var published []byte
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(b []byte) bool {
		published = b
		return true
	})).Return(nil)

	c := worker.NewIngestConsumer(newTestChunker(t), &fakeEmbedder{}, store, pub, 0)
	require.NoError(t, c.HandleMessage(message(t, testPayload())))

	summary := decodeSummary(t, published)
	assert.Zero(t, summary.Processed)
	assert.Greater(t, summary.Skipped, 0)
	store.AssertNotCalled(t, "UpdateChunkStatus", mock.Anything, mock.Anything, mock.Anything)
}
