package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	wstore "vitae/internal/adapter/weaviate"
	"vitae/internal/app"
	"vitae/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		GeminiAPIKey:        "test-key",
		EmbedModel:          "gemini-embedding-001",
		CompletionModel:     "gemini-2.0-flash",
		EmbedDim:            1536,
		EmbedBatchSize:      4,
		EmbedRequestsPerMin: 60,
		EmbedMaxAttempts:    2,
		EmbedTimeoutSeconds: 5,
		BreakerFailureLimit: 3,
		TokenMin:            120,
		TokenTarget:         350,
		TokenHardCap:        500,
		ContextCharBudget:   6000,
		ContextCharFloor:    1200,
		MinContextChars:     200,
		ServerPort:          8081,
		QueryLogPath:        filepath.Join(t.TempDir(), "query.log"),
		NSQDHost:            "localhost:4150",
		NSQLookupd:          "localhost:4161",
	}
}

func newTestApp(t *testing.T) (*app.App, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	wClient, err := weaviate.NewClient(weaviate.Config{Host: "localhost:8080", Scheme: "http"})
	require.NoError(t, err)

	producer, err := nsq.NewProducer("localhost:4150", nsq.NewConfig())
	require.NoError(t, err)

	a, err := app.New(context.Background(), testConfig(t), &app.Dependencies{
		DB:          db,
		Weaviate:    wClient,
		VectorStore: wstore.NewStore(wClient),
		NSQProducer: producer,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, mock
}

func TestApp_Health(t *testing.T) {
	a, _ := newTestApp(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestApp_ListSourcesRouted(t *testing.T) {
	a, mock := newTestApp(t)

	mock.ExpectQuery(`SELECT .+ FROM sources`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "type", "title", "organization", "location", "start_date", "end_date",
			"summary", "achievements", "skills", "tags", "content_hash", "status",
		}).AddRow(
			"src-1", "job", "Staff Engineer", "Acme", "", nil, nil, "",
			pq.Array([]string{}), pq.Array([]string{}), pq.Array([]string{}), "h1", "completed",
		))

	req := httptest.NewRequest("GET", "/sources", nil)
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Staff Engineer")
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestApp_RequiresGeminiKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.GeminiAPIKey = ""

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	wClient, err := weaviate.NewClient(weaviate.Config{Host: "localhost:8080", Scheme: "http"})
	require.NoError(t, err)

	_, err = app.New(context.Background(), cfg, &app.Dependencies{
		DB:          db,
		Weaviate:    wClient,
		VectorStore: wstore.NewStore(wClient),
	})
	assert.Error(t, err)
}

func TestApp_UnknownRouteIs404(t *testing.T) {
	a, _ := newTestApp(t)

	req := httptest.NewRequest("GET", "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
