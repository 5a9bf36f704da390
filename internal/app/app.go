package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"vitae/features/ask"
	"vitae/features/source"
	"vitae/internal/adapter/gemini"
	"vitae/internal/answer"
	"vitae/internal/chunker"
	"vitae/internal/config"
	"vitae/internal/embedding"
	"vitae/internal/evidence"
	"vitae/internal/middleware"
	"vitae/internal/retrieval"
	"vitae/internal/scoring"
	"vitae/internal/tokens"
	"vitae/internal/worker"
)

type App struct {
	Handler http.Handler

	Pipeline       *embedding.Pipeline
	SourceService  *source.Service
	IngestConsumer *worker.IngestConsumer
	ResultConsumer *worker.ResultConsumer

	cfg       *config.Config
	consumers []*nsq.Consumer
	closers   []func() error
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies) (*App, error) {
	// Embedding pipeline over the Gemini provider. All embedding in the
	// process, documents and queries alike, funnels through this one
	// pipeline so the provider rate limit is respected globally.
	provider, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	pipeline, err := embedding.NewPipeline(provider, embedding.Config{
		BatchSize:         cfg.EmbedBatchSize,
		RequestsPerMinute: cfg.EmbedRequestsPerMin,
		MaxAttempts:       cfg.EmbedMaxAttempts,
		RequestTimeout:    time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
		Dimensions:        cfg.EmbedDim,
		FailureLimit:      cfg.BreakerFailureLimit,
		Cooldown:          time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding pipeline: %w", err)
	}

	completer, err := gemini.NewCompleter(ctx, cfg.GeminiAPIKey, cfg.CompletionModel)
	if err != nil {
		return nil, fmt.Errorf("gemini completer: %w", err)
	}

	// Feature: Scoring profile
	scoringRepo := scoring.NewPostgresRepo(deps.DB)
	scoringService := scoring.NewService(scoringRepo)
	scoringHandler := scoring.NewHandler(scoringService)

	// Feature: Source
	sourceRepo := source.NewPostgresRepository(deps.DB)
	sourceService := source.NewService(sourceRepo, deps.NSQProducer, deps.VectorStore)
	sourceHandler := source.NewHandler(sourceService)

	// Feature: Ask & Search
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	engine := retrieval.NewEngine(deps.VectorStore, queryLogger)
	allocator := evidence.NewAllocator(evidence.Config{
		TotalBudget:     cfg.ContextCharBudget,
		MinBudget:       cfg.ContextCharFloor,
		MinContextChars: cfg.MinContextChars,
	})
	answerer := answer.NewAnswerer(pipeline, engine, scoringService, allocator, completer, answer.Config{})
	askHandler := ask.NewHandler(answerer, pipeline, engine, scoringService)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /sources", enableCORS(sourceHandler.Create))
	mux.Handle("GET /sources", enableCORS(sourceHandler.List))
	mux.Handle("GET /sources/{id}", enableCORS(sourceHandler.Get))
	mux.Handle("PUT /sources/{id}", enableCORS(sourceHandler.Update))
	mux.Handle("DELETE /sources/{id}", enableCORS(sourceHandler.Delete))
	mux.Handle("POST /sources/{id}/resync", enableCORS(sourceHandler.ReSync))

	mux.Handle("POST /ask", enableCORS(askHandler.Ask))
	mux.Handle("POST /search", enableCORS(askHandler.Search))

	mux.Handle("GET /scoring/profile", enableCORS(scoringHandler.GetProfile))
	mux.Handle("PUT /scoring/profile", enableCORS(scoringHandler.UpdateProfile))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Worker consumers
	counter := tokens.NewCounter()
	budget, err := tokens.NewBudget(cfg.TokenMin, cfg.TokenTarget, cfg.TokenHardCap)
	if err != nil {
		return nil, err
	}
	splitter := tokens.NewSplitter(counter, budget)
	chk := chunker.New(counter, splitter, chunker.Options{})

	ingestConsumer := worker.NewIngestConsumer(chk, pipeline, deps.VectorStore, deps.NSQProducer,
		time.Duration(cfg.EmbedTimeoutSeconds)*time.Second)
	resultConsumer := worker.NewResultConsumer(sourceRepo)

	return &App{
		Handler:        mux,
		Pipeline:       pipeline,
		SourceService:  sourceService,
		IngestConsumer: ingestConsumer,
		ResultConsumer: resultConsumer,
		cfg:            cfg,
		closers:        []func() error{provider.Close, completer.Close},
	}, nil
}

// StartConsumers subscribes the ingest and result consumers via
// nsqlookupd. Call after New and before Run.
func (a *App) StartConsumers() error {
	subscribe := func(topic, channel string, handler nsq.Handler) error {
		consumer, err := nsq.NewConsumer(topic, channel, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq consumer %s: %w", topic, err)
		}
		consumer.AddHandler(handler)
		if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
			return fmt.Errorf("nsq lookupd connect %s: %w", topic, err)
		}
		a.consumers = append(a.consumers, consumer)
		slog.Info("NSQ consumer connected", "topic", topic, "channel", channel)
		return nil
	}

	if err := subscribe(config.TopicIngest, "ingest-worker", a.IngestConsumer); err != nil {
		return err
	}
	return subscribe(config.TopicIngestResult, "backend", a.ResultConsumer)
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	err := srv.ListenAndServe()
	a.Close()
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close stops the NSQ consumers and drains the embedding pipeline.
func (a *App) Close() {
	for _, c := range a.consumers {
		c.Stop()
	}
	for _, c := range a.consumers {
		<-c.StopChan
	}
	a.Pipeline.Close()
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			slog.Warn("failed to close gemini client", "error", err)
		}
	}
}
