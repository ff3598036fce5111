package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/condense"
	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/lexical"
	"github.com/kalambet/docqa/internal/pipeline"
	"github.com/kalambet/docqa/internal/reranking"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

// app holds the wired components shared by the serve and ingest commands.
type app struct {
	cfg      config.Config
	store    *storage.Store
	engine   engine.Engine
	vectors  *retrieval.SQLiteStore
	intake   *ingest.Intake
	chatbot  *pipeline.Chatbot
	sessions *conversation.Registry
}

// loadConfig loads and validates configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// newApp opens storage, checks the model backend and wires the question
// answering pipeline and the ingestion flow. Progress goes to w.
func newApp(ctx context.Context, cfg config.Config, w io.Writer) (*app, error) {
	provider, err := engine.ParseProvider(cfg.Engine.Provider)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Config{
		Provider:          provider,
		BaseURL:           cfg.Engine.BaseURL,
		APIKey:            cfg.Engine.APIKey,
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
		Timeout:           cfg.Engine.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Engine.ChatModel, cfg.Engine.EmbedModel, w); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir, cfg.Storage.DBName)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{cfg: cfg, store: store, engine: eng}
	if err := a.wire(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	embedder := retrieval.NewEmbedder(a.engine, cfg.Engine.EmbedModel, cfg.Ingest.BatchSize)
	a.vectors = retrieval.NewSQLiteStore(a.store.DB())
	if _, err := a.vectors.EnsureCollection(ctx, cfg.Storage.Collection, cfg.Storage.Dimension); err != nil {
		return fmt.Errorf("preparing collection %s: %w", cfg.Storage.Collection, err)
	}

	mode, err := reranking.ParseMode(cfg.Reranking.Mode)
	if err != nil {
		return err
	}
	rerankModel := cfg.Reranking.Model
	if mode == reranking.ModeLLM && rerankModel == "" {
		rerankModel = cfg.Engine.ChatModel
	}
	reranker, err := reranking.New(mode, reranking.Options{
		TopN:    cfg.Reranking.TopN,
		Timeout: cfg.Reranking.Timeout,
		Engine:  a.engine,
		Model:   rerankModel,
		URL:     cfg.Reranking.URL,
	})
	if err != nil {
		return err
	}

	a.chatbot, err = pipeline.New(pipeline.Deps{
		Contextualizer: condense.NewContextualizer(a.engine, cfg.Engine.ChatModel),
		Dense:          retrieval.NewDenseRetriever(embedder, a.vectors, cfg.Storage.Collection),
		Lexical:        lexical.NewHolder(),
		Corpus:         a.vectors,
		Collection:     cfg.Storage.Collection,
		Reranker:       reranker,
		Synthesizer:    composer.NewSynthesizer(a.engine, cfg.Engine.ChatModel, composer.New(0)),
		Interactions:   a.store,
	}, pipeline.Config{
		TopK:          cfg.Retrieval.TopK,
		DenseWeight:   cfg.Retrieval.DenseWeight,
		LexicalWeight: cfg.Retrieval.LexicalWeight,
		TopN:          cfg.Reranking.TopN,
	})
	if err != nil {
		return err
	}
	if err := a.chatbot.RebuildLexical(ctx); err != nil {
		return err
	}

	kind, err := ingest.ParseKind(cfg.Ingest.Processor)
	if err != nil {
		return err
	}
	processor, err := ingest.NewProcessor(kind, ingest.Deps{
		Loader:       ingest.PDFLoader{Pattern: cfg.Documents.Pattern},
		Embedder:     embedder,
		Store:        a.vectors,
		Collection:   cfg.Storage.Collection,
		Dimension:    cfg.Storage.Dimension,
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		Dedup:        cfg.Ingest.Dedup,
	})
	if err != nil {
		return err
	}
	a.intake = ingest.NewIntake(processor, cfg.Documents.UploadDir, cfg.Documents.Dir,
		cfg.Documents.Pattern, a.chatbot.RebuildLexical)
	a.sessions = conversation.NewRegistry()
	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}
