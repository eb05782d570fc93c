package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/shelfwise-ai/shelfwise/internal/api/handlers"
	"github.com/shelfwise-ai/shelfwise/internal/config"
	"github.com/shelfwise-ai/shelfwise/internal/core"
	db "github.com/shelfwise-ai/shelfwise/internal/core/database"
	"github.com/shelfwise-ai/shelfwise/internal/core/llm"
	"github.com/shelfwise-ai/shelfwise/internal/core/objectstore"
	"github.com/shelfwise-ai/shelfwise/internal/ingest"
)

// App owns every long-lived dependency and the HTTP server built on top
// of them.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    core.Store
	embedder *llm.GeminiEmbedder
	server   *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	store, err := db.NewDatabaseClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	blobs, err := objectstore.NewS3Store(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	embedder, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	ingestCfg := ingest.Config{
		ChunkSize:        cfg.ChunkSize,
		ChunkOverlap:     cfg.ChunkOverlap,
		MinChunkSize:     cfg.MinChunkSize,
		BatchSize:        cfg.EmbedBatchSize,
		BatchDelay:       cfg.EmbedBatchDelay,
		SuccessThreshold: cfg.SuccessThreshold,
	}
	pipeline := ingest.NewPipeline(store, blobs, ingest.NewPDFExtractor(), embedder, ingestCfg, logger)

	books := handlers.NewBookHandler(store, blobs, pipeline, embedder, cfg, logger)
	server := NewServer(cfg.Port, cfg.JWTSecret, books, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		embedder: embedder,
		server:   server,
	}, nil
}

func (a *App) Run() error {
	return a.server.Start()
}

// Shutdown drains in-flight requests and releases every resource.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if cerr := a.embedder.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
