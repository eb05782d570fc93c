package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shelfwise-ai/shelfwise/internal/core"
	"github.com/shelfwise-ai/shelfwise/internal/models"
)

// Store is the slice of persistence the pipeline needs.
// core.Store implementations satisfy it.
type Store interface {
	GetBookByID(ctx context.Context, id string) (*models.Book, error)
	UpdateBookStatus(ctx context.Context, id, status, failureReason string) error
	SetBookChunkCount(ctx context.Context, id string, count int) error

	InsertBookChunks(ctx context.Context, chunks []models.BookChunk) error
	DeleteBookChunks(ctx context.Context, bookID string) error
	ListChunksMissingEmbedding(ctx context.Context, bookID string) ([]models.BookChunk, error)
	SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error
}

// BlobStore is the slice of object storage the pipeline needs.
type BlobStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// ProcessResult reports one extraction + chunking run over a book.
type ProcessResult struct {
	BookID     string `json:"book_id"`
	ChunkCount int    `json:"chunk_count"`
	Status     string `json:"status"`
}

// Pipeline coordinates extract -> chunk -> persist and, on a separate
// invocation, the batch embedding run. Each invocation is a blocking
// request/response stage sequence; there is no background worker.
type Pipeline struct {
	store     Store
	blobs     BlobStore
	extractor TextExtractor
	orch      *Orchestrator
	cfg       Config
	logger    *slog.Logger
}

func NewPipeline(store Store, blobs BlobStore, extractor TextExtractor, embedder core.Embedder, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     store,
		blobs:     blobs,
		extractor: extractor,
		orch:      NewOrchestrator(store, embedder, cfg, logger),
		cfg:       cfg,
		logger:    logger.With("component", "ingest_pipeline"),
	}
}

// ProcessBook runs download -> extract -> chunk -> persist for one book. On
// success the book stays in processing with its chunk count set; embedding is
// a separate invocation. Any stage failure marks the book failed with a
// reason naming the stage.
func (p *Pipeline) ProcessBook(ctx context.Context, bookID, userID string) (*ProcessResult, error) {
	book, err := p.ownedBook(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}

	// A failed book re-enters the pipeline through a fresh invocation.
	if book.Status != models.StatusProcessing {
		if err := p.store.UpdateBookStatus(ctx, book.ID, models.StatusProcessing, ""); err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
	}

	data, err := p.blobs.Download(ctx, book.StorageKey)
	if err != nil {
		return nil, p.fail(ctx, book.ID, ReasonDownloadFailed, err)
	}

	text, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return nil, p.fail(ctx, book.ID, ReasonParseFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, p.fail(ctx, book.ID, ReasonEmptyContent, errors.New("extractor produced no text"))
	}

	chunks := ChunkText(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap, p.cfg.MinChunkSize)
	if len(chunks) == 0 {
		return nil, p.fail(ctx, book.ID, ReasonChunkingFailed, errors.New("chunker produced no chunks"))
	}

	// Re-ingestion replaces any chunks from a previous attempt.
	if err := p.store.DeleteBookChunks(ctx, book.ID); err != nil {
		return nil, p.fail(ctx, book.ID, ReasonChunkingFailed, fmt.Errorf("clear previous chunks: %w", err))
	}

	rows := make([]models.BookChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = models.BookChunk{
			ID:       uuid.NewString(),
			BookID:   book.ID,
			UserID:   book.UserID,
			Position: c.Index,
			Label:    c.Label,
			Text:     c.Text,
		}
	}
	if err := p.store.InsertBookChunks(ctx, rows); err != nil {
		return nil, p.fail(ctx, book.ID, ReasonChunkingFailed, fmt.Errorf("insert chunks: %w", err))
	}

	if err := p.store.SetBookChunkCount(ctx, book.ID, len(rows)); err != nil {
		return nil, p.fail(ctx, book.ID, ReasonChunkingFailed, fmt.Errorf("set chunk count: %w", err))
	}

	p.logger.Info("book processed", "book_id", book.ID, "chunks", len(rows))
	return &ProcessResult{
		BookID:     book.ID,
		ChunkCount: len(rows),
		Status:     models.StatusProcessing,
	}, nil
}

// EmbedBook runs the batch embedding orchestrator over the book's chunks
// still lacking vectors and sets the terminal status.
func (p *Pipeline) EmbedBook(ctx context.Context, bookID, userID string) (*EmbedResult, error) {
	book, err := p.ownedBook(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}
	return p.orch.EmbedBook(ctx, book.ID)
}

// ownedBook resolves the book and enforces ownership before any work runs.
func (p *Pipeline) ownedBook(ctx context.Context, bookID, userID string) (*models.Book, error) {
	book, err := p.store.GetBookByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if book == nil {
		return nil, ErrBookNotFound
	}
	if book.UserID != userID {
		return nil, ErrNotOwner
	}
	return book, nil
}

// fail records the terminal failed status with its stage reason and returns
// the translated error for the caller's response.
func (p *Pipeline) fail(ctx context.Context, bookID, reason string, cause error) error {
	if err := p.store.UpdateBookStatus(ctx, bookID, models.StatusFailed, reason); err != nil {
		p.logger.Error("could not record failure", "book_id", bookID, "reason", reason, "err", err)
	}
	p.logger.Warn("book processing failed", "book_id", bookID, "reason", reason, "err", cause)
	return &StageError{Reason: reason, Err: cause}
}
