package core

import (
	"context"
	"errors"

	"github.com/shelfwise-ai/shelfwise/internal/models"
)

// ErrObjectNotFound is returned by an ObjectStore when the requested key does
// not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// Store defines all persistence operations the ingestion pipeline needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type Store interface {
	CreateBook(ctx context.Context, book *models.Book) error
	GetBookByID(ctx context.Context, id string) (*models.Book, error)
	ListBooksByUser(ctx context.Context, userID string) ([]models.Book, error)
	UpdateBookStatus(ctx context.Context, id, status, failureReason string) error
	SetBookChunkCount(ctx context.Context, id string, count int) error
	DeleteBook(ctx context.Context, id string) error

	InsertBookChunks(ctx context.Context, chunks []models.BookChunk) error
	ListChunksMissingEmbedding(ctx context.Context, bookID string) ([]models.BookChunk, error)
	SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error
	DeleteBookChunks(ctx context.Context, bookID string) error

	SearchBookChunks(ctx context.Context, bookID string, queryVec []float32, limit int) ([]models.BookChunk, error)

	Close() error
}

// ObjectStore defines interactions with S3 or any compatible object storage.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Embedder produces a fixed-dimension embedding vector for one text.
// Implementations make exactly one external call per invocation.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}
