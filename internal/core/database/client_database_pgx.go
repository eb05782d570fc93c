package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/shelfwise-ai/shelfwise/internal/config"
	"github.com/shelfwise-ai/shelfwise/internal/core"
	"github.com/shelfwise-ai/shelfwise/internal/models"
)

// chunkInsertBatch caps how many rows go into one INSERT statement.
const chunkInsertBatch = 100

// nullableTime lets the COALESCE defaults in the insert statements fire for
// unset timestamps; a zero time.Time would otherwise be sent as year 1.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

type DatabaseClient struct {
	db *sql.DB
}

var _ core.Store = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) CreateBook(ctx context.Context, book *models.Book) error {
	if book == nil {
		return errors.New("nil book")
	}
	const q = `
		INSERT INTO books (id, user_id, title, storage_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()), COALESCE($7, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		book.ID, book.UserID, book.Title, book.StorageKey, book.Status,
		nullableTime(book.CreatedAt), nullableTime(book.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetBookByID(ctx context.Context, id string) (*models.Book, error) {
	const q = `
		SELECT id, user_id, title, storage_key, status, failure_reason, chunk_count, created_at, updated_at
		FROM books
		WHERE id = $1
	`
	var b models.Book
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.UserID, &b.Title, &b.StorageKey, &b.Status, &b.FailureReason, &b.ChunkCount, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *DatabaseClient) ListBooksByUser(ctx context.Context, userID string) ([]models.Book, error) {
	const q = `
		SELECT id, user_id, title, storage_key, status, failure_reason, chunk_count, created_at, updated_at
		FROM books
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Book
	for rows.Next() {
		var b models.Book
		if err := rows.Scan(
			&b.ID, &b.UserID, &b.Title, &b.StorageKey, &b.Status, &b.FailureReason, &b.ChunkCount, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBookStatus writes a lifecycle transition. failureReason should be empty
// unless status is "failed"; a transition away from failed clears the reason.
func (c *DatabaseClient) UpdateBookStatus(ctx context.Context, id, status, failureReason string) error {
	const q = `
		UPDATE books
		SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, failureReason)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("book not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) SetBookChunkCount(ctx context.Context, id string, count int) error {
	const q = `
		UPDATE books
		SET chunk_count = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, count)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("book not found: %s", id)
	}
	return nil
}

// DeleteBook removes the book row; chunks go with it via ON DELETE CASCADE.
func (c *DatabaseClient) DeleteBook(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	return err
}

// InsertBookChunks bulk-inserts chunks inside one transaction, at most
// chunkInsertBatch rows per statement.
func (c *DatabaseClient) InsertBookChunks(ctx context.Context, chunks []models.BookChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += chunkInsertBatch {
		end := start + chunkInsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := insertChunkBatch(ctx, tx, chunks[start:end]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func insertChunkBatch(ctx context.Context, tx *sql.Tx, batch []models.BookChunk) error {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO book_chunks (id, book_id, user_id, position, label, text, embedding, created_at) VALUES `)
	for i := range batch {
		ch := &batch[i]
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, COALESCE($%d, now()))",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)

		var vec any
		if ch.Embedding != nil {
			vec = pgvector.NewVector(ch.Embedding)
		}
		args = append(args, ch.ID, ch.BookID, ch.UserID, ch.Position, ch.Label, ch.Text, vec, nullableTime(ch.CreatedAt))
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// ListChunksMissingEmbedding returns the chunks still waiting for a vector,
// in position order. This is what makes re-running the embed stage idempotent.
func (c *DatabaseClient) ListChunksMissingEmbedding(ctx context.Context, bookID string) ([]models.BookChunk, error) {
	const q = `
		SELECT id, book_id, user_id, position, label, text, created_at
		FROM book_chunks
		WHERE book_id = $1 AND embedding IS NULL
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BookChunk
	for rows.Next() {
		var ch models.BookChunk
		if err := rows.Scan(
			&ch.ID, &ch.BookID, &ch.UserID, &ch.Position, &ch.Label, &ch.Text, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SetChunkEmbedding attaches a vector to a chunk. The embedding IS NULL guard
// keeps a stored vector immutable even under a racing re-invocation.
func (c *DatabaseClient) SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	const q = `
		UPDATE book_chunks
		SET embedding = $2
		WHERE id = $1 AND embedding IS NULL
	`
	_, err := c.db.ExecContext(ctx, q, chunkID, pgvector.NewVector(embedding))
	return err
}

func (c *DatabaseClient) DeleteBookChunks(ctx context.Context, bookID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM book_chunks WHERE book_id = $1`, bookID)
	return err
}

// SearchBookChunks finds top-k similar chunks within a book for a query embedding.
func (c *DatabaseClient) SearchBookChunks(ctx context.Context, bookID string, queryVec []float32, limit int) ([]models.BookChunk, error) {
	const q = `
		SELECT id, book_id, user_id, position, label, text, embedding, created_at
		FROM book_chunks
		WHERE book_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <-> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, bookID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BookChunk
	for rows.Next() {
		var (
			ch  models.BookChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.BookID, &ch.UserID, &ch.Position, &ch.Label, &ch.Text, &emb, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}
