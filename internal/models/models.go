package models

import (
	"time"
)

// Book lifecycle statuses. A book is created in StatusProcessing and only
// moves forward to a terminal status; a failed book can re-enter the pipeline
// through a fresh process invocation.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Book represents one uploaded source file and its processing state.
type Book struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	Title         string    `db:"title" json:"title"`
	StorageKey    string    `db:"storage_key" json:"storage_key"` // bucket-relative object key
	Status        string    `db:"status" json:"status"`           // processing | ready | failed
	FailureReason string    `db:"failure_reason" json:"failure_reason,omitempty"`
	ChunkCount    int       `db:"chunk_count" json:"chunk_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// BookChunk is one bounded span of a book's reconstructed text.
//
// Position is dense and zero-based within a book. Embedding stays nil until
// the chunk has been embedded successfully; once set it is never overwritten.
type BookChunk struct {
	ID        string    `db:"id" json:"id"`
	BookID    string    `db:"book_id" json:"book_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Position  int       `db:"position" json:"position"`
	Label     string    `db:"label" json:"label"` // human-readable source descriptor, e.g. "chunk 3"
	Text      string    `db:"text" json:"text"`
	Embedding []float32 `db:"embedding" json:"embedding,omitempty"` // pgvector column
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
