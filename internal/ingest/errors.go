package ingest

import (
	"errors"
	"fmt"
)

// Failure reasons stored on a book when it transitions to failed. Each stage
// of the pipeline has its own reason so callers can tell what broke.
const (
	ReasonDownloadFailed    = "could not download source file from storage"
	ReasonParseFailed       = "could not parse PDF file"
	ReasonEmptyContent      = "no extractable text; file may be scanned or image-only"
	ReasonChunkingFailed    = "could not chunk or persist document text"
	ReasonEmbeddingFailures = "too many chunks failed to embed"
)

var (
	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrNotOwner is returned when the book exists but belongs to another user.
	ErrNotOwner = errors.New("book does not belong to the requesting user")
)

// StageError wraps a stage failure with the reason written to the book row.
// No raw error crosses the HTTP boundary untranslated; handlers surface Reason.
type StageError struct {
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
