package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shelfwise-ai/shelfwise/internal/core"
	"github.com/shelfwise-ai/shelfwise/internal/models"
)

// fakeStore implements Store in memory.
type fakeStore struct {
	mu          sync.Mutex
	books       map[string]*models.Book
	chunks      []models.BookChunk
	insertErr   error
	embedErrIDs map[string]bool // chunk IDs whose vector write-back fails
	statusLog   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		books:       make(map[string]*models.Book),
		embedErrIDs: make(map[string]bool),
	}
}

func (s *fakeStore) addBook(b models.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := b
	s.books[b.ID] = &cp
}

func (s *fakeStore) book(id string) models.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.books[id]
}

func (s *fakeStore) GetBookByID(_ context.Context, id string) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *fakeStore) UpdateBookStatus(_ context.Context, id, status, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return fmt.Errorf("book not found: %s", id)
	}
	b.Status = status
	b.FailureReason = failureReason
	s.statusLog = append(s.statusLog, status)
	return nil
}

func (s *fakeStore) SetBookChunkCount(_ context.Context, id string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return fmt.Errorf("book not found: %s", id)
	}
	b.ChunkCount = count
	return nil
}

func (s *fakeStore) InsertBookChunks(_ context.Context, chunks []models.BookChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *fakeStore) DeleteBookChunks(_ context.Context, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[:0]
	for _, ch := range s.chunks {
		if ch.BookID != bookID {
			kept = append(kept, ch)
		}
	}
	s.chunks = kept
	return nil
}

func (s *fakeStore) ListChunksMissingEmbedding(_ context.Context, bookID string) ([]models.BookChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BookChunk
	for _, ch := range s.chunks {
		if ch.BookID == bookID && ch.Embedding == nil {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *fakeStore) SetChunkEmbedding(_ context.Context, chunkID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.embedErrIDs[chunkID] {
		return errors.New("write-back refused")
	}
	for i := range s.chunks {
		if s.chunks[i].ID == chunkID && s.chunks[i].Embedding == nil {
			s.chunks[i].Embedding = embedding
			return nil
		}
	}
	return nil
}

// fakeEmbedder implements core.Embedder with per-text failure injection.
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	failTexts map[string]bool
}

var _ core.Embedder = (*fakeEmbedder)(nil)

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{failTexts: make(map[string]bool)}
}

func (e *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failTexts[text] {
		return nil, errors.New("embedding service error")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeBlobStore implements BlobStore from a map.
type fakeBlobStore struct {
	objects map[string][]byte
	err     error
}

func (b *fakeBlobStore) Download(_ context.Context, key string) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, key)
	}
	return data, nil
}

// fakeExtractor implements TextExtractor with a canned result.
type fakeExtractor struct {
	text string
	err  error
}

func (e *fakeExtractor) Extract(_ context.Context, _ []byte) (string, error) {
	return e.text, e.err
}
