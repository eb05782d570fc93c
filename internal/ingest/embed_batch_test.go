package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise-ai/shelfwise/internal/models"
)

func testOrchConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchDelay = time.Millisecond
	return cfg
}

// seedBook creates a book with n un-embedded chunks in the fake store.
func seedBook(store *fakeStore, bookID string, n int) {
	store.addBook(models.Book{ID: bookID, UserID: "owner", Status: models.StatusProcessing})
	chunks := make([]models.BookChunk, n)
	for i := range chunks {
		chunks[i] = models.BookChunk{
			ID:       fmt.Sprintf("chunk-%d", i),
			BookID:   bookID,
			UserID:   "owner",
			Position: i,
			Label:    fmt.Sprintf("chunk %d", i+1),
			Text:     fmt.Sprintf("text %d", i),
		}
	}
	_ = store.InsertBookChunks(context.Background(), chunks)
}

func TestEmbedBookAllSucceed(t *testing.T) {
	store := newFakeStore()
	emb := newFakeEmbedder()
	seedBook(store, "b1", 10)

	res, err := NewOrchestrator(store, emb, testOrchConfig(), nil).EmbedBook(context.Background(), "b1")

	require.NoError(t, err)
	assert.Equal(t, 10, res.Requested)
	assert.Equal(t, 10, res.Embedded)
	assert.Equal(t, 0, res.Failed)
	assert.InDelta(t, 1.0, res.SuccessRate, 1e-9)
	assert.Equal(t, models.StatusReady, res.Status)
	assert.Equal(t, models.StatusReady, store.book("b1").Status)
}

func TestEmbedBookThresholdInclusive(t *testing.T) {
	// 8 of 10 succeed: rate is exactly 0.8, which counts as ready.
	store := newFakeStore()
	emb := newFakeEmbedder()
	seedBook(store, "b1", 10)
	emb.failTexts["text 2"] = true
	emb.failTexts["text 7"] = true

	res, err := NewOrchestrator(store, emb, testOrchConfig(), nil).EmbedBook(context.Background(), "b1")

	require.NoError(t, err)
	assert.Equal(t, 8, res.Embedded)
	assert.Equal(t, 2, res.Failed)
	assert.InDelta(t, 0.8, res.SuccessRate, 1e-9)
	assert.Equal(t, models.StatusReady, res.Status)
	assert.Len(t, res.Errors, 2)
}

func TestEmbedBookBelowThresholdFails(t *testing.T) {
	store := newFakeStore()
	emb := newFakeEmbedder()
	seedBook(store, "b1", 10)
	for _, i := range []int{1, 4, 8} {
		emb.failTexts[fmt.Sprintf("text %d", i)] = true
	}

	res, err := NewOrchestrator(store, emb, testOrchConfig(), nil).EmbedBook(context.Background(), "b1")

	require.NoError(t, err)
	assert.Equal(t, 7, res.Embedded)
	assert.Equal(t, models.StatusFailed, res.Status)

	b := store.book("b1")
	assert.Equal(t, models.StatusFailed, b.Status)
	assert.Equal(t, ReasonEmbeddingFailures, b.FailureReason)
}

func TestEmbedBookWriteBackFailureCountsAgainstChunk(t *testing.T) {
	store := newFakeStore()
	emb := newFakeEmbedder()
	seedBook(store, "b1", 5)
	store.embedErrIDs["chunk-3"] = true

	res, err := NewOrchestrator(store, emb, testOrchConfig(), nil).EmbedBook(context.Background(), "b1")

	require.NoError(t, err)
	assert.Equal(t, 4, res.Embedded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "chunk-3")
}

func TestEmbedBookFailureDoesNotAbortSiblings(t *testing.T) {
	// A failure in an early batch must not stop later batches: every chunk
	// still gets exactly one embedding attempt.
	store := newFakeStore()
	emb := newFakeEmbedder()
	seedBook(store, "b1", 25)
	emb.failTexts["text 3"] = true

	res, err := NewOrchestrator(store, emb, testOrchConfig(), nil).EmbedBook(context.Background(), "b1")

	require.NoError(t, err)
	assert.Equal(t, 25, emb.callCount())
	assert.Equal(t, 24, res.Embedded)
	assert.Equal(t, 1, res.Failed)
}

func TestEmbedBookIdempotentReinvocation(t *testing.T) {
	store := newFakeStore()
	emb := newFakeEmbedder()
	seedBook(store, "b1", 6)

	orch := NewOrchestrator(store, emb, testOrchConfig(), nil)

	_, err := orch.EmbedBook(context.Background(), "b1")
	require.NoError(t, err)
	first := emb.callCount()

	res, err := orch.EmbedBook(context.Background(), "b1")
	require.NoError(t, err)

	assert.Equal(t, first, emb.callCount(), "second run must issue zero embedding calls")
	assert.Equal(t, 0, res.Requested)
	assert.Equal(t, models.StatusReady, store.book("b1").Status)
}

func TestEmbedBookRetriesOnlyOutstandingSubset(t *testing.T) {
	store := newFakeStore()
	emb := newFakeEmbedder()
	seedBook(store, "b1", 10)
	for _, i := range []int{0, 1, 2, 3} {
		emb.failTexts[fmt.Sprintf("text %d", i)] = true
	}

	orch := NewOrchestrator(store, emb, testOrchConfig(), nil)

	res, err := orch.EmbedBook(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, res.Status)

	// The failed subset recovers on re-invocation.
	emb.failTexts = map[string]bool{}
	res, err = orch.EmbedBook(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Requested)
	assert.Equal(t, 4, res.Embedded)
	assert.Equal(t, models.StatusReady, store.book("b1").Status)
}

func TestEmbedBookZeroChunksIsTriviallyReady(t *testing.T) {
	store := newFakeStore()
	emb := newFakeEmbedder()
	store.addBook(models.Book{ID: "b1", UserID: "owner", Status: models.StatusProcessing})

	res, err := NewOrchestrator(store, emb, testOrchConfig(), nil).EmbedBook(context.Background(), "b1")

	require.NoError(t, err)
	assert.Equal(t, 0, res.Requested)
	assert.Equal(t, 0, res.Embedded)
	assert.Equal(t, models.StatusReady, res.Status)
	assert.Equal(t, 0, emb.callCount())
}
