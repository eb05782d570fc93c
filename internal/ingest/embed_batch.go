package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shelfwise-ai/shelfwise/internal/core"
	"github.com/shelfwise-ai/shelfwise/internal/models"
)

// EmbedResult reports one embedding run over a book.
type EmbedResult struct {
	Requested   int      `json:"requested"`
	Embedded    int      `json:"embedded"`
	Failed      int      `json:"failed"`
	SuccessRate float64  `json:"success_rate"`
	Status      string   `json:"status"`
	Errors      []string `json:"errors,omitempty"`
}

// Orchestrator embeds a book's outstanding chunks in fixed-size batches.
//
// Within a batch every call runs concurrently and writes its outcome into its
// own slot; counting and the threshold decision happen single-threaded after
// the batch barrier. Batches are strictly sequential, which bounds concurrent
// calls against the embedding service to the batch size.
type Orchestrator struct {
	store    Store
	embedder core.Embedder
	cfg      Config
	logger   *slog.Logger
}

func NewOrchestrator(store Store, embedder core.Embedder, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "embed_orchestrator"),
	}
}

// chunkOutcome is one slot of a batch's result collection.
type chunkOutcome struct {
	chunkID string
	err     error
}

// EmbedBook embeds every chunk of the book that still lacks a vector and
// decides the book's terminal status from the aggregate success rate.
//
// Only chunks without a vector are considered, so re-invoking after a partial
// failure retries just the outstanding subset.
func (o *Orchestrator) EmbedBook(ctx context.Context, bookID string) (*EmbedResult, error) {
	chunks, err := o.store.ListChunksMissingEmbedding(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	res := &EmbedResult{Requested: len(chunks)}

	// Nothing outstanding means the book is trivially complete.
	if len(chunks) == 0 {
		if err := o.store.UpdateBookStatus(ctx, bookID, models.StatusReady, ""); err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
		res.SuccessRate = 1
		res.Status = models.StatusReady
		return res, nil
	}

	o.logger.Info("embedding book chunks", "book_id", bookID, "chunks", len(chunks))

	for start := 0; start < len(chunks); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		outcomes := make([]chunkOutcome, len(batch))
		var g errgroup.Group
		for i := range batch {
			ch := batch[i]
			slot := &outcomes[i]
			g.Go(func() error {
				*slot = o.embedOne(ctx, ch)
				return nil
			})
		}
		// Goroutines report only through their slot, never through the group.
		_ = g.Wait()

		for _, oc := range outcomes {
			if oc.err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("chunk %s: %v", oc.chunkID, oc.err))
				o.logger.Warn("chunk embedding failed", "book_id", bookID, "chunk_id", oc.chunkID, "err", oc.err)
			} else {
				res.Embedded++
			}
		}

		if end < len(chunks) {
			select {
			case <-time.After(o.cfg.BatchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	res.SuccessRate = float64(res.Embedded) / float64(res.Requested)

	status, reason := models.StatusReady, ""
	if res.SuccessRate < o.cfg.SuccessThreshold {
		status, reason = models.StatusFailed, ReasonEmbeddingFailures
	}
	if err := o.store.UpdateBookStatus(ctx, bookID, status, reason); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	res.Status = status

	o.logger.Info("embedding run finished",
		"book_id", bookID, "embedded", res.Embedded, "failed", res.Failed, "status", status)
	return res, nil
}

// embedOne embeds a single chunk and writes the vector back. Either step
// failing counts as that chunk's failure; siblings are unaffected.
func (o *Orchestrator) embedOne(ctx context.Context, ch models.BookChunk) chunkOutcome {
	vec, err := o.embedder.EmbedText(ctx, ch.Text)
	if err != nil {
		return chunkOutcome{chunkID: ch.ID, err: fmt.Errorf("embed: %w", err)}
	}
	if err := o.store.SetChunkEmbedding(ctx, ch.ID, vec); err != nil {
		return chunkOutcome{chunkID: ch.ID, err: fmt.Errorf("store vector: %w", err)}
	}
	return chunkOutcome{chunkID: ch.ID}
}
