package ingest

import "time"

// Config tunes the ingestion pipeline. The zero value is not usable; call
// DefaultConfig and override fields as needed.
//
// ChunkSize:        target characters per chunk.
// ChunkOverlap:     characters carried from the end of a chunk into the next.
// MinChunkSize:     chunks trimming below this length are dropped.
// BatchSize:        concurrent embedding calls per batch; batches run in order.
// BatchDelay:       pause between batches to cushion the provider's rate limit.
// SuccessThreshold: minimum embedded/requested ratio for a book to go ready.
type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	MinChunkSize     int
	BatchSize        int
	BatchDelay       time.Duration
	SuccessThreshold float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        1000,
		ChunkOverlap:     100,
		MinChunkSize:     80,
		BatchSize:        10,
		BatchDelay:       100 * time.Millisecond,
		SuccessThreshold: 0.8,
	}
}
