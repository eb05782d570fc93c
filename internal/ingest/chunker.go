package ingest

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk is one emitted text segment.
//
// Index is dense and zero-based over emitted chunks; Label is the 1-based
// human-readable descriptor recorded with the chunk.
type Chunk struct {
	Index int
	Label string
	Text  string
}

// ChunkText splits text into overlapping windows of roughly size characters.
//
// Whitespace runs are collapsed to single spaces before any offsets are
// computed. Window ends prefer a sentence boundary in the last 20% of the
// window, then the last space, then a raw cut. Pieces trimming below minSize
// are dropped, a documented tolerance: a sub-minimum trailing remainder of an
// oversized input is lost rather than merged into the previous chunk.
func ChunkText(raw string, size, overlap, minSize int) []Chunk {
	text := normalizeWhitespace(raw)
	if text == "" {
		return nil
	}

	if len(text) <= size {
		return []Chunk{{Index: 0, Label: "chunk 1", Text: text}}
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = snapWindowEnd(text, start, end, size)
		}

		piece := strings.TrimSpace(text[start:end])
		if len(piece) >= minSize {
			chunks = append(chunks, Chunk{
				Index: len(chunks),
				Label: fmt.Sprintf("chunk %d", len(chunks)+1),
				Text:  piece,
			})
		}

		// Overlap the next window with the end of this one; if that would
		// not move the start forward, jump to end so progress stays strict.
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// snapWindowEnd picks the cut point for a window proposed as [start, end).
// It prefers the last sentence boundary inside the final 20% of the window,
// falls back to the last space, and keeps the raw end as a last resort.
func snapWindowEnd(text string, start, end, size int) int {
	searchStart := start + (size*4)/5
	last := -1
	for i := searchStart; i < end; i++ {
		if isSentenceBoundary(text, i) {
			last = i
		}
	}
	if last >= 0 {
		return last + 1
	}

	if idx := strings.LastIndexByte(text[start:end], ' '); idx > 0 {
		return start + idx
	}
	return end
}

// isSentenceBoundary reports whether text[i] is terminal punctuation followed
// by whitespace and an uppercase letter.
func isSentenceBoundary(text string, i int) bool {
	switch text[i] {
	case '.', '!', '?':
	default:
		return false
	}
	j := i + 1
	if j >= len(text) || text[j] != ' ' {
		return false
	}
	for j < len(text) && text[j] == ' ' {
		j++
	}
	if j >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[j:])
	return unicode.IsUpper(r)
}

// normalizeWhitespace collapses all whitespace runs to single spaces and trims.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
