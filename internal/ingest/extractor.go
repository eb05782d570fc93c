package ingest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// TextExtractor turns raw file bytes into one reading-order text blob.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// PDFExtractor reconstructs per-page reading-order text from the positioned
// text fragments a PDF content stream yields. The output is a sequence of
// "[Page N]" blocks separated by blank lines.
type PDFExtractor struct{}

var _ TextExtractor = (*PDFExtractor)(nil)

func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

// Extract parses the PDF and assembles its text. The parser is file-path
// based, so the bytes are staged in a temp file that is removed on every
// return path.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (out string, err error) {
	tmp, err := os.CreateTemp("", "shelfwise-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	// The pdf package panics on some malformed content streams; surface
	// those as parse errors like any other corrupt input.
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(tmpPath)
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	defer f.Close()

	asm := newPageAssembler()
	for p := 1; p <= reader.NumPage(); p++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(p)
		if !page.V.IsNull() {
			for _, t := range page.Content().Text {
				asm.add(t.Y, t.S)
			}
		}
		asm.endPage()
	}

	return asm.result(), nil
}

// pageAssembler accumulates one page's fragments keyed by row coordinate and
// is owned by a single extraction invocation. endPage flushes the buffer into
// a finished page block and resets it for the next page.
type pageAssembler struct {
	pageNum int
	rows    map[float64][]string
	blocks  []string
}

func newPageAssembler() *pageAssembler {
	return &pageAssembler{
		pageNum: 1,
		rows:    make(map[float64][]string),
	}
}

// add records one positioned fragment on the current page. Fragments sharing
// a row keep their emission order.
func (a *pageAssembler) add(row float64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.rows[row] = append(a.rows[row], text)
}

// endPage finalizes the buffered page, if it holds any fragments, and
// advances the page counter either way.
func (a *pageAssembler) endPage() {
	defer func() {
		a.rows = make(map[float64][]string)
		a.pageNum++
	}()

	if len(a.rows) == 0 {
		return
	}

	// Rows read top to bottom; PDF y coordinates grow upward.
	keys := make([]float64, 0, len(a.rows))
	for k := range a.rows {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(keys)))

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, strings.Join(a.rows[k], " "))
	}
	a.blocks = append(a.blocks, fmt.Sprintf("[Page %d]\n%s", a.pageNum, strings.Join(lines, "\n")))
}

// result flushes any buffered page and joins all page blocks.
func (a *pageAssembler) result() string {
	if len(a.rows) > 0 {
		a.endPage()
	}
	return strings.Join(a.blocks, "\n\n")
}
