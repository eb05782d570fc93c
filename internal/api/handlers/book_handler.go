package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shelfwise-ai/shelfwise/internal/api/middlewares"
	"github.com/shelfwise-ai/shelfwise/internal/config"
	"github.com/shelfwise-ai/shelfwise/internal/core"
	"github.com/shelfwise-ai/shelfwise/internal/ingest"
	"github.com/shelfwise-ai/shelfwise/internal/models"
)

type BookHandler struct {
	store    core.Store
	blobs    core.ObjectStore
	pipeline *ingest.Pipeline
	embedder core.Embedder
	cfg      *config.Config
	logger   *slog.Logger
}

func NewBookHandler(store core.Store, blobs core.ObjectStore, pipeline *ingest.Pipeline, embedder core.Embedder, cfg *config.Config, logger *slog.Logger) *BookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookHandler{
		store:    store,
		blobs:    blobs,
		pipeline: pipeline,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "book_handler"),
	}
}

// Upload accepts a PDF, stores the blob and creates the book in processing
// status. Input errors (wrong type, oversized file) are rejected here, before
// any pipeline stage runs.
func (h *BookHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middlewares.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file exceeds upload limit or form is invalid")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !isPDFUpload(header) {
		writeError(w, http.StatusBadRequest, "only PDF files are supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}

	bookID := uuid.NewString()
	cleanName := filepath.Base(header.Filename)
	key := fmt.Sprintf("%s/%s/%s", userID, bookID, cleanName)

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if err := h.blobs.Upload(uploadCtx, key, data, "application/pdf"); err != nil {
		h.logger.Error("blob upload failed", "book_id", bookID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	book := &models.Book{
		ID:         bookID,
		UserID:     userID,
		Title:      header.Filename,
		StorageKey: key,
		Status:     models.StatusProcessing,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := h.store.CreateBook(uploadCtx, book); err != nil {
		h.logger.Error("book insert failed", "book_id", bookID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not store book metadata")
		return
	}

	writeJSON(w, http.StatusCreated, book)
}

// Process runs extraction + chunking + persistence for one book.
func (h *BookHandler) Process(w http.ResponseWriter, r *http.Request) {
	userID, bookID, ok := h.ownedRequest(w, r)
	if !ok {
		return
	}

	res, err := h.pipeline.ProcessBook(r.Context(), bookID, userID)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*ingest.ProcessResult
	}{Success: true, ProcessResult: res})
}

// Embed runs the batch embedding orchestrator over the book's outstanding
// chunks. Partial success still reports success: true as long as at least one
// chunk progressed; the counts expose the discrepancy.
func (h *BookHandler) Embed(w http.ResponseWriter, r *http.Request) {
	userID, bookID, ok := h.ownedRequest(w, r)
	if !ok {
		return
	}

	res, err := h.pipeline.EmbedBook(r.Context(), bookID, userID)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*ingest.EmbedResult
	}{Success: res.Embedded > 0 || res.Requested == 0, EmbedResult: res})
}

func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middlewares.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	books, err := h.store.ListBooksByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list books")
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// Delete removes the book row (chunks cascade) and its stored blob.
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, bookID, ok := h.ownedRequest(w, r)
	if !ok {
		return
	}

	book, err := h.store.GetBookByID(r.Context(), bookID)
	if err != nil || book == nil {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if book.UserID != userID {
		writeError(w, http.StatusForbidden, "book does not belong to the requesting user")
		return
	}

	if err := h.blobs.Delete(r.Context(), book.StorageKey); err != nil {
		h.logger.Warn("blob delete failed", "book_id", bookID, "err", err)
	}
	if err := h.store.DeleteBook(r.Context(), bookID); err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete book")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search embeds the query and returns the most similar chunks of one book.
func (h *BookHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, bookID, ok := h.ownedRequest(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}

	book, err := h.store.GetBookByID(r.Context(), bookID)
	if err != nil || book == nil {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if book.UserID != userID {
		writeError(w, http.StatusForbidden, "book does not belong to the requesting user")
		return
	}

	vec, err := h.embedder.EmbedText(r.Context(), query)
	if err != nil {
		h.logger.Error("query embedding failed", "book_id", bookID, "err", err)
		writeError(w, http.StatusBadGateway, "could not embed query")
		return
	}

	chunks, err := h.store.SearchBookChunks(r.Context(), bookID, vec, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

// ownedRequest pulls the caller id and a valid book id out of the request.
func (h *BookHandler) ownedRequest(w http.ResponseWriter, r *http.Request) (userID, bookID string, ok bool) {
	userID, ok = middlewares.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return "", "", false
	}
	bookID = chi.URLParam(r, "bookID")
	if _, err := uuid.Parse(bookID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return "", "", false
	}
	return userID, bookID, true
}

func (h *BookHandler) writePipelineError(w http.ResponseWriter, err error) {
	var stageErr *ingest.StageError
	switch {
	case errors.Is(err, ingest.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, ingest.ErrNotOwner):
		writeError(w, http.StatusForbidden, "book does not belong to the requesting user")
	case errors.As(err, &stageErr):
		writeError(w, http.StatusUnprocessableEntity, stageErr.Reason)
	default:
		h.logger.Error("pipeline error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isPDFUpload(header *multipart.FileHeader) bool {
	if strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		return true
	}
	return header.Header.Get("Content-Type") == "application/pdf"
}
