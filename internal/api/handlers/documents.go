package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/academia-ai/tutor/internal/domain/knowledge"
	"github.com/academia-ai/tutor/internal/domain/tutor"
)

// uploadFormField is the multipart field carrying the files.
const uploadFormField = "file"

// maxUploadFiles bounds one multipart request.
const maxUploadFiles = 10

// multipartMemory is the part of a form held in memory before spilling to disk.
const multipartMemory = 8 << 20

// DocumentIngester adds uploads to a session's knowledge.
type DocumentIngester interface {
	SessionSource
	IngestBatch(ctx context.Context, sess *tutor.Session, files []knowledge.IngestBytesInput) []knowledge.IngestResult
}

// DocumentStore lists and removes a session's documents.
type DocumentStore interface {
	ListDocuments(ctx context.Context, sessionID string) ([]knowledge.Document, error)
	DeleteDocument(ctx context.Context, sessionID, documentID string) error
}

type DocumentHandler struct {
	ingester DocumentIngester
	store    DocumentStore
}

func NewDocumentHandler(ingester DocumentIngester, store DocumentStore) *DocumentHandler {
	return &DocumentHandler{ingester: ingester, store: store}
}

type uploadResponse struct {
	Results []knowledge.IngestResult `json:"results"`
}

type documentsResponse struct {
	Documents []knowledge.Document `json:"documents"`
}

// Upload handles POST /api/v1/tutor/documents (multipart, field "file",
// repeatable). Each file is ingested on its own; one bad file does not stop the rest.
//
// Response codes:
//   - 201 Created: at least one file was stored; per-file outcomes in results
//   - 400 Bad Request: not a multipart form, or no files
//   - 413 Request Entity Too Large: the request exceeds the upload limit
//   - 415/422: the only file failed for that reason
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.ingester)
	if sess == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadFiles*knowledge.MaxDocumentBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	files := r.MultipartForm.File[uploadFormField]
	switch {
	case len(files) == 0:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no %q parts in form", uploadFormField))
		return
	case len(files) > maxUploadFiles:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", maxUploadFiles))
		return
	}

	// Parts that cannot be read keep their slot; the rest are ingested together.
	results := make([]knowledge.IngestResult, len(files))
	var (
		batch []knowledge.IngestBytesInput
		slots []int
	)
	for i, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			results[i] = knowledge.IngestResult{Status: knowledge.StatusError, FileName: fh.Filename, Error: err.Error(), Err: err}
			continue
		}
		batch = append(batch, knowledge.IngestBytesInput{FileName: fh.Filename, Data: data})
		slots = append(slots, i)
	}
	if len(batch) > 0 {
		for j, res := range h.ingester.IngestBatch(r.Context(), sess, batch) {
			results[slots[j]] = res
		}
	}

	stored := 0
	for _, res := range results {
		if res.OK() {
			stored++
		}
	}

	status := http.StatusCreated
	if stored == 0 {
		status = statusFor(results[0].Err)
	}
	writeJSON(w, status, uploadResponse{Results: results})
}

// readPart loads one uploaded file, refusing parts over the per-document limit.
func readPart(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > knowledge.MaxDocumentBytes {
		return nil, fmt.Errorf("%w: %d bytes", knowledge.ErrDocumentTooLarge, fh.Size)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	return io.ReadAll(f)
}

// List handles GET /api/v1/tutor/documents.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.ingester)
	if sess == nil {
		return
	}
	docs, err := h.store.ListDocuments(r.Context(), sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

// Delete handles DELETE /api/v1/tutor/documents/{id}.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.ingester)
	if sess == nil {
		return
	}
	documentID := chi.URLParam(r, "id")
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}
	if err := h.store.DeleteDocument(r.Context(), sess.ID, documentID); err != nil {
		if errors.Is(err, knowledge.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
