package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aegislabs/aegis/internal/api/middleware"
	"github.com/aegislabs/aegis/internal/rag"
	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/pkg/logger"
)

// multipartMemoryLimit caps how much of an upload is buffered in memory
// before spilling to disk.
const multipartMemoryLimit = 10 << 20

// UploadDocument returns a handler for POST /documents. The body is
// multipart form data with the file under the "file" field. maxBytes bounds
// the whole request body.
func UploadDocument(svc DocumentService, maxBytes int64, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
			if isBodyTooLarge(err) {
				RespondPayloadTooLarge(w, "uploaded file is too large")
				return
			}
			RespondBadRequest(w, "Invalid multipart form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			RespondBadRequest(w, "file field is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			if isBodyTooLarge(err) {
				RespondPayloadTooLarge(w, "uploaded file is too large")
				return
			}
			log.WithError(err).Error("failed to read uploaded file")
			RespondInternalError(w, "")
			return
		}

		result, err := svc.Upload(r.Context(), middleware.UserID(r.Context()), header.Filename, data)
		if err != nil {
			respondDocumentError(w, err, log)
			return
		}
		RespondCreated(w, result)
	}
}

// ListDocuments returns a handler for GET /documents.
func ListDocuments(svc DocumentService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := svc.ListDocuments(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			log.WithError(err).Error("failed to list documents")
			RespondInternalError(w, "")
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}
		RespondJSON(w, http.StatusOK, map[string]any{
			"documents": docs,
			"count":     len(docs),
		})
	}
}

// DeleteDocument returns a handler for DELETE /documents/{id}.
func DeleteDocument(svc DocumentService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid document ID")
			return
		}

		if err := svc.DeleteDocument(r.Context(), middleware.UserID(r.Context()), id); err != nil {
			respondDocumentError(w, err, log)
			return
		}
		RespondNoContent(w)
	}
}

// isBodyTooLarge detects the MaxBytesReader limit, including when the
// multipart parser wraps it as text.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func respondDocumentError(w http.ResponseWriter, err error, log *logger.Logger) {
	switch {
	case errors.Is(err, rag.ErrFileTooLarge):
		RespondPayloadTooLarge(w, err.Error())
	case errors.Is(err, rag.ErrUnsupportedType),
		errors.Is(err, rag.ErrEmptyDocument),
		errors.Is(err, rag.ErrInvalidInput):
		RespondBadRequest(w, err.Error())
	case errors.Is(err, rag.ErrDocumentNotFound):
		RespondNotFound(w, err.Error())
	default:
		log.WithError(err).Error("document operation failed")
		RespondInternalError(w, "")
	}
}
