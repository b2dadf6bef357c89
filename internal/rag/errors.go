// Package rag provides the document ingestion and retrieval pipeline.
package rag

import "errors"

var (
	// ErrUnsupportedType is returned when a file extension is not allowed.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrEmptyDocument is returned when no text could be extracted.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrDocumentNotFound is returned when a document does not exist or
	// belongs to another user.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNoDocuments is returned when a user asks a question before
	// uploading any documents.
	ErrNoDocuments = errors.New("no documents uploaded")

	// ErrNoRelevantContent is returned when retrieval finds nothing usable.
	ErrNoRelevantContent = errors.New("no relevant content found in documents")

	// ErrInvalidInput is returned for blank or malformed input.
	ErrInvalidInput = errors.New("invalid input")
)
