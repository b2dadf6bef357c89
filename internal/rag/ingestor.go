package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegislabs/aegis/internal/chunker"
	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/pkg/logger"
)

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ObjectStore persists raw document files.
type ObjectStore interface {
	UploadBytes(ctx context.Context, data []byte, path, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// DocumentStore persists document metadata rows.
type DocumentStore interface {
	Insert(ctx context.Context, doc *storage.Document) error
	GetByIDAndUser(ctx context.Context, id uuid.UUID, userID string) (*storage.Document, error)
	ListByUser(ctx context.Context, userID string) ([]storage.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Notifier publishes document lifecycle events. Publishing is best effort.
type Notifier interface {
	PublishDocumentIndexed(ctx context.Context, doc storage.Document, chunkCount int) error
	PublishDocumentDeleted(ctx context.Context, doc storage.Document) error
}

// IngestorConfig holds ingestion limits.
type IngestorConfig struct {
	MaxFileSize int64 // bytes; 0 disables the check
}

// Ingestor runs the upload-extract-chunk-embed-index pipeline.
type Ingestor struct {
	documents DocumentStore
	vectors   storage.VectorStore
	objects   ObjectStore
	splitter  *chunker.Chunker
	embedder  Embedder
	notifier  Notifier
	config    IngestorConfig
	log       *logger.Logger
}

// NewIngestor creates a new Ingestor. notifier may be nil.
func NewIngestor(
	documents DocumentStore,
	vectors storage.VectorStore,
	objects ObjectStore,
	splitter *chunker.Chunker,
	embedder Embedder,
	notifier Notifier,
	cfg IngestorConfig,
	log *logger.Logger,
) *Ingestor {
	if log == nil {
		log = logger.Default()
	}
	return &Ingestor{
		documents: documents,
		vectors:   vectors,
		objects:   objects,
		splitter:  splitter,
		embedder:  embedder,
		notifier:  notifier,
		config:    cfg,
		log:       log.WithComponent("ingestor"),
	}
}

// IngestResult describes a completed ingestion.
type IngestResult struct {
	Document   storage.Document `json:"document"`
	ChunkCount int              `json:"chunk_count"`
}

// Ingest processes one uploaded file end to end. The document row is written
// last, so a document either exists fully indexed or not at all; on failure
// the uploaded object and any written chunks are cleaned up best effort.
func (in *Ingestor) Ingest(ctx context.Context, userID, filename string, data []byte) (*IngestResult, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: user id and filename are required", ErrInvalidInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}

	ext := FileExtension(filename)
	if !AllowedExtensions[ext] {
		return nil, fmt.Errorf("%w: .%s", ErrUnsupportedType, ext)
	}
	if in.config.MaxFileSize > 0 && int64(len(data)) > in.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(data), in.config.MaxFileSize)
	}

	doc := storage.Document{
		ID:         uuid.New(),
		UserID:     userID,
		Filename:   filename,
		FileType:   ext,
		FileSize:   int64(len(data)),
		UploadedAt: time.Now().UTC(),
	}
	doc.Filepath = storage.BuildDocumentPath(doc.ID.String(), filename)

	start := time.Now()
	in.log.Info("ingesting document",
		"document_id", doc.ID,
		"user_id", userID,
		"filename", filename,
		"size_bytes", doc.FileSize,
	)

	if _, err := in.objects.UploadBytes(ctx, data, doc.Filepath, storage.DetectContentType(filename)); err != nil {
		return nil, fmt.Errorf("failed to store document file: %w", err)
	}

	chunkCount, err := in.index(ctx, doc, data)
	if err != nil {
		in.cleanup(ctx, doc)
		return nil, err
	}

	if err := in.documents.Insert(ctx, &doc); err != nil {
		in.cleanup(ctx, doc)
		return nil, fmt.Errorf("failed to save document metadata: %w", err)
	}

	if in.notifier != nil {
		if err := in.notifier.PublishDocumentIndexed(ctx, doc, chunkCount); err != nil {
			in.log.Warn("failed to publish document indexed event", "document_id", doc.ID, "error", err)
		}
	}

	in.log.Info("document ingested",
		"document_id", doc.ID,
		"chunks", chunkCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &IngestResult{Document: doc, ChunkCount: chunkCount}, nil
}

// index extracts, chunks, embeds and writes the document's collection.
func (in *Ingestor) index(ctx context.Context, doc storage.Document, data []byte) (int, error) {
	text, err := ExtractText(doc.Filename, data)
	if err != nil {
		return 0, err
	}

	chunks := in.splitter.Split(chunker.NormalizeText(text))
	if len(chunks) == 0 {
		return 0, ErrEmptyDocument
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed document chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: %d for %d chunks", len(embeddings), len(chunks))
	}

	collectionID := doc.CollectionID()
	rows := make([]storage.DocumentChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = storage.DocumentChunk{
			ID:           uuid.New(),
			CollectionID: collectionID,
			DocumentID:   doc.ID,
			ChunkIndex:   c.Index,
			Content:      c.Content,
			TokenCount:   c.TokenCount,
			Embedding:    embeddings[i],
		}
	}

	if err := in.vectors.UpsertBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to index document chunks: %w", err)
	}

	return len(rows), nil
}

// cleanup removes partial ingestion artifacts. Failures are logged, not
// returned; no document row exists yet so nothing references them.
func (in *Ingestor) cleanup(ctx context.Context, doc storage.Document) {
	if err := in.objects.Delete(ctx, doc.Filepath); err != nil {
		in.log.Warn("failed to remove uploaded object during cleanup", "path", doc.Filepath, "error", err)
	}
	if err := in.vectors.DeleteCollection(ctx, doc.CollectionID()); err != nil {
		in.log.Warn("failed to remove chunk collection during cleanup", "collection", doc.CollectionID(), "error", err)
	}
}
