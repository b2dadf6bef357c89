package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/pkg/logger"
)

// EmbeddingCache caches query embeddings between requests.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, text string, embedding []float32) error
}

// RetrieverConfig holds configuration for the retriever.
type RetrieverConfig struct {
	// TopKPerDocument is how many chunks to pull from each document's
	// collection.
	TopKPerDocument int
}

// DefaultRetrieverConfig returns a default configuration.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{TopKPerDocument: 3}
}

// Source is one retrieved chunk attributed to its document.
type Source struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
}

// Retriever searches each of a user's document collections and merges the
// results.
type Retriever struct {
	documents DocumentStore
	vectors   storage.VectorStore
	embedder  Embedder
	cache     EmbeddingCache
	config    RetrieverConfig
	log       *logger.Logger
}

// NewRetriever creates a new Retriever. cache may be nil.
func NewRetriever(
	documents DocumentStore,
	vectors storage.VectorStore,
	embedder Embedder,
	cache EmbeddingCache,
	cfg RetrieverConfig,
	log *logger.Logger,
) *Retriever {
	if log == nil {
		log = logger.Default()
	}
	if cfg.TopKPerDocument <= 0 {
		cfg.TopKPerDocument = 3
	}
	return &Retriever{
		documents: documents,
		vectors:   vectors,
		embedder:  embedder,
		cache:     cache,
		config:    cfg,
		log:       log.WithComponent("retriever"),
	}
}

// Retrieve embeds the query once and searches every document the user owns,
// concatenating per-document results in document order. Documents whose
// search fails are skipped. Returns ErrNoDocuments when the
// user has no documents and ErrNoRelevantContent when nothing comes back.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string) ([]Source, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}

	docs, err := r.documents.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	start := time.Now()

	embedding, err := r.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var sources []Source
	for _, doc := range docs {
		chunks, err := r.vectors.SearchCollection(ctx, doc.CollectionID(), embedding, r.config.TopKPerDocument)
		if err != nil {
			r.log.Warn("search failed for document, skipping",
				"document_id", doc.ID,
				"error", err,
			)
			continue
		}
		for _, c := range chunks {
			sources = append(sources, Source{
				DocumentID: doc.ID.String(),
				Filename:   doc.Filename,
				Content:    c.Content,
				ChunkIndex: c.ChunkIndex,
				Similarity: c.Similarity,
			})
		}
	}

	if len(sources) == 0 {
		return nil, ErrNoRelevantContent
	}

	r.log.Info("retrieval completed",
		"user_id", userID,
		"documents", len(docs),
		"sources", len(sources),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return sources, nil
}

// queryEmbedding returns the query embedding, reading through the cache
// when one is configured.
func (r *Retriever) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if r.cache != nil {
		if emb, ok, err := r.cache.GetEmbedding(ctx, query); err == nil && ok {
			r.log.Debug("query embedding cache hit")
			return emb, nil
		}
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetEmbedding(ctx, query, embedding); err != nil {
			r.log.Warn("failed to cache query embedding", "error", err)
		}
	}

	return embedding, nil
}
