// Package storage provides vector store implementation with pgvector.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentChunk represents a document chunk for vector storage. Chunks are
// grouped into per-document collections; a collection is never shared across
// documents.
type DocumentChunk struct {
	ID           uuid.UUID `json:"id"`
	CollectionID string    `json:"collection_id"`
	DocumentID   uuid.UUID `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	TokenCount   int       `json:"token_count"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RetrievedChunk represents a chunk with similarity score.
type RetrievedChunk struct {
	DocumentChunk
	Similarity float64 `json:"similarity"`
}

// VectorStore defines the interface for collection-scoped vector operations.
type VectorStore interface {
	UpsertBatch(ctx context.Context, chunks []DocumentChunk) error
	SearchCollection(ctx context.Context, collectionID string, embedding []float32, topK int) ([]RetrievedChunk, error)
	DeleteCollection(ctx context.Context, collectionID string) error
	CountCollection(ctx context.Context, collectionID string) (int, error)
	Health(ctx context.Context) error
}

// PgVectorStore implements VectorStore using PostgreSQL with pgvector.
type PgVectorStore struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewPgVectorStore creates a new PgVectorStore instance.
func NewPgVectorStore(db *PostgresDB, logger *slog.Logger) *PgVectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgVectorStore{
		db:     db,
		logger: logger.With("component", "vector_store"),
	}
}

// Health checks database connectivity.
func (vs *PgVectorStore) Health(ctx context.Context) error {
	return vs.db.PingContext(ctx)
}

// UpsertBatch inserts or updates multiple chunks in one transaction.
func (vs *PgVectorStore) UpsertBatch(ctx context.Context, chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		vs.logger.Info("batch upsert completed",
			"count", len(chunks),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return vs.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks (
				id, collection_id, document_id, chunk_index, content, token_count, embedding
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7::vector
			)
			ON CONFLICT (id) DO UPDATE SET
				collection_id = EXCLUDED.collection_id,
				document_id = EXCLUDED.document_id,
				chunk_index = EXCLUDED.chunk_index,
				content = EXCLUDED.content,
				token_count = EXCLUDED.token_count,
				embedding = EXCLUDED.embedding
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, chunk := range chunks {
			if chunk.ID == uuid.Nil {
				chunk.ID = uuid.New()
			}

			_, err := stmt.ExecContext(ctx,
				chunk.ID,
				chunk.CollectionID,
				chunk.DocumentID,
				chunk.ChunkIndex,
				chunk.Content,
				nullInt(chunk.TokenCount),
				embeddingToString(chunk.Embedding),
			)
			if err != nil {
				vs.logger.Error("failed to upsert chunk in batch",
					"index", i,
					"chunk_id", chunk.ID,
					"error", err,
				)
				return fmt.Errorf("failed to upsert chunk %d: %w", i, err)
			}
		}

		return nil
	})
}

// SearchCollection performs vector similarity search within a single
// collection and returns the topK nearest chunks, most similar first.
func (vs *PgVectorStore) SearchCollection(ctx context.Context, collectionID string, embedding []float32, topK int) ([]RetrievedChunk, error) {
	if topK <= 0 {
		topK = 3
	}

	start := time.Now()
	defer func() {
		vs.logger.Debug("collection search completed",
			"collection_id", collectionID,
			"top_k", topK,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	embeddingStr := embeddingToString(embedding)

	query := `
		SELECT
			id, collection_id, document_id, chunk_index, content, token_count, created_at,
			1 - (embedding <=> $1::vector) AS similarity
		FROM document_chunks
		WHERE collection_id = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $3
	`

	rows, err := vs.db.QueryContext(ctx, query, embeddingStr, collectionID, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search collection %s: %w", collectionID, err)
	}
	defer rows.Close()

	var results []RetrievedChunk
	for rows.Next() {
		var chunk RetrievedChunk
		var tokenCount sql.NullInt32

		err := rows.Scan(
			&chunk.ID,
			&chunk.CollectionID,
			&chunk.DocumentID,
			&chunk.ChunkIndex,
			&chunk.Content,
			&tokenCount,
			&chunk.CreatedAt,
			&chunk.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		chunk.TokenCount = int(tokenCount.Int32)
		results = append(results, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// DeleteCollection removes every chunk belonging to a collection.
func (vs *PgVectorStore) DeleteCollection(ctx context.Context, collectionID string) error {
	result, err := vs.db.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE collection_id = $1`,
		collectionID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", collectionID, err)
	}

	if n, err := result.RowsAffected(); err == nil {
		vs.logger.Info("collection deleted",
			"collection_id", collectionID,
			"chunks_removed", n,
		)
	}
	return nil
}

// CountCollection returns the number of chunks stored in a collection.
func (vs *PgVectorStore) CountCollection(ctx context.Context, collectionID string) (int, error) {
	var count int
	err := vs.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE collection_id = $1`,
		collectionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", collectionID, err)
	}
	return count, nil
}

// Helper functions

// embeddingToString converts a float32 slice to pgvector string format.
func embeddingToString(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}

	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// nullInt returns sql.NullInt32 for zero values.
func nullInt(i int) sql.NullInt32 {
	if i == 0 {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(i), Valid: true}
}
