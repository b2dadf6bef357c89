package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DocumentStore persists uploaded document metadata.
type DocumentStore struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(db *PostgresDB, logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{
		db:     db,
		logger: logger.With("component", "document_store"),
	}
}

// Insert stores a document metadata row.
func (s *DocumentStore) Insert(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, filename, filepath, file_type, file_size, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		doc.ID, doc.UserID, doc.Filename, doc.Filepath, doc.FileType, doc.FileSize, doc.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}
	return nil
}

// GetByIDAndUser fetches a document owned by the given user. A missing row
// and a row owned by someone else are indistinguishable: both return
// ErrNotFound.
func (s *DocumentStore) GetByIDAndUser(ctx context.Context, id uuid.UUID, userID string) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, filename, filepath, file_type, file_size, uploaded_at
		FROM documents WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&doc.ID, &doc.UserID, &doc.Filename, &doc.Filepath, &doc.FileType, &doc.FileSize, &doc.UploadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return &doc, nil
}

// ListByUser returns all of a user's documents, newest first.
func (s *DocumentStore) ListByUser(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, filename, filepath, file_type, file_size, uploaded_at
		FROM documents WHERE user_id = $1 ORDER BY uploaded_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		err := rows.Scan(
			&doc.ID, &doc.UserID, &doc.Filename, &doc.Filepath, &doc.FileType, &doc.FileSize, &doc.UploadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// Delete removes a document metadata row. Returns ErrNotFound when missing.
func (s *DocumentStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
