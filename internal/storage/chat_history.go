package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ChatHistoryStore persists chat exchanges.
type ChatHistoryStore struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewChatHistoryStore creates a new ChatHistoryStore.
func NewChatHistoryStore(db *PostgresDB, logger *slog.Logger) *ChatHistoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHistoryStore{
		db:     db,
		logger: logger.With("component", "chat_history_store"),
	}
}

// Insert stores one chat exchange.
func (s *ChatHistoryStore) Insert(ctx context.Context, msg *ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (id, user_id, message, response, chat_type, chat_metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		msg.ID, msg.UserID, msg.Message, msg.Response, msg.ChatType, metadata, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// List returns a user's most recent exchanges in chronological order.
// chatType filters by type when non-empty. limit defaults to 50.
func (s *ChatHistoryStore) List(ctx context.Context, userID, chatType string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, message, response, chat_type, chat_metadata, created_at
		FROM chat_history WHERE user_id = $1
	`
	args := []interface{}{userID}
	if chatType != "" {
		query += ` AND chat_type = $2`
		args = append(args, chatType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat history: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		err := rows.Scan(
			&msg.ID, &msg.UserID, &msg.Message, &msg.Response, &msg.ChatType, &msg.Metadata, &msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat history: %w", err)
	}

	// Fetched newest-first for the limit; callers want oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Clear deletes a user's history and returns the number removed.
// chatType limits deletion to one type when non-empty.
func (s *ChatHistoryStore) Clear(ctx context.Context, userID, chatType string) (int64, error) {
	query := `DELETE FROM chat_history WHERE user_id = $1`
	args := []interface{}{userID}
	if chatType != "" {
		query += ` AND chat_type = $2`
		args = append(args, chatType)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear chat history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
