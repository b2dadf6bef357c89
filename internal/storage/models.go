// Package storage provides database models and repository types.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Rule represents a content guardrail rule.
type Rule struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Description sql.NullString `json:"description" db:"description"`
	RuleType    string         `json:"rule_type" db:"rule_type"`
	Pattern     string         `json:"pattern" db:"pattern"`
	Action      string         `json:"action" db:"action"`
	Severity    string         `json:"severity" db:"severity"`
	Enabled     bool           `json:"enabled" db:"enabled"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Violation represents a logged guardrail violation.
type Violation struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	UserID         sql.NullString `json:"user_id" db:"user_id"`
	RuleName       string         `json:"rule_name" db:"rule_name"`
	RuleType       string         `json:"rule_type" db:"rule_type"`
	ActionTaken    string         `json:"action_taken" db:"action_taken"`
	ContentSnippet string         `json:"content_snippet" db:"content_snippet"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// Document represents an uploaded document's metadata.
type Document struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Filename   string    `json:"filename" db:"filename"`
	Filepath   string    `json:"filepath" db:"filepath"`
	FileType   string    `json:"file_type" db:"file_type"`
	FileSize   int64     `json:"file_size" db:"file_size"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// CollectionID returns the name of the document's chunk collection.
func (d Document) CollectionID() string {
	return "doc_" + d.ID.String()
}

// ChatMessage represents one stored chat exchange.
type ChatMessage struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Message   string          `json:"message" db:"message"`
	Response  string          `json:"response" db:"response"`
	ChatType  string          `json:"chat_type" db:"chat_type"`
	Metadata  json.RawMessage `json:"chat_metadata" db:"chat_metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
