package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/aegislabs/aegis/internal/chat"
	"github.com/aegislabs/aegis/internal/guardrails"
	"github.com/aegislabs/aegis/internal/rag"
	"github.com/aegislabs/aegis/internal/storage"
)

// GuardrailsService is the moderation surface the guardrails handlers need.
type GuardrailsService interface {
	Check(ctx context.Context, content, userID string) (*guardrails.CheckResult, error)
	CreateRule(ctx context.Context, in guardrails.CreateRuleInput) (*storage.Rule, error)
	UpdateRule(ctx context.Context, id uuid.UUID, in guardrails.UpdateRuleInput) (*storage.Rule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error
	ListRules(ctx context.Context) ([]storage.Rule, error)
	ListViolations(ctx context.Context, opts storage.ListViolationsOptions) ([]storage.Violation, error)
}

// ContentChecker is the subset of the guardrails service the chat handlers
// use for inbound and outbound moderation. May be nil to disable.
type ContentChecker interface {
	Check(ctx context.Context, content, userID string) (*guardrails.CheckResult, error)
}

// DocumentService manages a user's document lifecycle.
type DocumentService interface {
	Upload(ctx context.Context, userID, filename string, data []byte) (*rag.IngestResult, error)
	ListDocuments(ctx context.Context, userID string) ([]storage.Document, error)
	DeleteDocument(ctx context.Context, userID string, id uuid.UUID) error
}

// RAGChatService answers questions over a user's documents.
type RAGChatService interface {
	Chat(ctx context.Context, userID, question string, useInternet bool) (*rag.ChatResult, error)
}

// ToolChatService runs the tool-calling chat loop.
type ToolChatService interface {
	Chat(ctx context.Context, userID, message string) (*chat.Result, error)
}

// HistoryService reads and clears stored chat exchanges.
type HistoryService interface {
	GetHistory(ctx context.Context, userID, chatType string, limit int) ([]storage.ChatMessage, error)
	ClearHistory(ctx context.Context, userID, chatType string) (int64, error)
}

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}
