// Package chat runs the tool-calling chat loop and manages chat history.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aegislabs/aegis/internal/llm"
	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/internal/tools"
	"github.com/aegislabs/aegis/pkg/logger"
)

// HistoryStore persists and reads chat exchanges.
type HistoryStore interface {
	Insert(ctx context.Context, msg *storage.ChatMessage) error
	List(ctx context.Context, userID, chatType string, limit int) ([]storage.ChatMessage, error)
	Clear(ctx context.Context, userID, chatType string) (int64, error)
}

const toolSystemPrompt = `You are a helpful assistant with access to tools. Use the web_search tool for current information, the http_get tool to read specific pages, and the calculator tool for arithmetic. Answer directly when no tool is needed.`

// Config holds configuration for the chat service.
type Config struct {
	MaxToolCalls int
	MaxTokens    int
	Temperature  float64
	// HistoryContext is how many recent exchanges are replayed as
	// conversation context on each turn.
	HistoryContext int
}

// DefaultConfig returns default chat configuration.
func DefaultConfig() Config {
	return Config{
		MaxToolCalls:   5,
		MaxTokens:      1024,
		Temperature:    0.3,
		HistoryContext: 5,
	}
}

// Service runs tool-assisted conversations.
type Service struct {
	provider llm.Provider
	registry *tools.Registry
	history  HistoryStore
	config   Config
	log      *logger.Logger
}

// NewService creates a new chat service. history may be nil.
func NewService(provider llm.Provider, registry *tools.Registry, history HistoryStore, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Service{
		provider: provider,
		registry: registry,
		history:  history,
		config:   cfg,
		log:      log.WithComponent("chat_service"),
	}
}

// Result is the outcome of one chat turn.
type Result struct {
	Answer       string   `json:"answer"`
	ToolsUsed    []string `json:"tools_used"`
	NumToolCalls int      `json:"num_tool_calls"`
}

// Chat runs the tool loop for one user message: call the model, execute any
// tool calls it makes, feed results back, and repeat until the model answers
// in text or the iteration cap is hit.
func (s *Service) Chat(ctx context.Context, userID, message string) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message is required")
	}

	start := time.Now()

	req := llm.ChatRequest{
		Messages:     append(s.historyContext(ctx, userID), llm.NewTextMessage(llm.RoleUser, message)),
		SystemPrompt: toolSystemPrompt,
		MaxTokens:    s.config.MaxTokens,
		Temperature:  s.config.Temperature,
	}
	for _, def := range s.registry.Definitions() {
		req.Tools = append(req.Tools, llm.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}

	response, toolsUsed, numCalls, err := s.runToolLoop(ctx, req)
	if err != nil {
		return nil, err
	}

	answer := response.GetText()
	s.saveHistory(ctx, userID, message, answer, toolsUsed, numCalls)

	s.log.Info("tool chat completed",
		"user_id", userID,
		"tool_calls", numCalls,
		"tokens", response.Usage.TotalTokens(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Answer:       answer,
		ToolsUsed:    toolsUsed,
		NumToolCalls: numCalls,
	}, nil
}

// historyContext replays the user's most recent exchanges as alternating
// user/assistant messages, oldest first. A read failure degrades to an
// empty context.
func (s *Service) historyContext(ctx context.Context, userID string) []llm.Message {
	if s.history == nil || s.config.HistoryContext <= 0 {
		return nil
	}

	exchanges, err := s.history.List(ctx, userID, "tool", s.config.HistoryContext)
	if err != nil {
		s.log.Warn("failed to load chat history, continuing without context",
			"user_id", userID,
			"error", err,
		)
		return nil
	}

	messages := make([]llm.Message, 0, len(exchanges)*2)
	for _, e := range exchanges {
		messages = append(messages,
			llm.NewTextMessage(llm.RoleUser, e.Message),
			llm.NewTextMessage(llm.RoleAssistant, e.Response),
		)
	}
	return messages
}

// runToolLoop iterates model calls and tool executions until the model stops
// requesting tools.
func (s *Service) runToolLoop(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, []string, int, error) {
	var toolsUsed []string
	seen := make(map[string]bool)
	numCalls := 0

	for iteration := 0; iteration < s.config.MaxToolCalls; iteration++ {
		response, err := s.provider.Chat(ctx, req)
		if err != nil {
			return nil, toolsUsed, numCalls, fmt.Errorf("LLM call failed: %w", err)
		}

		if !response.HasToolCalls() {
			return response, toolsUsed, numCalls, nil
		}

		var results []llm.ToolResult
		for _, tc := range response.GetToolCalls() {
			numCalls++
			if !seen[tc.Name] {
				seen[tc.Name] = true
				toolsUsed = append(toolsUsed, tc.Name)
			}

			content, execErr := s.registry.Execute(ctx, tc.Name, tc.Input)
			result := llm.ToolResult{ToolUseID: tc.ID, Content: content}
			if execErr != nil {
				// Feed the error back so the model can recover.
				result.Content = fmt.Sprintf("Error: %v", execErr)
				result.IsError = true
			}
			results = append(results, result)
		}

		req.Messages = append(req.Messages, llm.BuildAssistantMessage(response))
		req.Messages = append(req.Messages, llm.BuildToolResultMessage(results))
	}

	return nil, toolsUsed, numCalls, fmt.Errorf("max tool calls (%d) exceeded", s.config.MaxToolCalls)
}

// saveHistory records the exchange; a write failure does not fail the chat.
func (s *Service) saveHistory(ctx context.Context, userID, message, answer string, toolsUsed []string, numCalls int) {
	if s.history == nil {
		return
	}

	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	meta, _ := json.Marshal(map[string]interface{}{
		"tools_used":     toolsUsed,
		"num_tool_calls": numCalls,
	})

	msg := storage.ChatMessage{
		UserID:   userID,
		Message:  message,
		Response: answer,
		ChatType: "tool",
		Metadata: meta,
	}
	if err := s.history.Insert(ctx, &msg); err != nil {
		s.log.Warn("failed to save chat history", "user_id", userID, "error", err)
	}
}

// GetHistory returns the user's chat history, oldest first. chatType filters
// to "rag" or "tool"; empty returns both.
func (s *Service) GetHistory(ctx context.Context, userID, chatType string, limit int) ([]storage.ChatMessage, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, userID, chatType, limit)
}

// ClearHistory deletes the user's chat history and returns the row count.
// chatType limits deletion to one type when non-empty.
func (s *Service) ClearHistory(ctx context.Context, userID, chatType string) (int64, error) {
	if s.history == nil {
		return 0, nil
	}
	return s.history.Clear(ctx, userID, chatType)
}
