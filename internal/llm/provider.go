// Package llm provides a unified interface for chat completion providers.
package llm

import (
	"context"
	"encoding/json"
)

// Provider is the interface all chat completion backends implement.
type Provider interface {
	// Chat sends a chat request and returns the model's response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// SupportsTools reports whether the provider supports native tool calling.
	SupportsTools() bool

	// Name returns the provider name (e.g. "anthropic", "openai").
	Name() string

	// Model returns the model in use.
	Model() string
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonStop      StopReason = "stop"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentType represents the type of content in a message.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// ContentBlock is one block of message content.
type ContentBlock struct {
	Type ContentType `json:"type"`

	// For text content
	Text string `json:"text,omitempty"`

	// For tool use content
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// For tool result content
	ToolResult string `json:"tool_result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message represents a message in the conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// NewTextMessage creates a plain text message.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{
			{Type: ContentTypeText, Text: text},
		},
	}
}

// GetText concatenates all text content in the message.
func (m *Message) GetText() string {
	var text string
	for _, block := range m.Content {
		if block.Type == ContentTypeText {
			text += block.Text
		}
	}
	return text
}

// GetToolCalls extracts all tool calls from the message.
func (m *Message) GetToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range m.Content {
		if block.Type == ContentTypeToolUse {
			calls = append(calls, ToolCall{
				ID:    block.ToolUseID,
				Name:  block.ToolName,
				Input: block.ToolInput,
			})
		}
	}
	return calls
}

// ToolDefinition defines a tool the model may call.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall represents a tool call made by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ChatRequest represents a request to the model.
type ChatRequest struct {
	Messages      []Message        `json:"messages"`
	SystemPrompt  string           `json:"system_prompt,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Temperature   float64          `json:"temperature,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
}

// ChatResponse represents a response from the model.
type ChatResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
	Model      string         `json:"model"`
}

// GetText concatenates all text content in the response.
func (r *ChatResponse) GetText() string {
	var text string
	for _, block := range r.Content {
		if block.Type == ContentTypeText {
			text += block.Text
		}
	}
	return text
}

// GetToolCalls extracts all tool calls from the response.
func (r *ChatResponse) GetToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range r.Content {
		if block.Type == ContentTypeToolUse {
			calls = append(calls, ToolCall{
				ID:    block.ToolUseID,
				Name:  block.ToolName,
				Input: block.ToolInput,
			})
		}
	}
	return calls
}

// HasToolCalls reports whether the response contains tool calls.
func (r *ChatResponse) HasToolCalls() bool {
	return r.StopReason == StopReasonToolUse || len(r.GetToolCalls()) > 0
}

// Usage contains token usage information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TotalTokens returns the total number of tokens used.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// BuildAssistantMessage turns a response into an assistant message for the
// next request in the conversation.
func BuildAssistantMessage(resp *ChatResponse) Message {
	return Message{
		Role:    RoleAssistant,
		Content: resp.Content,
	}
}

// BuildToolResultMessage packs tool execution results into a single user
// message, as tool-calling conversations require.
func BuildToolResultMessage(results []ToolResult) Message {
	var content []ContentBlock
	for _, result := range results {
		content = append(content, ContentBlock{
			Type:       ContentTypeToolResult,
			ToolUseID:  result.ToolUseID,
			ToolResult: result.Content,
			IsError:    result.IsError,
		})
	}
	return Message{
		Role:    RoleUser,
		Content: content,
	}
}

// ProviderConfig holds configuration common to all providers.
type ProviderConfig struct {
	// Provider selects the backend: anthropic, openai, or ollama.
	Provider string `json:"provider"`

	// Model is the model to use. Empty selects the provider default.
	Model string `json:"model"`

	// APIKey authenticates against hosted providers.
	APIKey string `json:"api_key,omitempty"`

	// BaseURL overrides the API endpoint (OpenAI-compatible servers).
	BaseURL string `json:"base_url,omitempty"`

	// MaxTokens is the default generation cap.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature is the default sampling temperature.
	Temperature float64 `json:"temperature,omitempty"`

	// EnableToolCalling enables native tool calling.
	EnableToolCalling bool `json:"enable_tool_calling,omitempty"`
}

// DefaultProviderConfig returns the default provider configuration.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Provider:          "anthropic",
		Model:             "claude-sonnet-4-20250514",
		MaxTokens:         4096,
		Temperature:       0.3,
		EnableToolCalling: true,
	}
}
