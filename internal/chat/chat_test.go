package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aegislabs/aegis/internal/llm"
	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/internal/tools"
)

// scriptedProvider returns its responses in order, recording each request.
type scriptedProvider struct {
	responses []*llm.ChatResponse
	requests  []llm.ChatRequest
	err       error
}

func (p *scriptedProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return textResponse("out of script"), nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) SupportsTools() bool { return true }
func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Model() string       { return "scripted-model" }

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Content:    []llm.ContentBlock{{Type: llm.ContentTypeText, Text: text}},
		StopReason: llm.StopReasonEndTurn,
	}
}

func toolCallResponse(id, name, input string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Content: []llm.ContentBlock{{
			Type:      llm.ContentTypeToolUse,
			ToolUseID: id,
			ToolName:  name,
			ToolInput: json.RawMessage(input),
		}},
		StopReason: llm.StopReasonToolUse,
	}
}

type historyRecorder struct {
	messages []storage.ChatMessage
}

func (h *historyRecorder) Insert(_ context.Context, msg *storage.ChatMessage) error {
	h.messages = append(h.messages, *msg)
	return nil
}

func (h *historyRecorder) List(_ context.Context, userID, chatType string, _ int) ([]storage.ChatMessage, error) {
	var out []storage.ChatMessage
	for _, m := range h.messages {
		if m.UserID == userID && (chatType == "" || m.ChatType == chatType) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (h *historyRecorder) Clear(_ context.Context, userID, chatType string) (int64, error) {
	var kept []storage.ChatMessage
	var removed int64
	for _, m := range h.messages {
		if m.UserID == userID && (chatType == "" || m.ChatType == chatType) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	h.messages = kept
	return removed, nil
}

// failingHistory errors on every read but accepts writes.
type failingHistory struct {
	historyRecorder
}

func (h *failingHistory) List(context.Context, string, string, int) ([]storage.ChatMessage, error) {
	return nil, errors.New("history unavailable")
}

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(nil)
	r.MustRegister(tools.NewCalculatorTool())
	return r
}

func TestChatDirectAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{textResponse("hello there")}}
	history := &historyRecorder{}
	s := NewService(provider, newRegistry(t), history, DefaultConfig(), nil)

	result, err := s.Chat(context.Background(), "user-1", "say hello")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.Answer != "hello there" {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	if result.NumToolCalls != 0 || len(result.ToolsUsed) != 0 {
		t.Errorf("no tools should be used: %+v", result)
	}

	// Tool definitions must still travel with the request.
	if len(provider.requests[0].Tools) != 1 || provider.requests[0].Tools[0].Name != "calculator" {
		t.Errorf("tool definitions missing from request: %+v", provider.requests[0].Tools)
	}
}

func TestChatExecutesToolLoop(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		toolCallResponse("call-1", "calculator", `{"expression": "6 * 7"}`),
		textResponse("the result is 42"),
	}}
	history := &historyRecorder{}
	s := NewService(provider, newRegistry(t), history, DefaultConfig(), nil)

	result, err := s.Chat(context.Background(), "user-1", "what is 6 times 7?")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if result.Answer != "the result is 42" {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	if result.NumToolCalls != 1 || len(result.ToolsUsed) != 1 || result.ToolsUsed[0] != "calculator" {
		t.Errorf("unexpected tool accounting: %+v", result)
	}

	// Second request must carry the assistant tool-use message and the
	// tool result.
	if len(provider.requests) != 2 {
		t.Fatalf("expected 2 LLM calls, got %d", len(provider.requests))
	}
	second := provider.requests[1]
	if len(second.Messages) != 3 {
		t.Fatalf("expected user + assistant + tool result messages, got %d", len(second.Messages))
	}
	toolMsg := second.Messages[2]
	if toolMsg.Content[0].Type != llm.ContentTypeToolResult {
		t.Errorf("expected tool result message, got %+v", toolMsg)
	}
	if toolMsg.Content[0].ToolResult != "42" {
		t.Errorf("expected tool result \"42\", got %q", toolMsg.Content[0].ToolResult)
	}
}

func TestChatFeedsToolErrorsBack(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		toolCallResponse("call-1", "calculator", `{"expression": "1/0"}`),
		textResponse("that cannot be computed"),
	}}
	s := NewService(provider, newRegistry(t), nil, DefaultConfig(), nil)

	result, err := s.Chat(context.Background(), "user-1", "divide by zero")
	if err != nil {
		t.Fatalf("Chat should recover from tool errors: %v", err)
	}
	if result.Answer != "that cannot be computed" {
		t.Errorf("unexpected answer %q", result.Answer)
	}

	toolMsg := provider.requests[1].Messages[2]
	if !toolMsg.Content[0].IsError {
		t.Error("tool failure should be flagged as error")
	}
	if !strings.Contains(toolMsg.Content[0].ToolResult, "Error:") {
		t.Errorf("error content missing: %q", toolMsg.Content[0].ToolResult)
	}
}

func TestChatMaxToolCallsExceeded(t *testing.T) {
	// The model keeps asking for tools forever.
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		toolCallResponse("c1", "calculator", `{"expression": "1+1"}`),
		toolCallResponse("c2", "calculator", `{"expression": "1+1"}`),
		toolCallResponse("c3", "calculator", `{"expression": "1+1"}`),
	}}
	s := NewService(provider, newRegistry(t), nil, Config{MaxToolCalls: 3, MaxTokens: 100}, nil)

	if _, err := s.Chat(context.Background(), "user-1", "loop"); err == nil {
		t.Fatal("expected error when tool call budget is exhausted")
	}
}

func TestChatSavesHistory(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		toolCallResponse("call-1", "calculator", `{"expression": "2+2"}`),
		textResponse("4"),
	}}
	history := &historyRecorder{}
	s := NewService(provider, newRegistry(t), history, DefaultConfig(), nil)

	if _, err := s.Chat(context.Background(), "user-1", "2+2?"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(history.messages) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(history.messages))
	}
	msg := history.messages[0]
	if msg.ChatType != "tool" {
		t.Errorf("expected chat_type tool, got %q", msg.ChatType)
	}

	var meta struct {
		ToolsUsed    []string `json:"tools_used"`
		NumToolCalls int      `json:"num_tool_calls"`
	}
	if err := json.Unmarshal(msg.Metadata, &meta); err != nil {
		t.Fatalf("invalid metadata: %v", err)
	}
	if meta.NumToolCalls != 1 || len(meta.ToolsUsed) != 1 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestChatReplaysHistoryContext(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{textResponse("yes, Berlin")}}
	history := &historyRecorder{messages: []storage.ChatMessage{
		{UserID: "user-1", Message: "what is the capital of Germany?", Response: "Berlin", ChatType: "tool"},
		{UserID: "user-2", Message: "other user's turn", Response: "x", ChatType: "tool"},
	}}
	s := NewService(provider, newRegistry(t), history, DefaultConfig(), nil)

	if _, err := s.Chat(context.Background(), "user-1", "are you sure?"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	msgs := provider.requests[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("expected prior user + assistant turns plus current message, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content[0].Text != "what is the capital of Germany?" {
		t.Errorf("prior question missing from context: %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || msgs[1].Content[0].Text != "Berlin" {
		t.Errorf("prior answer missing from context: %+v", msgs[1])
	}
	if msgs[2].Content[0].Text != "are you sure?" {
		t.Errorf("current message must come last: %+v", msgs[2])
	}
	for _, m := range msgs {
		if strings.Contains(m.Content[0].Text, "other user's turn") {
			t.Error("another user's history leaked into the context")
		}
	}
}

func TestChatHistoryReadFailureDegrades(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{textResponse("hi")}}
	s := NewService(provider, newRegistry(t), &failingHistory{}, DefaultConfig(), nil)

	result, err := s.Chat(context.Background(), "user-1", "hello")
	if err != nil {
		t.Fatalf("history read failure must not fail the chat: %v", err)
	}
	if result.Answer != "hi" {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	if len(provider.requests[0].Messages) != 1 {
		t.Errorf("expected only the current message, got %d", len(provider.requests[0].Messages))
	}
}

func TestChatRejectsBlankMessage(t *testing.T) {
	s := NewService(&scriptedProvider{}, newRegistry(t), nil, DefaultConfig(), nil)
	if _, err := s.Chat(context.Background(), "user-1", "  "); err == nil {
		t.Fatal("expected error for blank message")
	}
}

func TestChatProviderFailure(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("provider down")}
	s := NewService(provider, newRegistry(t), nil, DefaultConfig(), nil)

	if _, err := s.Chat(context.Background(), "user-1", "hello"); err == nil {
		t.Fatal("expected provider error to propagate")
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	history := &historyRecorder{}
	provider := &scriptedProvider{responses: []*llm.ChatResponse{textResponse("a"), textResponse("b")}}
	s := NewService(provider, newRegistry(t), history, DefaultConfig(), nil)

	s.Chat(context.Background(), "user-1", "first")
	s.Chat(context.Background(), "user-1", "second")

	msgs, err := s.GetHistory(context.Background(), "user-1", "tool", 50)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	removed, err := s.ClearHistory(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("ClearHistory failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 rows cleared, got %d", removed)
	}
}

func TestClearHistoryByType(t *testing.T) {
	history := &historyRecorder{messages: []storage.ChatMessage{
		{UserID: "user-1", ChatType: "tool", Message: "q1", Response: "a1"},
		{UserID: "user-1", ChatType: "rag", Message: "q2", Response: "a2"},
	}}
	s := NewService(&scriptedProvider{}, newRegistry(t), history, DefaultConfig(), nil)

	removed, err := s.ClearHistory(context.Background(), "user-1", "rag")
	if err != nil {
		t.Fatalf("ClearHistory failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 row cleared, got %d", removed)
	}
	if len(history.messages) != 1 || history.messages[0].ChatType != "tool" {
		t.Errorf("expected the tool exchange to survive, got %+v", history.messages)
	}
}
