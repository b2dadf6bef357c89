package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aegislabs/aegis/pkg/logger"
)

// OpenAICompatProvider implements Provider for OpenAI and OpenAI-compatible
// servers such as Ollama.
type OpenAICompatProvider struct {
	client       *openai.Client
	model        string
	providerName string
	log          *logger.Logger
	config       ProviderConfig
}

// NewOpenAICompatProvider creates a new OpenAI-compatible provider.
func NewOpenAICompatProvider(cfg ProviderConfig, log *logger.Logger) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for OpenAI-compatible provider")
	}
	if log == nil {
		log = logger.Default()
	}

	// Local servers like Ollama accept any key.
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "not-needed"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = cfg.BaseURL

	providerName := cfg.Provider
	if providerName == "" {
		providerName = "openai_compat"
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel(providerName)
	}

	return &OpenAICompatProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        model,
		providerName: providerName,
		log:          &logger.Logger{Logger: log.WithComponent("openai_compat_provider").With("provider", providerName)},
		config:       cfg,
	}, nil
}

// Chat sends a chat request to the OpenAI-compatible server.
func (p *OpenAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := p.convertMessages(req)

	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		chatReq.Stop = req.StopSequences
	}
	if len(req.Tools) > 0 && p.config.EnableToolCalling {
		chatReq.Tools = p.convertToolDefinitions(req.Tools)
	}

	p.log.Debug("sending chat completion request",
		"model", p.model,
		"base_url", p.config.BaseURL,
		"message_count", len(messages),
		"tool_count", len(req.Tools),
	)

	response, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		p.log.WithError(err).Error("chat completion request failed")
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from chat completion API")
	}

	return p.convertResponse(&response), nil
}

// SupportsTools reports whether tool calling is enabled. Actual support
// depends on the model behind the endpoint.
func (p *OpenAICompatProvider) SupportsTools() bool {
	return p.config.EnableToolCalling
}

// Name returns the provider name.
func (p *OpenAICompatProvider) Name() string {
	return p.providerName
}

// Model returns the model name.
func (p *OpenAICompatProvider) Model() string {
	return p.model
}

func (p *OpenAICompatProvider) convertMessages(req ChatRequest) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	if req.SystemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.GetText(),
			})
		case RoleUser:
			if len(msg.Content) > 0 && msg.Content[0].Type == ContentTypeToolResult {
				// Tool results map to individual tool-role messages.
				for _, block := range msg.Content {
					if block.Type == ContentTypeToolResult {
						result = append(result, openai.ChatCompletionMessage{
							Role:       openai.ChatMessageRoleTool,
							Content:    block.ToolResult,
							ToolCallID: block.ToolUseID,
						})
					}
				}
			} else {
				result = append(result, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: msg.GetText(),
				})
			}
		case RoleAssistant:
			assistantMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.GetText(),
			}
			for _, tc := range msg.GetToolCalls() {
				assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, assistantMsg)
		}
	}

	return result
}

func (p *OpenAICompatProvider) convertToolDefinitions(tools []ToolDefinition) []openai.Tool {
	var result []openai.Tool

	for _, tool := range tools {
		schemaJSON, err := json.Marshal(tool.InputSchema)
		if err != nil {
			p.log.Warn("failed to marshal tool schema", "tool", tool.Name, "error", err)
			continue
		}

		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  json.RawMessage(schemaJSON),
			},
		})
	}

	return result
}

func (p *OpenAICompatProvider) convertResponse(resp *openai.ChatCompletionResponse) *ChatResponse {
	choice := resp.Choices[0]
	var content []ContentBlock

	if choice.Message.Content != "" {
		content = append(content, ContentBlock{
			Type: ContentTypeText,
			Text: choice.Message.Content,
		})
	}

	for _, tc := range choice.Message.ToolCalls {
		content = append(content, ContentBlock{
			Type:      ContentTypeToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Function.Name,
			ToolInput: json.RawMessage(tc.Function.Arguments),
		})
	}

	return &ChatResponse{
		Content:    content,
		StopReason: convertFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Model: resp.Model,
	}
}

func convertFinishReason(reason openai.FinishReason) StopReason {
	switch reason {
	case openai.FinishReasonStop:
		return StopReasonEndTurn
	case openai.FinishReasonToolCalls:
		return StopReasonToolUse
	case openai.FinishReasonLength:
		return StopReasonMaxTokens
	default:
		return StopReasonEndTurn
	}
}
