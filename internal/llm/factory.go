package llm

import (
	"fmt"
	"strings"

	"github.com/aegislabs/aegis/pkg/logger"
)

// ProviderType identifies an LLM backend.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderOllama    ProviderType = "ollama"
)

// NewProvider creates a provider from configuration.
func NewProvider(cfg ProviderConfig, log *logger.Logger) (Provider, error) {
	if log == nil {
		log = logger.Default()
	}

	providerType := ProviderType(strings.ToLower(cfg.Provider))

	log.Info("creating LLM provider",
		"provider", providerType,
		"model", cfg.Model,
	)

	switch providerType {
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg, log)

	case ProviderOpenAI:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		return NewOpenAICompatProvider(cfg, log)

	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434/v1"
		}
		return NewOpenAICompatProvider(cfg, log)

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// ValidateProviderConfig checks that the configuration can produce a provider.
func ValidateProviderConfig(cfg ProviderConfig) error {
	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return fmt.Errorf("API key is required for Anthropic provider")
		}
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return fmt.Errorf("API key is required for OpenAI provider")
		}
	case ProviderOllama:
		// Local server, no key needed.
	default:
		return fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return nil
}

// GetDefaultModel returns the default model for a provider.
func GetDefaultModel(provider string) string {
	switch ProviderType(strings.ToLower(provider)) {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderOllama:
		return "llama3.2"
	default:
		return ""
	}
}
