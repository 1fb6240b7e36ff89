// Package llm defines the interfaces and factories for connecting to the
// language models that narrate performance insights.
package llm

import (
	"context"
	"fmt"

	"perftrail/internal/config"
)

// Provider is the common contract of every supported model backend.
type Provider interface {
	Analyze(ctx context.Context, prompt string) (string, error)
	Name() string
}

// ProviderType represents a supported backend LLM provider.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
)

const systemPrompt = "You are a performance engineer reviewing application traces. Be concise and concrete."

// NewProvider instantiates the backend named by cfg.Provider.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch ProviderType(cfg.ProviderType()) {
	case ProviderOpenAI:
		return NewOpenAIProviderFromConfig(cfg)
	case ProviderAnthropic:
		return NewAnthropicProviderFromConfig(cfg)
	case ProviderOllama:
		return NewOllamaProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
