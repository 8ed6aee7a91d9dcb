package llm

import (
	"context"
	"fmt"

	"relay/internal/config"
	domainllm "relay/internal/domain/services/llm"
	"relay/internal/service/llm/providers/anthropic"
	"relay/internal/service/llm/providers/gemini"
	"relay/internal/service/llm/providers/lorem"
)

// ProviderFactory creates provider instances from configuration.
type ProviderFactory struct {
	config *config.Config
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(cfg *config.Config) *ProviderFactory {
	return &ProviderFactory{
		config: cfg,
	}
}

// GetProvider returns a provider instance for the given provider name
//
// Supported providers:
//   - "anthropic" - Claude models via Anthropic API
//   - "gemini" - Gemini models via the Gemini API
//   - "lorem" - Offline provider (no API key required)
func (f *ProviderFactory) GetProvider(ctx context.Context, providerName string) (domainllm.LLMProvider, error) {
	switch providerName {
	case ProviderAnthropic:
		if f.config.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
		return anthropic.NewProvider(f.config.AnthropicAPIKey)

	case ProviderGemini:
		if f.config.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
		return gemini.NewProvider(ctx, f.config.GeminiAPIKey)

	case ProviderLorem:
		return lorem.NewProvider(lorem.Options{}), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerName)
	}
}
