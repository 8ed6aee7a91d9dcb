package llm

import (
	"fmt"
	"strings"
)

// Provider names accepted in model strings.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderLorem     = "lorem"
)

// ModelInfo is a model string split into the provider that serves it and the
// id sent upstream.
type ModelInfo struct {
	Provider string
	Model    string
}

// modelPrefixes maps bare model names to their provider.
var modelPrefixes = []struct {
	prefix   string
	provider string
}{
	{"claude-", ProviderAnthropic},
	{"gemini-", ProviderGemini},
	{"lorem-", ProviderLorem},
}

// ParseModel accepts "provider/model" or a bare model name whose provider is
// inferred from its prefix ("claude-haiku-4-5" is served by anthropic).
func ParseModel(modelStr string) (*ModelInfo, error) {
	modelStr = strings.TrimSpace(modelStr)
	if modelStr == "" {
		return nil, fmt.Errorf("model string cannot be empty")
	}

	if provider, model, ok := strings.Cut(modelStr, "/"); ok {
		if provider == "" || model == "" {
			return nil, fmt.Errorf("invalid model format %q (expected provider/model)", modelStr)
		}
		if !knownProvider(provider) {
			return nil, fmt.Errorf("unknown provider %q", provider)
		}
		return &ModelInfo{Provider: provider, Model: model}, nil
	}

	lower := strings.ToLower(modelStr)
	for _, p := range modelPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return &ModelInfo{Provider: p.provider, Model: modelStr}, nil
		}
	}
	return nil, fmt.Errorf("unable to infer provider from model %q", modelStr)
}

func knownProvider(name string) bool {
	for _, p := range modelPrefixes {
		if p.provider == name {
			return true
		}
	}
	return false
}
