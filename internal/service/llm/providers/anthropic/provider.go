// Package anthropic adapts the meridian-llm-go Claude provider to the
// relay provider interface.
package anthropic

import (
	"context"

	llmprovider "github.com/haowjy/meridian-llm-go"
	libanthropic "github.com/haowjy/meridian-llm-go/providers/anthropic"

	domainllm "relay/internal/domain/services/llm"
)

const defaultMaxTokens = 4096

// Provider wraps the library's Anthropic provider and converts between relay
// requests and library requests.
type Provider struct {
	lib llmprovider.Provider
}

// NewProvider creates a Claude provider. The SDK underneath also honours
// ANTHROPIC_BASE_URL.
func NewProvider(apiKey string) (*Provider, error) {
	lib, err := libanthropic.NewProvider(apiKey)
	if err != nil {
		return nil, err
	}
	return &Provider{lib: lib}, nil
}

// NewProviderWith wraps an existing library provider.
func NewProviderWith(lib llmprovider.Provider) *Provider {
	return &Provider{lib: lib}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.lib.Name().String()
}

// SupportsModel returns true if this provider supports the given model.
func (p *Provider) SupportsModel(model string) bool {
	return p.lib.SupportsModel(model)
}

// PreviewPayload returns the Messages API body a request would produce,
// without a network call.
func (p *Provider) PreviewPayload(_ context.Context, req *domainllm.CompletionRequest) (map[string]interface{}, error) {
	libReq, err := toLibraryRequest(req)
	if err != nil {
		return nil, err
	}
	return libanthropic.BuildMessageParamsDebug(libReq)
}
