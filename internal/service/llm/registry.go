package llm

import (
	"context"
	"fmt"
	"sync"

	"relay/internal/capabilities"
	"relay/internal/domain"
	domainllm "relay/internal/domain/services/llm"
)

// ProviderSource creates a provider by name.
type ProviderSource interface {
	GetProvider(ctx context.Context, provider string) (domainllm.LLMProvider, error)
}

// ProviderRegistry routes model requests to provider instances. Providers are
// created lazily and cached for reuse.
type ProviderRegistry struct {
	factory      ProviderSource
	capabilities *capabilities.Registry
	cache        map[string]domainllm.LLMProvider
	mu           sync.RWMutex
}

// NewProviderRegistry creates a new provider registry. A nil capability
// registry accepts any model its provider supports.
func NewProviderRegistry(factory ProviderSource, caps *capabilities.Registry) *ProviderRegistry {
	return &ProviderRegistry{
		factory:      factory,
		capabilities: caps,
		cache:        make(map[string]domainllm.LLMProvider),
	}
}

// Resolve maps a model string to the provider serving it and the model id to
// send upstream. Unknown models yield *domain.UnsupportedModelError; a
// provider that cannot be constructed (missing key) yields a plain error.
func (r *ProviderRegistry) Resolve(ctx context.Context, model string) (domainllm.LLMProvider, string, error) {
	info, err := ParseModel(model)
	if err != nil {
		return nil, "", &domain.UnsupportedModelError{Model: model, Reason: err.Error()}
	}

	if r.capabilities != nil {
		if _, err := r.capabilities.GetModelCapabilities(info.Provider, info.Model); err != nil {
			return nil, "", err
		}
	}

	provider, err := r.GetProvider(ctx, info.Provider)
	if err != nil {
		return nil, "", err
	}
	if !provider.SupportsModel(info.Model) {
		return nil, "", &domain.UnsupportedModelError{Model: model, Reason: fmt.Sprintf("not supported by %s", provider.Name())}
	}
	return provider, info.Model, nil
}

// GetProvider returns the cached provider for the given name, creating it on
// first use.
func (r *ProviderRegistry) GetProvider(ctx context.Context, provider string) (domainllm.LLMProvider, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}

	// Fast path: check cache with read lock
	r.mu.RLock()
	if cached, exists := r.cache[provider]; exists {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created the provider while we waited for the lock
	if cached, exists := r.cache[provider]; exists {
		return cached, nil
	}

	created, err := r.factory.GetProvider(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider '%s': %w", provider, err)
	}

	r.cache[provider] = created
	return created, nil
}

// Register installs a provider instance directly, bypassing the factory.
func (r *ProviderRegistry) Register(provider domainllm.LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[provider.Name()] = provider
}

// Validate checks if the factory is properly configured.
// Should be called at startup to fail fast if misconfigured.
func (r *ProviderRegistry) Validate() error {
	if r.factory == nil {
		return fmt.Errorf("provider factory is not configured")
	}
	return nil
}
