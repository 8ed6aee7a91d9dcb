package handler

import (
	"log/slog"
	"net/http"

	"relay/internal/capabilities"
	"relay/internal/config"
	"relay/internal/httputil"
)

// ModelsHandler handles HTTP requests for the model catalog
type ModelsHandler struct {
	config   *config.Config
	logger   *slog.Logger
	registry *capabilities.Registry
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(cfg *config.Config, logger *slog.Logger, registry *capabilities.Registry) *ModelsHandler {
	return &ModelsHandler{
		config:   cfg,
		logger:   logger,
		registry: registry,
	}
}

// ProviderResponse represents a provider with its models
type ProviderResponse struct {
	ID string `json:"id"`
	// Available is false when the server has no credentials for the provider;
	// requests for its models then fail before streaming.
	Available bool                             `json:"available"`
	Models    []capabilities.ModelCapabilities `json:"models"`
}

// ListModels returns the embedded catalog grouped by provider
// GET /api/models
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	byProvider := make(map[string][]capabilities.ModelCapabilities)
	for _, model := range h.registry.ListModels() {
		byProvider[model.Provider] = append(byProvider[model.Provider], model)
	}

	providers := []ProviderResponse{}
	for _, id := range h.registry.GetAllProviders() {
		providers = append(providers, ProviderResponse{
			ID:        id,
			Available: h.providerConfigured(id),
			Models:    byProvider[id],
		})
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"default_model": h.config.DefaultModel,
		"providers":     providers,
	})
}

func (h *ModelsHandler) providerConfigured(provider string) bool {
	switch provider {
	case "anthropic":
		return h.config.AnthropicAPIKey != ""
	case "gemini":
		return h.config.GeminiAPIKey != ""
	case "lorem":
		return true
	default:
		return false
	}
}
