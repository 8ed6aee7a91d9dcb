package llm

import (
	"context"
	"fmt"
	"log/slog"

	"relay/internal/capabilities"
	"relay/internal/config"
	"relay/internal/domain/repositories"
	llmRepo "relay/internal/domain/repositories/llm"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/service/llm/conversation"
	"relay/internal/service/llm/retry"
	"relay/internal/service/llm/streaming"
	"relay/internal/service/llm/title"
	"relay/internal/service/llm/toolcall"
	"relay/internal/service/llm/tools"
	"relay/internal/service/llm/tools/external"
	"relay/internal/service/llm/usage"
	"relay/internal/streamregistry"
)

// SetupProviders initializes the provider factory and registry for routing.
// Returns a configured ProviderRegistry or an error if setup fails.
func SetupProviders(cfg *config.Config, caps *capabilities.Registry, logger *slog.Logger) (*ProviderRegistry, error) {
	registry := NewProviderRegistry(NewProviderFactory(cfg), caps)

	// Validate factories are configured
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("provider registry validation failed: %w", err)
	}

	if cfg.AnthropicAPIKey != "" {
		logger.Info("provider available", "name", "anthropic")
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set - Anthropic provider not available")
	}
	if cfg.GeminiAPIKey != "" {
		logger.Info("provider available", "name", "gemini")
	} else {
		logger.Warn("GEMINI_API_KEY not set - Gemini provider not available")
	}
	logger.Info("provider available", "name", "lorem")

	return registry, nil
}

// Services holds all LLM-related services
type Services struct {
	Conversation *conversation.Service
	Streaming    *streaming.Service
}

// SetupServices initializes all LLM services with proper dependency injection.
// base bounds every stream: cancelling it severs running streams without
// persisting them. attachments may be nil.
func SetupServices(
	base context.Context,
	conversationRepo llmRepo.ConversationRepository,
	messageRepo llmRepo.MessageRepository,
	usageRepo llmRepo.UsageRepository,
	txManager repositories.TransactionManager,
	streamRegistry streamregistry.Store,
	providerRegistry *ProviderRegistry,
	attachments llmSvc.AttachmentFetcher,
	cfg *config.Config,
	logger *slog.Logger,
) (*Services, error) {
	orchestrator := retry.NewOrchestrator(retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     retry.ExponentialBackoff(cfg.Retry.BaseDelay, cfg.Retry.MaxDelay),
	}, logger)

	// Web search is the only tool; without a search key the tool loop is off
	// and webSearch requests stream as plain completions.
	var multiplexer *toolcall.Multiplexer
	if cfg.TavilyAPIKey != "" {
		toolRegistry := tools.NewToolRegistryBuilder().
			WithWebSearch(external.NewTavilyClient(cfg.TavilyAPIKey)).
			Build()
		multiplexer = toolcall.NewMultiplexer(orchestrator, toolRegistry, logger)
		logger.Info("web search tool enabled")
	} else {
		logger.Warn("TAVILY_API_KEY not set - web search disabled")
	}

	budgets := llmSvc.NewConfigToolBudgetResolver(llmSvc.ToolBudget{
		MaxIterations: cfg.ToolBudget.HighMaxIterations,
		MaxToolCalls:  cfg.ToolBudget.HighMaxToolCalls,
	})

	conversationService := conversation.NewService(conversationRepo, messageRepo, txManager, logger)
	ledger := usage.NewLedger(usageRepo, logger)
	titles := title.NewGenerator(providerRegistry, orchestrator, conversationRepo, logger)

	streamingService := streaming.NewService(
		base,
		providerRegistry,
		orchestrator,
		multiplexer,
		budgets,
		streamRegistry,
		conversationService,
		ledger,
		titles,
		attachments,
		cfg.DefaultModel,
		logger,
	)

	return &Services{
		Conversation: conversationService,
		Streaming:    streamingService,
	}, nil
}
