// Package title names a conversation after its first completed exchange.
package title

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	llmModels "relay/internal/domain/models/llm"
	llmRepo "relay/internal/domain/repositories/llm"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/service/llm/retry"
)

const (
	// MaxTitleRunes caps generated titles well below the column limit.
	MaxTitleRunes = 80

	maxTitleTokens = 32
	excerptRunes   = 2000

	systemPrompt = "You name chat conversations. Reply with a title of at most six words " +
		"that captures the topic. No quotes, no trailing punctuation, no preamble."
)

// ProviderResolver routes a model selector to a provider and upstream model id.
type ProviderResolver interface {
	Resolve(ctx context.Context, model string) (llmSvc.LLMProvider, string, error)
}

// Generator implements llmSvc.TitleGenerator with the same provider that
// answered the exchange.
type Generator struct {
	resolver      ProviderResolver
	orchestrator  *retry.Orchestrator
	conversations llmRepo.ConversationRepository
	logger        *slog.Logger
}

// NewGenerator creates a title generator.
func NewGenerator(resolver ProviderResolver, orchestrator *retry.Orchestrator, conversations llmRepo.ConversationRepository, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		resolver:      resolver,
		orchestrator:  orchestrator,
		conversations: conversations,
		logger:        logger,
	}
}

// Generate asks the provider for a title and stores it unless the
// conversation gained a title in the meantime.
func (g *Generator) Generate(ctx context.Context, req *llmSvc.TitleRequest) error {
	provider, model, err := g.resolver.Resolve(ctx, req.Model)
	if err != nil {
		return fmt.Errorf("resolve title model: %w", err)
	}

	completion := &llmSvc.CompletionRequest{
		Model:     model,
		System:    systemPrompt,
		MaxTokens: maxTitleTokens,
		Messages: []llmSvc.Message{{
			Role: llmModels.RoleUser,
			Content: fmt.Sprintf("User:\n%s\n\nAssistant:\n%s",
				excerpt(req.UserContent), excerpt(req.AssistantReply)),
		}},
	}

	res, err := g.orchestrator.Run(ctx, provider, completion, func(llmModels.Chunk) {}, nil)
	if err != nil {
		return fmt.Errorf("generate title: %w", err)
	}

	title := Clean(res.Text)
	if title == "" {
		return fmt.Errorf("generate title: provider returned no usable text")
	}

	conv, err := g.conversations.GetConversation(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return err
	}
	if conv.Title != nil {
		g.logger.Debug("conversation already titled, skipping", "conversation_id", req.ConversationID)
		return nil
	}

	if _, err := g.conversations.UpdateTitle(ctx, req.ConversationID, req.UserID, &title); err != nil {
		return fmt.Errorf("store title: %w", err)
	}

	g.logger.Info("conversation titled", "conversation_id", req.ConversationID, "title", title)
	return nil
}

// Clean reduces model output to a single-line title: first non-empty line,
// surrounding quotes and trailing punctuation stripped, capped at
// MaxTitleRunes.
func Clean(text string) string {
	var line string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = strings.TrimPrefix(line, "Title:")
	line = strings.Trim(line, "\"'`*.!;:, ")
	line = strings.Join(strings.Fields(line), " ")

	if utf8.RuneCountInString(line) > MaxTitleRunes {
		runes := []rune(line)
		line = strings.TrimSpace(string(runes[:MaxTitleRunes]))
	}
	return line
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= excerptRunes {
		return s
	}
	return string([]rune(s)[:excerptRunes])
}

var _ llmSvc.TitleGenerator = (*Generator)(nil)
