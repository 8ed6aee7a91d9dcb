// Package seed loads demo conversations for local development.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
)

// Conversation is one demo conversation and its exchanges in order.
type Conversation struct {
	ID        string
	Title     string
	Exchanges []Exchange
}

// Exchange is a user prompt and the reply stored for it.
type Exchange struct {
	AssistantMessageID string
	User               string
	Assistant          string
	Usage              llmModels.Usage
	Search             *llmModels.SearchMetadata
}

// Seeder writes demo conversations through the conversation service so the
// data goes through the same transactional path as real streams.
type Seeder struct {
	conversations llmSvc.ConversationService
	logger        *slog.Logger
}

func NewSeeder(conversations llmSvc.ConversationService, logger *slog.Logger) *Seeder {
	return &Seeder{
		conversations: conversations,
		logger:        logger,
	}
}

// Seed creates every conversation in data for userID. Conversations that
// already exist are skipped, so running it twice is harmless.
// Returns the number of conversations created.
func (s *Seeder) Seed(ctx context.Context, userID string, data []Conversation) (int, error) {
	created := 0
	for _, conv := range data {
		_, err := s.conversations.GetConversation(ctx, conv.ID, userID)
		if err == nil {
			s.logger.Info("conversation exists, skipping", "id", conv.ID)
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return created, fmt.Errorf("look up conversation %s: %w", conv.ID, err)
		}

		for i, ex := range conv.Exchanges {
			err := s.conversations.PersistExchange(ctx, &llmSvc.Exchange{
				ConversationID:     conv.ID,
				UserID:             userID,
				UserContent:        ex.User,
				AssistantMessageID: ex.AssistantMessageID,
				AssistantContent:   ex.Assistant,
				Usage:              ex.Usage,
				Search:             ex.Search,
			})
			if err != nil {
				return created, fmt.Errorf("persist exchange %d of %s: %w", i, conv.ID, err)
			}
		}

		if conv.Title != "" {
			title := conv.Title
			if _, err := s.conversations.UpdateConversation(ctx, conv.ID, userID, &llmSvc.UpdateConversationRequest{
				TitlePresent: true,
				Title:        &title,
			}); err != nil {
				return created, fmt.Errorf("title %s: %w", conv.ID, err)
			}
		}

		created++
		s.logger.Info("conversation seeded", "id", conv.ID, "exchanges", len(conv.Exchanges))
	}
	return created, nil
}

// DemoConversations is the default data set.
func DemoConversations() []Conversation {
	return []Conversation{
		{
			ID:    "11111111-1111-4111-8111-111111111111",
			Title: "Sourdough starter",
			Exchanges: []Exchange{
				{
					AssistantMessageID: "11111111-1111-4111-8111-1111111111a1",
					User:               "My sourdough starter smells like nail polish. Is it ruined?",
					Assistant:          "No. An acetone smell means the yeast is hungry. Discard most of it and feed it at a 1:1:1 ratio twice a day for a few days.",
					Usage:              llmModels.NewUsage(18, 34),
				},
				{
					AssistantMessageID: "11111111-1111-4111-8111-1111111111a2",
					User:               "How do I know when it's ready to bake with?",
					Assistant:          "It should reliably double within 4 to 8 hours of feeding and a spoonful should float in water.",
					Usage:              llmModels.NewUsage(62, 25),
				},
			},
		},
		{
			ID:    "22222222-2222-4222-8222-222222222222",
			Title: "Go 1.25 release",
			Exchanges: []Exchange{
				{
					AssistantMessageID: "22222222-2222-4222-8222-2222222222a1",
					User:               "What changed in the latest Go release?",
					Assistant:          "Go 1.25 adds container-aware GOMAXPROCS, the testing/synctest package and an experimental JSON v2 implementation.",
					Usage:              llmModels.NewUsage(410, 41),
					Search: &llmModels.SearchMetadata{
						Query: "Go 1.25 release notes",
						Results: []llmModels.SearchSource{
							{Title: "Go 1.25 Release Notes", URL: "https://go.dev/doc/go1.25"},
						},
					},
				},
			},
		},
	}
}
