package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"relay/internal/config"
	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	"relay/internal/domain/repositories"
	llmRepo "relay/internal/domain/repositories/llm"
	llmSvc "relay/internal/domain/services/llm"
)

// Service implements the ConversationService interface.
// It owns the canonical transcript; the streaming service only appends to it
// through PersistExchange.
type Service struct {
	conversations llmRepo.ConversationRepository
	messages      llmRepo.MessageRepository
	txManager     repositories.TransactionManager
	logger        *slog.Logger
}

// NewService creates a new conversation service
func NewService(
	conversations llmRepo.ConversationRepository,
	messages llmRepo.MessageRepository,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		txManager:     txManager,
		logger:        logger,
	}
}

// CreateConversation creates an empty conversation, optionally with a
// client-chosen id and title.
func (s *Service) CreateConversation(ctx context.Context, req *llmSvc.CreateConversationRequest) (*llmModels.Conversation, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	conv := &llmModels.Conversation{
		ID:     req.ID,
		UserID: req.UserID,
		Title:  normalizeTitle(req.Title),
	}
	if err := s.conversations.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	s.logger.Info("conversation created", "id", conv.ID, "user_id", conv.UserID)
	return conv, nil
}

func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*llmModels.Conversation, error) {
	return s.conversations.GetConversation(ctx, conversationID, userID)
}

func (s *Service) CheckAccess(ctx context.Context, conversationID, userID string) error {
	_, err := s.conversations.GetConversation(ctx, conversationID, userID)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	exists, existsErr := s.conversations.ConversationExists(ctx, conversationID)
	if existsErr != nil {
		return existsErr
	}
	if exists {
		return err
	}
	return nil
}

// ListMessages returns the canonical transcript after checking ownership.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID string) ([]llmModels.Message, error) {
	if _, err := s.conversations.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.messages.ListMessages(ctx, conversationID)
}

// UpdateConversation applies a partial update. Only the title is mutable.
func (s *Service) UpdateConversation(ctx context.Context, conversationID, userID string, req *llmSvc.UpdateConversationRequest) (*llmModels.Conversation, error) {
	if !req.TitlePresent {
		return s.conversations.GetConversation(ctx, conversationID, userID)
	}
	if req.Title != nil {
		if err := validation.Validate(strings.TrimSpace(*req.Title),
			validation.Required,
			validation.Length(1, config.MaxConversationTitleLength),
		); err != nil {
			return nil, fmt.Errorf("%w: title: %v", domain.ErrValidation, err)
		}
	}
	return s.conversations.UpdateTitle(ctx, conversationID, userID, normalizeTitle(req.Title))
}

// PersistExchange appends the user message and the assistant reply in one
// transaction, creating the conversation on first use.
func (s *Service) PersistExchange(ctx context.Context, exchange *llmSvc.Exchange) error {
	usage := exchange.Usage

	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if err := s.conversations.EnsureConversation(txCtx, exchange.ConversationID, exchange.UserID); err != nil {
			return err
		}
		user := &llmModels.Message{
			ConversationID: exchange.ConversationID,
			Role:           llmModels.RoleUser,
			Content:        exchange.UserContent,
		}
		if err := s.messages.CreateMessage(txCtx, user); err != nil {
			return fmt.Errorf("create user message: %w", err)
		}
		assistant := &llmModels.Message{
			ID:             exchange.AssistantMessageID,
			ConversationID: exchange.ConversationID,
			Role:           llmModels.RoleAssistant,
			Content:        exchange.AssistantContent,
			TokenUsage:     &usage,
			Search:         exchange.Search,
		}
		if err := s.messages.CreateMessage(txCtx, assistant); err != nil {
			return fmt.Errorf("create assistant message: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("exchange persisted",
		"conversation_id", exchange.ConversationID,
		"assistant_message_id", exchange.AssistantMessageID,
		"total_tokens", usage.TotalTokens,
	)
	return nil
}

func (s *Service) validateCreateRequest(req *llmSvc.CreateConversationRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.ID, validation.Length(0, 128)),
		validation.Field(&req.Title, validation.Length(0, config.MaxConversationTitleLength)),
	)
}

// normalizeTitle trims whitespace; a blank title becomes nil.
func normalizeTitle(title *string) *string {
	if title == nil {
		return nil
	}
	t := strings.TrimSpace(*title)
	if t == "" {
		return nil
	}
	return &t
}

var _ llmSvc.ConversationService = (*Service)(nil)
