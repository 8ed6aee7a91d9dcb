package llm

import (
	"context"

	"relay/internal/domain/models/llm"
)

// ConversationRepository defines data access for conversations.
type ConversationRepository interface {
	// CreateConversation inserts a conversation. An empty ID is generated.
	// Returns *domain.ConflictError if the id is taken.
	CreateConversation(ctx context.Context, conv *llm.Conversation) error

	// GetConversation retrieves a conversation scoped to its owner.
	// Returns domain.ErrNotFound if missing, deleted or owned by someone else.
	GetConversation(ctx context.Context, conversationID, userID string) (*llm.Conversation, error)

	// ConversationExists reports whether any row uses the id, whatever its
	// owner or deletion state.
	ConversationExists(ctx context.Context, conversationID string) (bool, error)

	// EnsureConversation creates the conversation for userID if it does not
	// exist. Returns domain.ErrNotFound if the id belongs to another user.
	EnsureConversation(ctx context.Context, conversationID, userID string) error

	// UpdateTitle sets or clears the title.
	// Returns domain.ErrNotFound if not found
	UpdateTitle(ctx context.Context, conversationID, userID string, title *string) (*llm.Conversation, error)
}

// MessageRepository defines data access for the canonical transcript.
type MessageRepository interface {
	// CreateMessage appends a message and bumps the conversation's message
	// count. ID and CreatedAt are filled when empty.
	CreateMessage(ctx context.Context, msg *llm.Message) error

	// ListMessages returns the transcript in append order.
	ListMessages(ctx context.Context, conversationID string) ([]llm.Message, error)
}

// UsageRepository stores usage ledger rows.
type UsageRepository interface {
	CreateUsageRecord(ctx context.Context, rec *llm.UsageRecord) error
}
