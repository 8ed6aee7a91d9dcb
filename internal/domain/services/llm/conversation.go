package llm

import (
	"context"

	"relay/internal/domain/models/llm"
)

// ConversationService manages conversations and their canonical transcripts.
type ConversationService interface {
	CreateConversation(ctx context.Context, req *CreateConversationRequest) (*llm.Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*llm.Conversation, error)
	ListMessages(ctx context.Context, conversationID, userID string) ([]llm.Message, error)
	UpdateConversation(ctx context.Context, conversationID, userID string, req *UpdateConversationRequest) (*llm.Conversation, error)

	// CheckAccess succeeds when userID owns the conversation or the id is
	// still unused. An id held by another user is domain.ErrNotFound.
	CheckAccess(ctx context.Context, conversationID, userID string) error

	// PersistExchange writes the user message and the assistant reply of one
	// completed stream atomically.
	PersistExchange(ctx context.Context, exchange *Exchange) error
}

// CreateConversationRequest is the DTO for creating a conversation.
type CreateConversationRequest struct {
	ID     string  `json:"id,omitempty"` // Optional client-chosen id
	UserID string  `json:"-"`
	Title  *string `json:"title,omitempty"`
}

// UpdateConversationRequest is transport-agnostic (no JSON tags) - the handler
// maps it from httputil.OptionalString.
//   - TitlePresent=false: leave the title alone
//   - TitlePresent=true, Title=nil: clear the title
//   - TitlePresent=true, Title=&"text": set the title
type UpdateConversationRequest struct {
	TitlePresent bool
	Title        *string
}

// Exchange is the outcome of one completed stream.
type Exchange struct {
	ConversationID     string
	UserID             string
	UserContent        string
	AssistantMessageID string
	AssistantContent   string
	Usage              llm.Usage
	Search             *llm.SearchMetadata
}
