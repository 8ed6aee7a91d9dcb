package llm

import (
	"time"
)

// Role of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a canonical transcript entry as stored by the persistence layer.
// Optimistic is only ever set on entries synthesized by the reconciler.
type Message struct {
	ID             string          `json:"id" db:"id"`
	ConversationID string          `json:"conversation_id" db:"conversation_id"`
	Role           Role            `json:"role" db:"role"`
	Content        string          `json:"content" db:"content"`
	TokenUsage     *Usage          `json:"token_usage,omitempty" db:"token_usage"`
	Search         *SearchMetadata `json:"search,omitempty" db:"search_metadata"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	Optimistic     bool            `json:"optimistic,omitempty" db:"-"`
}
