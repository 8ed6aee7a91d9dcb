package llm

import (
	"time"
)

// Conversation is the persisted owner of a transcript.
type Conversation struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	Title        *string    `json:"title,omitempty" db:"title"`
	MessageCount int        `json:"message_count" db:"message_count"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}
