package llm

import "time"

// Usage is the token accounting reported by a provider.
// JSON names follow the stream protocol.
type Usage struct {
	PromptTokens     int `json:"promptTokens" msgpack:"prompt_tokens"`
	CompletionTokens int `json:"completionTokens" msgpack:"completion_tokens"`
	TotalTokens      int `json:"totalTokens" msgpack:"total_tokens"`
}

// NewUsage builds a Usage with TotalTokens derived from the parts.
func NewUsage(prompt, completion int) Usage {
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// Add sums two usage reports (tool loops issue several provider calls).
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// UsageRecord is one row of the usage ledger: a single provider attempt.
type UsageRecord struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Provider       string    `json:"provider" db:"provider"`
	Model          string    `json:"model" db:"model"`
	Attempt        int       `json:"attempt" db:"attempt"`
	Success        bool      `json:"success" db:"success"`
	PromptTokens   int       `json:"prompt_tokens" db:"prompt_tokens"`
	OutputTokens   int       `json:"completion_tokens" db:"completion_tokens"`
	Error          *string   `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
