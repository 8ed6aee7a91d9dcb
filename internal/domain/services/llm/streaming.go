package llm

import (
	"context"

	"relay/internal/domain/models/llm"
)

// StreamingService accepts a chat request and runs it as a background stream.
// Errors returned from Start happen before any byte is written; everything
// after that is reported in-band on the chunk channel.
type StreamingService interface {
	Start(ctx context.Context, req *StreamRequest) (StreamHandle, error)

	// Snapshot returns the live state for a conversation or domain.ErrNotFound.
	Snapshot(ctx context.Context, conversationID string) (*llm.StreamState, error)

	// Follow reattaches to a live stream. The returned channel yields the
	// accumulated text first, then every later suffix, and closes when the
	// stream ends.
	Follow(ctx context.Context, conversationID string) (<-chan llm.Chunk, error)
}

// StreamHandle is the originating consumer's view of an accepted stream.
type StreamHandle interface {
	AssistantMessageID() string

	// Chunks delivers frames in production order and is closed at stream end.
	Chunks() <-chan llm.Chunk

	// Detach stops delivery to this consumer. The stream keeps running and
	// still persists its result.
	Detach()
}

// StreamRequest is the DTO for starting a stream.
type StreamRequest struct {
	ConversationID  string        `json:"-"` // From the URL path
	UserID          string        `json:"-"` // Set by handler from auth context
	Messages        []ChatMessage `json:"messages"`
	Model           string        `json:"model"`
	System          *string       `json:"system,omitempty"`
	ReasoningEffort string        `json:"reasoningEffort,omitempty"` // "high" | "low"
	WebSearch       bool          `json:"webSearch,omitempty"`
	Attachments     []string      `json:"attachments,omitempty"` // Object keys for file-derived context
}

// ChatMessage is one prior message supplied by the client.
type ChatMessage struct {
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
}

// LatestUserContent returns the content of the last user message.
func (r *StreamRequest) LatestUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == llm.RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
