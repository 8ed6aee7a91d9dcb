package llm

import "time"

// StreamStatus is the lifecycle position of a live stream.
type StreamStatus string

const (
	StreamLoading   StreamStatus = "loading"
	StreamStreaming StreamStatus = "streaming"
	StreamDone      StreamStatus = "done"
	StreamError     StreamStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s StreamStatus) Terminal() bool {
	return s == StreamDone || s == StreamError
}

// StreamState is the registry entry for one conversation's live stream.
// AccumulatedText only ever grows for the lifetime of one stream.
type StreamState struct {
	ConversationID     string       `json:"conversation_id" msgpack:"conversation_id"`
	AssistantMessageID string       `json:"assistant_message_id" msgpack:"assistant_message_id"`
	UserID             string       `json:"-" msgpack:"user_id"`
	UserContent        string       `json:"user_content" msgpack:"user_content"`
	AccumulatedText    string       `json:"accumulated_text" msgpack:"accumulated_text"`
	Status             StreamStatus `json:"status" msgpack:"status"`
	RetryCount         int          `json:"retry_count" msgpack:"retry_count"`
	Model              string       `json:"model" msgpack:"model"`
	StartedAt          time.Time    `json:"started_at" msgpack:"started_at"`
	UpdatedAt          time.Time    `json:"updated_at" msgpack:"updated_at"`
	// Final is set just before a successful stream turns done.
	Final *FinalFrame `json:"final,omitempty" msgpack:"final"`
}

// FinalFrame is the terminal usage frame of a successful stream. Tool loop
// streams end with a metadata frame, plain ones with control:usage.
type FinalFrame struct {
	Usage    Usage           `json:"usage" msgpack:"usage"`
	Search   *SearchMetadata `json:"search,omitempty" msgpack:"search"`
	Metadata bool            `json:"metadata" msgpack:"metadata"`
}

// FinalFrameOf returns the frame a terminal chunk records, or nil when the
// chunk is not a final usage or metadata frame.
func FinalFrameOf(c Chunk) *FinalFrame {
	switch {
	case c.Kind == ChunkMetadata && c.Metadata != nil:
		return &FinalFrame{Usage: c.Metadata.Usage, Search: c.Metadata.Search, Metadata: true}
	case c.Kind == ChunkControl && c.Control != nil && c.Control.Type == ControlUsage && c.Control.TokenUsage != nil:
		return &FinalFrame{Usage: *c.Control.TokenUsage}
	}
	return nil
}

// Chunk rebuilds the wire frame.
func (f *FinalFrame) Chunk() Chunk {
	if f.Metadata {
		return MetadataChunk(Metadata{Usage: f.Usage, Search: f.Search})
	}
	return UsageChunk(f.Usage)
}

// NewStreamState returns the initial loading state for an accepted request.
func NewStreamState(conversationID, assistantMessageID, userContent, model string) *StreamState {
	now := time.Now().UTC()
	return &StreamState{
		ConversationID:     conversationID,
		AssistantMessageID: assistantMessageID,
		UserContent:        userContent,
		Status:             StreamLoading,
		Model:              model,
		StartedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns an independent copy safe to hand to another goroutine.
func (s *StreamState) Clone() *StreamState {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// AppendText applies a content chunk and moves loading to streaming.
func (s *StreamState) AppendText(text string) {
	s.AccumulatedText += text
	if s.Status == StreamLoading {
		s.Status = StreamStreaming
	}
}
