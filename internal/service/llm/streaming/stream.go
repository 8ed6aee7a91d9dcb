package streaming

import (
	"sync"

	llmModels "relay/internal/domain/models/llm"
)

// Stream is the originating consumer's handle on a running stream.
// Delivery blocks under backpressure until the consumer reads or detaches.
type Stream struct {
	conversationID     string
	assistantMessageID string

	out      chan llmModels.Chunk
	detached chan struct{}
	once     sync.Once
}

func newStream(conversationID, assistantMessageID string) *Stream {
	return &Stream{
		conversationID:     conversationID,
		assistantMessageID: assistantMessageID,
		out:                make(chan llmModels.Chunk),
		detached:           make(chan struct{}),
	}
}

// AssistantMessageID returns the id the assistant reply will be persisted under.
func (s *Stream) AssistantMessageID() string {
	return s.assistantMessageID
}

// Chunks yields frames in production order. Closed when the stream ends.
func (s *Stream) Chunks() <-chan llmModels.Chunk {
	return s.out
}

// Detach stops delivery. The stream keeps running. Safe to call more than once.
func (s *Stream) Detach() {
	s.once.Do(func() { close(s.detached) })
}

// Detached reports whether the consumer has gone away.
func (s *Stream) Detached() bool {
	select {
	case <-s.detached:
		return true
	default:
		return false
	}
}

// send delivers c unless the consumer detached or done fires first.
func (s *Stream) send(c llmModels.Chunk, done <-chan struct{}) {
	select {
	case <-s.detached:
		return
	default:
	}
	select {
	case s.out <- c:
	case <-s.detached:
	case <-done:
	}
}

func (s *Stream) close() {
	close(s.out)
}
