package streaming

import (
	"context"

	llmModels "relay/internal/domain/models/llm"
)

// Follow reattaches to a live stream. The first chunk carries all text
// accumulated so far; each later chunk carries only the new suffix. Retries
// surface as control:retry. A failed stream ends with control:error and a
// finished one with its usage or metadata frame. The channel closes once the
// stream is gone or ctx is done.
func (s *Service) Follow(ctx context.Context, conversationID string) (<-chan llmModels.Chunk, error) {
	ctx, cancel := context.WithCancel(ctx)
	states, err := s.registry.Subscribe(ctx, conversationID)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan llmModels.Chunk)
	go func() {
		defer close(out)
		defer cancel()

		send := func(c llmModels.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		sent := 0
		retries := 0
		for state := range states {
			if len(state.AccumulatedText) > sent {
				if !send(llmModels.ContentChunk(state.AccumulatedText[sent:])) {
					return
				}
				sent = len(state.AccumulatedText)
			}
			for ; retries < state.RetryCount; retries++ {
				if !send(llmModels.RetryChunk(retries)) {
					return
				}
			}
			if state.Status == llmModels.StreamError {
				attempts := s.orchestrator.MaxAttempts()
				send(llmModels.ErrorChunk(attempts, attempts))
				return
			}
			if state.Status.Terminal() {
				if state.Final != nil {
					send(state.Final.Chunk())
				}
				return
			}
		}
	}()
	return out, nil
}
