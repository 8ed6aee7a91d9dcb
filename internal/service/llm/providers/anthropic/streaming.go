package anthropic

import (
	"context"
	"errors"
	"fmt"

	"relay/internal/domain/models/llm"
	domainllm "relay/internal/domain/services/llm"
)

var errNoCompletion = errors.New("anthropic stream ended without completion metadata")

// StreamCompletion streams one Claude response. Text deltas are forwarded as
// they arrive; tool calls, usage and the stop reason come in the final event.
// Thinking deltas are dropped.
func (p *Provider) StreamCompletion(ctx context.Context, req *domainllm.CompletionRequest) (<-chan domainllm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by Anthropic provider", req.Model)
	}

	libReq, err := toLibraryRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	libEvents, err := p.lib.StreamResponse(ctx, libReq)
	if err != nil {
		return nil, err
	}

	eventChan := make(chan domainllm.StreamEvent, 10)

	go func() {
		defer close(eventChan)
		// The library goroutine may still be sending after we stop reading.
		defer func() {
			go func() {
				for range libEvents {
				}
			}()
		}()

		send := func(event domainllm.StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case eventChan <- event:
				return true
			}
		}

		var calls []domainllm.ToolCall
		for event := range libEvents {
			switch {
			case event.Error != nil:
				send(domainllm.StreamEvent{Error: fmt.Errorf("anthropic streaming error: %w", event.Error)})
				return

			case event.Delta != nil:
				if event.Delta.IsTextDelta() && *event.Delta.TextDelta != "" {
					if !send(domainllm.StreamEvent{Delta: *event.Delta.TextDelta}) {
						return
					}
				}

			case event.Block != nil:
				if !event.Block.IsToolUseBlock() {
					continue
				}
				call, err := toolCallFromBlock(event.Block)
				if err != nil {
					send(domainllm.StreamEvent{Error: err})
					return
				}
				calls = append(calls, call)

			case event.Metadata != nil:
				usage := llm.NewUsage(event.Metadata.InputTokens, event.Metadata.OutputTokens)
				send(domainllm.StreamEvent{
					ToolCalls:  calls,
					Usage:      &usage,
					StopReason: normalizeStopReason(event.Metadata.StopReason),
				})
				return
			}
		}

		send(domainllm.StreamEvent{Error: errNoCompletion})
	}()

	return eventChan, nil
}

var _ domainllm.LLMProvider = (*Provider)(nil)
