package client

import (
	"context"
	"log/slog"
	"time"

	llmModels "relay/internal/domain/models/llm"
)

// DefaultPollInterval bounds how stale a polling consumer's view can be.
const DefaultPollInterval = 500 * time.Millisecond

// StateSource reads live stream snapshots. nil means no stream is live.
type StateSource interface {
	StreamState(ctx context.Context, conversationID string) (*llmModels.StreamState, error)
}

// TranscriptSource reads the canonical transcript.
type TranscriptSource interface {
	ListMessages(ctx context.Context, conversationID string) ([]llmModels.Message, error)
}

// Poller follows a conversation without holding a stream open. Its view is
// never older than one interval plus one request.
type Poller struct {
	states      StateSource
	transcripts TranscriptSource
	interval    time.Duration
	logger      *slog.Logger
}

// NewPoller creates a poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(states StateSource, transcripts TranscriptSource, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{states: states, transcripts: transcripts, interval: interval, logger: logger}
}

// Follow polls until no stream is live and the canonical transcript has been
// fetched once afterwards. onUpdate receives the reconciled transcript after
// every change. Transient fetch errors are logged and retried on the next
// tick.
func (p *Poller) Follow(ctx context.Context, conversationID string, onUpdate func([]llmModels.Message)) ([]llmModels.Message, error) {
	canonical, err := p.transcripts.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	rec := NewReconciler(canonical)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastText string
	lastStatus := llmModels.StreamStatus("")
	for {
		state, err := p.states.StreamState(ctx, conversationID)
		switch {
		case err != nil:
			p.logger.Warn("poll stream state failed", "conversation_id", conversationID, "error", err)

		case state == nil:
			rec.ApplyLive(nil)
			messages, err := p.transcripts.ListMessages(ctx, conversationID)
			if err != nil {
				p.logger.Warn("fetch transcript failed", "conversation_id", conversationID, "error", err)
				break
			}
			rec.ApplyCanonical(messages)
			final := rec.Messages()
			if onUpdate != nil {
				onUpdate(final)
			}
			return final, nil

		case state.AccumulatedText != lastText || state.Status != lastStatus:
			lastText, lastStatus = state.AccumulatedText, state.Status
			rec.ApplyLive(state)
			if onUpdate != nil {
				onUpdate(rec.Messages())
			}
		}

		select {
		case <-ctx.Done():
			return rec.Messages(), ctx.Err()
		case <-ticker.C:
		}
	}
}
