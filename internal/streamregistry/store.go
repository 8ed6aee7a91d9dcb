// Package streamregistry tracks live streams by conversation id so a consumer
// can detach from a stream and find it again later.
//
// Every mutation is an atomic single-key operation. Snapshots handed out by a
// Store are copies; mutating them has no effect on the registry.
package streamregistry

import (
	"context"
	"fmt"

	"relay/internal/domain"
	"relay/internal/domain/models/llm"
)

// Store is the registry contract shared by the in-memory and Redis backends.
type Store interface {
	// Register adds the state, failing with *domain.AlreadyStreamingError if
	// the conversation already has a live stream.
	Register(ctx context.Context, state *llm.StreamState) error

	// Update applies mutate atomically and publishes the result to
	// subscribers. Returns domain.ErrNotFound if no stream is live.
	Update(ctx context.Context, conversationID string, mutate func(*llm.StreamState) error) (*llm.StreamState, error)

	// Get returns a snapshot or domain.ErrNotFound.
	Get(ctx context.Context, conversationID string) (*llm.StreamState, error)

	// Unregister removes the entry unconditionally and closes subscriptions.
	Unregister(ctx context.Context, conversationID string) error

	// Subscribe yields the current snapshot and then every later one. Slow
	// readers only see the latest snapshot. The channel closes on Unregister
	// or when ctx is done.
	Subscribe(ctx context.Context, conversationID string) (<-chan *llm.StreamState, error)
}

func notFound(conversationID string) error {
	return &domain.NotFoundError{Message: fmt.Sprintf("no live stream for conversation %s", conversationID)}
}

// offerLatest delivers s without blocking, replacing an unread snapshot.
// Callers must be the channel's only sender.
func offerLatest(ch chan *llm.StreamState, s *llm.StreamState) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
