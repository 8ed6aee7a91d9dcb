package streamregistry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"relay/internal/domain"
	"relay/internal/domain/models/llm"
)

const (
	// DefaultKeyPrefix namespaces registry keys and channels.
	DefaultKeyPrefix = "relay:stream:"

	// DefaultStateTTL expires entries whose owner died without unregistering.
	DefaultStateTTL = time.Hour

	maxUpdateRetries = 100
)

// RedisStore shares the registry across server processes. State is stored
// msgpack-encoded under one key per conversation; every change is also
// published on a per-conversation channel. An empty message marks removal.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// RedisOptions configures a RedisStore. Zero values pick the defaults.
type RedisOptions struct {
	KeyPrefix string
	StateTTL  time.Duration
	Logger    *slog.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client goredis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = DefaultStateTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: opts.KeyPrefix,
		ttl:    opts.StateTTL,
		logger: opts.Logger,
	}
}

func (r *RedisStore) key(conversationID string) string {
	return r.prefix + conversationID
}

func (r *RedisStore) channel(conversationID string) string {
	return r.prefix + "events:" + conversationID
}

func encodeState(s *llm.StreamState) ([]byte, error) {
	data, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode stream state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*llm.StreamState, error) {
	var s llm.StreamState
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode stream state: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Register(ctx context.Context, state *llm.StreamState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, r.key(state.ConversationID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("register stream: %w", err)
	}
	if !ok {
		return &domain.AlreadyStreamingError{ConversationID: state.ConversationID}
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, conversationID string, mutate func(*llm.StreamState) error) (*llm.StreamState, error) {
	key := r.key(conversationID)
	var updated *llm.StreamState

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return notFound(conversationID)
		}
		if err != nil {
			return err
		}

		state, err := decodeState(data)
		if err != nil {
			return err
		}
		if err := mutate(state); err != nil {
			return err
		}
		state.UpdatedAt = time.Now().UTC()

		encoded, err := encodeState(state)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, r.ttl)
			pipe.Publish(ctx, r.channel(conversationID), encoded)
			return nil
		})
		if err == nil {
			updated = state
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue // Optimistic lock lost; retry.
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update stream %s: too much contention", conversationID)
}

func (r *RedisStore) Get(ctx context.Context, conversationID string) (*llm.StreamState, error) {
	data, err := r.client.Get(ctx, r.key(conversationID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, notFound(conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return decodeState(data)
}

func (r *RedisStore) Unregister(ctx context.Context, conversationID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, r.key(conversationID))
		pipe.Publish(ctx, r.channel(conversationID), "")
		return nil
	})
	if err != nil {
		return fmt.Errorf("unregister stream: %w", err)
	}
	return nil
}

func (r *RedisStore) Subscribe(ctx context.Context, conversationID string) (<-chan *llm.StreamState, error) {
	// Subscribe before reading the current state so no update falls between.
	pubsub := r.client.Subscribe(ctx, r.channel(conversationID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe stream: %w", err)
	}

	current, err := r.Get(ctx, conversationID)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan *llm.StreamState, 1)
	out <- current

	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok || msg.Payload == "" {
					return
				}
				state, err := decodeState([]byte(msg.Payload))
				if err != nil {
					r.logger.Warn("dropping undecodable stream snapshot",
						"conversation_id", conversationID,
						"error", err,
					)
					continue
				}
				offerLatest(out, state)
			}
		}
	}()

	return out, nil
}
