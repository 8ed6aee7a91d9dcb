package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"relay/internal/config"
	"relay/internal/streamregistry"
)

// openStreamRegistry shares live stream state through Redis when REDIS_URL
// is set, so any instance can serve state and live requests.
func openStreamRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (streamregistry.Store, func(), error) {
	if cfg.Redis.URL == "" {
		logger.Info("stream registry ready", "backend", "memory")
		return streamregistry.NewMemoryStore(), func() {}, nil
	}

	opts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.ReadTimeout = cfg.Redis.ReadTimeout
	opts.WriteTimeout = cfg.Redis.WriteTimeout
	opts.DialTimeout = cfg.Redis.DialTimeout

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("stream registry ready", "backend", "redis", "addr", opts.Addr)

	store := streamregistry.NewRedisStore(client, streamregistry.RedisOptions{
		KeyPrefix: streamregistry.DefaultKeyPrefix + cfg.TablePrefix,
		StateTTL:  cfg.Redis.StateTTL,
		Logger:    logger,
	})
	return store, func() { _ = client.Close() }, nil
}
