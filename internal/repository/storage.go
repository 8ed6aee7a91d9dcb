// Package repository selects the persistence backend from configuration.
package repository

import (
	"context"
	"log/slog"

	"relay/internal/config"
	"relay/internal/domain/repositories"
	llmRepo "relay/internal/domain/repositories/llm"
	"relay/internal/repository/postgres"
	postgresLLM "relay/internal/repository/postgres/llm"
	"relay/internal/repository/sqlite"
)

// Storage bundles the repositories of whichever backend is configured.
type Storage struct {
	Conversations llmRepo.ConversationRepository
	Messages      llmRepo.MessageRepository
	Usage         llmRepo.UsageRepository
	TxManager     repositories.TransactionManager

	// Driver is "postgres" or "sqlite".
	Driver string

	reset func(ctx context.Context) error
	close func()
}

// Open connects to Postgres when DATABASE_URL is set and falls back to a
// local SQLite file otherwise. The schema is ensured in both cases.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	if cfg.DatabaseURL == "" {
		return openSQLite(ctx, cfg, logger)
	}

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool, cfg.TablePrefix); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected",
		"driver", "postgres",
		"max_conns", pool.Config().MaxConns,
		"min_conns", pool.Config().MinConns,
	)

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: postgres.NewTableNames(cfg.TablePrefix),
		Logger: logger,
	}
	return &Storage{
		Conversations: postgresLLM.NewConversationRepository(repoConfig),
		Messages:      postgresLLM.NewMessageRepository(repoConfig),
		Usage:         postgresLLM.NewUsageRepository(repoConfig),
		TxManager:     postgres.NewTransactionManager(repoConfig),
		Driver:        "postgres",
		reset: func(ctx context.Context) error {
			if err := postgres.DropSchema(ctx, pool, cfg.TablePrefix); err != nil {
				return err
			}
			return postgres.EnsureSchema(ctx, pool, cfg.TablePrefix)
		},
		close: pool.Close,
	}, nil
}

func openSQLite(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	db, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.TablePrefix, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected", "driver", "sqlite", "path", cfg.SQLitePath)

	return &Storage{
		Conversations: sqlite.NewConversationRepository(db),
		Messages:      sqlite.NewMessageRepository(db),
		Usage:         sqlite.NewUsageRepository(db),
		TxManager:     sqlite.NewTransactionManager(db),
		Driver:        "sqlite",
		reset:         db.Reset,
		close:         func() { _ = db.Close() },
	}, nil
}

// Reset drops all tables and recreates an empty schema.
func (s *Storage) Reset(ctx context.Context) error {
	return s.reset(ctx)
}

// Close releases the underlying connections.
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}
