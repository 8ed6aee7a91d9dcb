package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	llmModels "relay/internal/domain/models/llm"
	llmRepo "relay/internal/domain/repositories/llm"
	"relay/internal/repository/postgres"
)

// PostgresUsageRepository implements UsageRepository using PostgreSQL
type PostgresUsageRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewUsageRepository creates a new PostgresUsageRepository
func NewUsageRepository(config *postgres.RepositoryConfig) llmRepo.UsageRepository {
	return &PostgresUsageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func (r *PostgresUsageRepository) CreateUsageRecord(ctx context.Context, rec *llmModels.UsageRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, user_id, provider, model, attempt, success,
			prompt_tokens, completion_tokens, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.tables.UsageRecords)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		rec.ID,
		rec.ConversationID,
		rec.UserID,
		rec.Provider,
		rec.Model,
		rec.Attempt,
		rec.Success,
		rec.PromptTokens,
		rec.OutputTokens,
		rec.Error,
		rec.CreatedAt,
	)
	if err != nil {
		return postgres.TranslateError(err, "usage record", rec.ID)
	}
	return nil
}
