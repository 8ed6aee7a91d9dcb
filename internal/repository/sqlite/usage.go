package sqlite

import (
	"context"
	"fmt"

	llmModels "relay/internal/domain/models/llm"
	llmRepo "relay/internal/domain/repositories/llm"
)

// UsageRepository implements llmRepo.UsageRepository on SQLite.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a usage repository.
func NewUsageRepository(db *DB) llmRepo.UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) CreateUsageRecord(ctx context.Context, rec *llmModels.UsageRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, user_id, provider, model, attempt, success,
			prompt_tokens, completion_tokens, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.db.table("usage_records"))

	_, err := r.db.executor(ctx).ExecContext(ctx, query,
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
		toMillis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create usage record: %w", err)
	}
	return nil
}
