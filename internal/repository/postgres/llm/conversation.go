package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmRepo "relay/internal/domain/repositories/llm"
	"relay/internal/repository/postgres"
)

// PostgresConversationRepository implements ConversationRepository using PostgreSQL
type PostgresConversationRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewConversationRepository creates a new PostgresConversationRepository
func NewConversationRepository(config *postgres.RepositoryConfig) llmRepo.ConversationRepository {
	return &PostgresConversationRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func (r *PostgresConversationRepository) CreateConversation(ctx context.Context, conv *llmModels.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, title, message_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5)
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return postgres.TranslateError(err, "conversation", conv.ID)
	}
	return nil
}

func (r *PostgresConversationRepository) GetConversation(ctx context.Context, conversationID, userID string) (*llmModels.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, title, message_count, created_at, updated_at, deleted_at
		FROM %s
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, r.tables.Conversations)

	var conv llmModels.Conversation
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, conversationID, userID).Scan(
		&conv.ID,
		&conv.UserID,
		&conv.Title,
		&conv.MessageCount,
		&conv.CreatedAt,
		&conv.UpdatedAt,
		&conv.DeletedAt,
	)
	if err != nil {
		return nil, postgres.TranslateError(err, "conversation", conversationID)
	}
	return &conv, nil
}

func (r *PostgresConversationRepository) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, r.tables.Conversations)

	var exists bool
	executor := postgres.GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, conversationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return exists, nil
}

func (r *PostgresConversationRepository) EnsureConversation(ctx context.Context, conversationID, userID string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, message_count, created_at, updated_at)
		VALUES ($1, $2, 0, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, conversationID, userID); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}

	// The row may predate this call; it must still belong to userID.
	if _, err := r.GetConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	return nil
}

func (r *PostgresConversationRepository) UpdateTitle(ctx context.Context, conversationID, userID string, title *string) (*llmModels.Conversation, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, conversationID, userID, title)
	if err != nil {
		return nil, fmt.Errorf("update conversation title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("conversation %s not found", conversationID)}
	}
	return r.GetConversation(ctx, conversationID, userID)
}
