package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	llmModels "relay/internal/domain/models/llm"
	llmRepo "relay/internal/domain/repositories/llm"
	"relay/internal/repository/postgres"
)

// PostgresMessageRepository implements MessageRepository using PostgreSQL.
// token_usage and search_metadata are jsonb; pgx encodes the structs directly.
type PostgresMessageRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewMessageRepository creates a new PostgresMessageRepository
func NewMessageRepository(config *postgres.RepositoryConfig) llmRepo.MessageRepository {
	return &PostgresMessageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateMessage claims the next position by bumping message_count, so
// callers wanting several messages to land together wrap them in ExecTx.
func (r *PostgresMessageRepository) CreateMessage(ctx context.Context, msg *llmModels.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	bump := fmt.Sprintf(`
		UPDATE %s
		SET message_count = message_count + 1, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING message_count
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)

	var count int
	if err := executor.QueryRow(ctx, bump, msg.ConversationID, msg.CreatedAt).Scan(&count); err != nil {
		return postgres.TranslateError(err, "conversation", msg.ConversationID)
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, position, role, content, token_usage, search_metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.Messages)

	_, err := executor.Exec(ctx, insert,
		msg.ID,
		msg.ConversationID,
		count-1,
		string(msg.Role),
		msg.Content,
		msg.TokenUsage,
		msg.Search,
		msg.CreatedAt,
	)
	if err != nil {
		return postgres.TranslateError(err, "message", msg.ID)
	}
	return nil
}

func (r *PostgresMessageRepository) ListMessages(ctx context.Context, conversationID string) ([]llmModels.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, role, content, token_usage, search_metadata, created_at
		FROM %s
		WHERE conversation_id = $1
		ORDER BY position
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []llmModels.Message{}
	for rows.Next() {
		var (
			msg  llmModels.Message
			role string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&role,
			&msg.Content,
			&msg.TokenUsage,
			&msg.Search,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = llmModels.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
