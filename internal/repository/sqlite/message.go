package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	llmModels "relay/internal/domain/models/llm"
	llmRepo "relay/internal/domain/repositories/llm"
)

// MessageRepository implements llmRepo.MessageRepository on SQLite.
// token_usage and search_metadata are stored as JSON text.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a message repository.
func NewMessageRepository(db *DB) llmRepo.MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) CreateMessage(ctx context.Context, msg *llmModels.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	usage, err := nullJSON(msg.TokenUsage)
	if err != nil {
		return fmt.Errorf("encode token usage: %w", err)
	}
	search, err := nullJSON(msg.Search)
	if err != nil {
		return fmt.Errorf("encode search metadata: %w", err)
	}

	exec := r.db.executor(ctx)

	bump := fmt.Sprintf(`
		UPDATE %s
		SET message_count = message_count + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
		RETURNING message_count
	`, r.db.table("conversations"))

	var count int
	if err := exec.QueryRowContext(ctx, bump, toMillis(msg.CreatedAt), msg.ConversationID).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("conversation", msg.ConversationID)
		}
		return fmt.Errorf("bump message count: %w", err)
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, position, role, content, token_usage, search_metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.db.table("messages"))

	_, err = exec.ExecContext(ctx, insert,
		msg.ID,
		msg.ConversationID,
		count-1,
		string(msg.Role),
		msg.Content,
		usage,
		search,
		toMillis(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListMessages(ctx context.Context, conversationID string) ([]llmModels.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, role, content, token_usage, search_metadata, created_at
		FROM %s
		WHERE conversation_id = ?
		ORDER BY position
	`, r.db.table("messages"))

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []llmModels.Message{}
	for rows.Next() {
		var (
			msg           llmModels.Message
			role          string
			usage, search sql.NullString
			created       int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &usage, &search, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = llmModels.Role(role)
		msg.CreatedAt = fromMillis(created)

		if usage.Valid {
			msg.TokenUsage = &llmModels.Usage{}
			if err := json.Unmarshal([]byte(usage.String), msg.TokenUsage); err != nil {
				return nil, fmt.Errorf("decode token usage of %s: %w", msg.ID, err)
			}
		}
		if search.Valid {
			msg.Search = &llmModels.SearchMetadata{}
			if err := json.Unmarshal([]byte(search.String), msg.Search); err != nil {
				return nil, fmt.Errorf("decode search metadata of %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// nullJSON encodes v, mapping a nil pointer to SQL NULL.
func nullJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
