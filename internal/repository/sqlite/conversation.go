package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmRepo "relay/internal/domain/repositories/llm"
)

// ConversationRepository implements llmRepo.ConversationRepository on SQLite.
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a conversation repository.
func NewConversationRepository(db *DB) llmRepo.ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) CreateConversation(ctx context.Context, conv *llmModels.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	conv.UpdatedAt = conv.CreatedAt

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, title, message_count, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, r.db.table("conversations"))

	_, err := r.db.executor(ctx).ExecContext(ctx, query,
		conv.ID, conv.UserID, conv.Title, toMillis(conv.CreatedAt), toMillis(conv.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("conversation %s already exists", conv.ID),
				ResourceType: "conversation",
				ResourceID:   conv.ID,
			}
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetConversation(ctx context.Context, conversationID, userID string) (*llmModels.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, title, message_count, created_at, updated_at
		FROM %s
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, r.db.table("conversations"))

	var (
		conv             llmModels.Conversation
		title            sql.NullString
		created, updated int64
	)
	err := r.db.executor(ctx).QueryRowContext(ctx, query, conversationID, userID).Scan(
		&conv.ID,
		&conv.UserID,
		&title,
		&conv.MessageCount,
		&created,
		&updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("conversation", conversationID)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if title.Valid {
		conv.Title = &title.String
	}
	conv.CreatedAt = fromMillis(created)
	conv.UpdatedAt = fromMillis(updated)
	return &conv, nil
}

func (r *ConversationRepository) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = ?)`, r.db.table("conversations"))

	var exists bool
	if err := r.db.executor(ctx).QueryRowContext(ctx, query, conversationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return exists, nil
}

func (r *ConversationRepository) EnsureConversation(ctx context.Context, conversationID, userID string) error {
	now := toMillis(time.Now())
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, message_count, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, r.db.table("conversations"))

	if _, err := r.db.executor(ctx).ExecContext(ctx, query, conversationID, userID, now, now); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	_, err := r.GetConversation(ctx, conversationID, userID)
	return err
}

func (r *ConversationRepository) UpdateTitle(ctx context.Context, conversationID, userID string, title *string) (*llmModels.Conversation, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET title = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, r.db.table("conversations"))

	res, err := r.db.executor(ctx).ExecContext(ctx, query, title, toMillis(time.Now()), conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("update conversation title: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound("conversation", conversationID)
	}
	return r.GetConversation(ctx, conversationID, userID)
}
