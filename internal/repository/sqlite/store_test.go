package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", "test_", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.ensureSchema(context.Background()))
}

func TestConversationRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewConversationRepository(db)

	title := "Planning"
	conv := &llmModels.Conversation{UserID: "alice", Title: &title}
	require.NoError(t, repo.CreateConversation(ctx, conv))
	require.NotEmpty(t, conv.ID)

	got, err := repo.GetConversation(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, got.Title)
	assert.Equal(t, "Planning", *got.Title)
	assert.Equal(t, 0, got.MessageCount)

	_, err = repo.GetConversation(ctx, conv.ID, "bob")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "other users must not see the conversation")

	err = repo.CreateConversation(ctx, &llmModels.Conversation{ID: conv.ID, UserID: "alice"})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	updated, err := repo.UpdateTitle(ctx, conv.ID, "alice", nil)
	require.NoError(t, err)
	assert.Nil(t, updated.Title)

	_, err = repo.UpdateTitle(ctx, "missing", "alice", &title)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestConversationRepository_Ensure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewConversationRepository(db)

	require.NoError(t, repo.EnsureConversation(ctx, "conv-1", "alice"))
	require.NoError(t, repo.EnsureConversation(ctx, "conv-1", "alice"), "second call is a no-op")

	err := repo.EnsureConversation(ctx, "conv-1", "bob")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	exists, err := repo.ConversationExists(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.ConversationExists(ctx, "conv-2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMessageRepository_AppendOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	require.NoError(t, conversations.EnsureConversation(ctx, "conv-1", "alice"))

	usage := llmModels.NewUsage(12, 30)
	search := &llmModels.SearchMetadata{Query: "relay", Results: []llmModels.SearchSource{
		{Title: "Relay", URL: "https://example.com", Snippet: "streams"},
	}}
	now := time.Now()
	for i, m := range []*llmModels.Message{
		{ConversationID: "conv-1", Role: llmModels.RoleUser, Content: "question", CreatedAt: now},
		{ConversationID: "conv-1", Role: llmModels.RoleAssistant, Content: "answer", CreatedAt: now, TokenUsage: &usage, Search: search},
	} {
		require.NoError(t, messages.CreateMessage(ctx, m), "message %d", i)
	}

	list, err := messages.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, llmModels.RoleUser, list[0].Role)
	assert.Nil(t, list[0].TokenUsage)
	assert.Equal(t, "answer", list[1].Content)
	require.NotNil(t, list[1].TokenUsage)
	assert.Equal(t, usage, *list[1].TokenUsage)
	require.NotNil(t, list[1].Search)
	assert.Equal(t, *search, *list[1].Search)

	conv, err := conversations.GetConversation(ctx, "conv-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)

	empty, err := messages.ListMessages(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMessageRepository_MissingConversation(t *testing.T) {
	db := openTestDB(t)
	err := NewMessageRepository(db).CreateMessage(context.Background(), &llmModels.Message{
		ConversationID: "ghost", Role: llmModels.RoleUser, Content: "hi",
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTransactionManager_RollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)
	tm := NewTransactionManager(db)

	require.NoError(t, conversations.EnsureConversation(ctx, "conv-1", "alice"))

	err := tm.ExecTx(ctx, func(txCtx context.Context) error {
		if err := messages.CreateMessage(txCtx, &llmModels.Message{ConversationID: "conv-1", Role: llmModels.RoleUser, Content: "q"}); err != nil {
			return err
		}
		return fmt.Errorf("assistant write failed")
	})
	require.Error(t, err)

	list, err := messages.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, list, "a failed exchange must leave no half-written transcript")

	conv, err := conversations.GetConversation(ctx, "conv-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.MessageCount)
}

func TestUsageRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewUsageRepository(db)

	msg := "overloaded"
	for i, rec := range []*llmModels.UsageRecord{
		{ID: "u1", ConversationID: "conv-1", UserID: "alice", Provider: "lorem", Model: "lorem-flaky", Attempt: 0, Error: &msg, CreatedAt: time.Now()},
		{ID: "u2", ConversationID: "conv-1", UserID: "alice", Provider: "lorem", Model: "lorem-flaky", Attempt: 1, Success: true, PromptTokens: 4, OutputTokens: 9, CreatedAt: time.Now()},
	} {
		require.NoError(t, repo.CreateUsageRecord(ctx, rec), "record %d", i)
	}

	var count, tokens int
	err := db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(completion_tokens) FROM test_usage_records WHERE conversation_id = ?`, "conv-1",
	).Scan(&count, &tokens)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 9, tokens)
}
