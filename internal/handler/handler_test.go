package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/handler/stream"
	"relay/internal/httputil"
	"relay/internal/protocol"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeHandle struct {
	id       string
	chunks   chan llmModels.Chunk
	mu       sync.Mutex
	detached bool
}

func (h *fakeHandle) AssistantMessageID() string     { return h.id }
func (h *fakeHandle) Chunks() <-chan llmModels.Chunk { return h.chunks }

func (h *fakeHandle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = true
}

func (h *fakeHandle) wasDetached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

type fakeStreaming struct {
	handle   *fakeHandle
	startErr error
	started  *llmSvc.StreamRequest
	states   map[string]*llmModels.StreamState
	follow   []llmModels.Chunk
}

func (f *fakeStreaming) Start(ctx context.Context, req *llmSvc.StreamRequest) (llmSvc.StreamHandle, error) {
	f.started = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.handle, nil
}

func (f *fakeStreaming) Snapshot(ctx context.Context, conversationID string) (*llmModels.StreamState, error) {
	state, ok := f.states[conversationID]
	if !ok {
		return nil, &domain.NotFoundError{Message: "no live stream"}
	}
	return state.Clone(), nil
}

func (f *fakeStreaming) Follow(ctx context.Context, conversationID string) (<-chan llmModels.Chunk, error) {
	out := make(chan llmModels.Chunk, len(f.follow))
	for _, c := range f.follow {
		out <- c
	}
	close(out)
	return out, nil
}

func closedChunks(chunks ...llmModels.Chunk) chan llmModels.Chunk {
	ch := make(chan llmModels.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func newStreamMux(svc llmSvc.StreamingService) *http.ServeMux {
	h := NewStreamHandler(svc, &stream.Config{}, discard)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversations/{id}/stream", h.Stream)
	mux.HandleFunc("GET /api/conversations/{id}/stream/state", h.State)
	mux.HandleFunc("GET /api/conversations/{id}/stream/live", h.Live)
	return mux
}

func asUser(r *http.Request, userID string) *http.Request {
	return httputil.WithUserID(r, userID)
}

func decodeBody(t *testing.T, body string) []llmModels.Chunk {
	t.Helper()
	r := protocol.NewReader(strings.NewReader(body))
	var chunks []llmModels.Chunk
	for {
		c, err := r.Next()
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
}

const streamBody = `{"model":"lorem-fast","messages":[{"role":"user","content":"hi"}]}`

func TestStream_WritesChunks(t *testing.T) {
	svc := &fakeStreaming{handle: &fakeHandle{
		id: "asst-1",
		chunks: closedChunks(
			llmModels.ContentChunk("Hello"),
			llmModels.ContentChunk(" world"),
			llmModels.UsageChunk(llmModels.Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}),
		),
	}}

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/stream", strings.NewReader(streamBody)), "user-1")
	rec := httptest.NewRecorder()
	newStreamMux(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "asst-1", rec.Header().Get(AssistantMessageIDHeader))

	require.NotNil(t, svc.started)
	assert.Equal(t, "conv-1", svc.started.ConversationID)
	assert.Equal(t, "user-1", svc.started.UserID)
	assert.Equal(t, "lorem-fast", svc.started.Model)

	chunks := decodeBody(t, rec.Body.String())
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hello", chunks[0].Text)
	assert.Equal(t, " world", chunks[1].Text)
	assert.Equal(t, llmModels.ControlUsage, chunks[2].Control.Type)
	assert.False(t, svc.handle.wasDetached())
}

func TestStream_PreStreamErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{name: "malformed body", body: `{"messages":`, want: http.StatusBadRequest},
		{name: "validation", body: streamBody, startErr: &domain.ValidationError{Message: "messages is required"}, want: http.StatusBadRequest},
		{name: "unsupported model", body: streamBody, startErr: &domain.UnsupportedModelError{Model: "nope"}, want: http.StatusBadRequest},
		{name: "already streaming", body: streamBody, startErr: &domain.AlreadyStreamingError{ConversationID: "conv-1"}, want: http.StatusConflict},
		{name: "setup failure", body: streamBody, startErr: errors.New("provider setup: no key"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeStreaming{startErr: tt.startErr}
			req := asUser(httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/stream", strings.NewReader(tt.body)), "user-1")
			rec := httptest.NewRecorder()
			newStreamMux(svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.Empty(t, rec.Header().Get(AssistantMessageIDHeader))
		})
	}
}

func TestStream_ClientGoneDetaches(t *testing.T) {
	handle := &fakeHandle{id: "asst-1", chunks: make(chan llmModels.Chunk)}
	svc := &fakeStreaming{handle: handle}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := asUser(httptest.NewRequestWithContext(ctx, http.MethodPost, "/api/conversations/conv-1/stream", strings.NewReader(streamBody)), "user-1")
	rec := httptest.NewRecorder()
	newStreamMux(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, handle.wasDetached())
}

func TestState(t *testing.T) {
	state := llmModels.NewStreamState("conv-1", "asst-1", "hi", "lorem-fast")
	state.UserID = "user-1"
	state.AppendText("partial")
	svc := &fakeStreaming{states: map[string]*llmModels.StreamState{"conv-1": state}}

	tests := []struct {
		name         string
		conversation string
		user         string
		want         int
	}{
		{name: "live", conversation: "conv-1", user: "user-1", want: http.StatusOK},
		{name: "no stream", conversation: "conv-2", user: "user-1", want: http.StatusNotFound},
		{name: "other user", conversation: "conv-1", user: "user-2", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asUser(httptest.NewRequest(http.MethodGet, "/api/conversations/"+tt.conversation+"/stream/state", nil), tt.user)
			rec := httptest.NewRecorder()
			newStreamMux(svc).ServeHTTP(rec, req)

			require.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusOK {
				return
			}
			var got llmModels.StreamState
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, "partial", got.AccumulatedText)
			assert.Equal(t, llmModels.StreamStreaming, got.Status)
			assert.Equal(t, "asst-1", got.AssistantMessageID)
			assert.Empty(t, got.UserID)
		})
	}
}

func TestLive(t *testing.T) {
	state := llmModels.NewStreamState("conv-1", "asst-1", "hi", "lorem-fast")
	state.UserID = "user-1"
	svc := &fakeStreaming{
		states: map[string]*llmModels.StreamState{"conv-1": state},
		follow: []llmModels.Chunk{llmModels.ContentChunk("one two "), llmModels.ContentChunk("three")},
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/stream/live", nil), "user-1")
	rec := httptest.NewRecorder()
	newStreamMux(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "asst-1", rec.Header().Get(AssistantMessageIDHeader))
	chunks := decodeBody(t, rec.Body.String())
	require.Len(t, chunks, 2)
	assert.Equal(t, "one two three", chunks[0].Text+chunks[1].Text)

	req = asUser(httptest.NewRequest(http.MethodGet, "/api/conversations/conv-9/stream/live", nil), "user-1")
	rec = httptest.NewRecorder()
	newStreamMux(svc).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeConversationService struct {
	existing  *llmModels.Conversation
	createErr error
	update    *llmSvc.UpdateConversationRequest
}

func (f *fakeConversationService) CreateConversation(ctx context.Context, req *llmSvc.CreateConversationRequest) (*llmModels.Conversation, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &llmModels.Conversation{ID: "new", UserID: req.UserID, Title: req.Title}, nil
}

func (f *fakeConversationService) GetConversation(ctx context.Context, conversationID, userID string) (*llmModels.Conversation, error) {
	if f.existing != nil && f.existing.ID == conversationID && f.existing.UserID == userID {
		return f.existing, nil
	}
	return nil, &domain.NotFoundError{Message: "conversation not found"}
}

func (f *fakeConversationService) ListMessages(ctx context.Context, conversationID, userID string) ([]llmModels.Message, error) {
	if _, err := f.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeConversationService) UpdateConversation(ctx context.Context, conversationID, userID string, req *llmSvc.UpdateConversationRequest) (*llmModels.Conversation, error) {
	f.update = req
	return f.GetConversation(ctx, conversationID, userID)
}

func (f *fakeConversationService) CheckAccess(ctx context.Context, conversationID, userID string) error {
	if f.existing != nil && f.existing.ID == conversationID && f.existing.UserID != userID {
		return &domain.NotFoundError{Message: "conversation not found"}
	}
	return nil
}

func (f *fakeConversationService) PersistExchange(ctx context.Context, exchange *llmSvc.Exchange) error {
	return nil
}

func newConversationMux(svc llmSvc.ConversationService) *http.ServeMux {
	h := NewConversationHandler(svc, discard)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversations", h.CreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}", h.GetConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.ListMessages)
	mux.HandleFunc("PATCH /api/conversations/{id}", h.UpdateConversation)
	return mux
}

func TestCreateConversation_ConflictReturnsExisting(t *testing.T) {
	title := "Existing"
	svc := &fakeConversationService{
		existing:  &llmModels.Conversation{ID: "conv-1", UserID: "user-1", Title: &title, MessageCount: 4},
		createErr: &domain.ConflictError{Message: "conversation exists", ResourceType: "conversation", ResourceID: "conv-1"},
	}

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{"id":"conv-1"}`)), "user-1")
	rec := httptest.NewRecorder()
	newConversationMux(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var got llmModels.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 4, got.MessageCount)
}

func TestUpdateConversation_TitlePresence(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantPresent bool
		wantTitle   *string
	}{
		{name: "absent", body: `{}`, wantPresent: false},
		{name: "null clears", body: `{"title":null}`, wantPresent: true},
		{name: "value sets", body: `{"title":"Trip plans"}`, wantPresent: true, wantTitle: strPtr("Trip plans")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeConversationService{existing: &llmModels.Conversation{ID: "conv-1", UserID: "user-1"}}
			req := asUser(httptest.NewRequest(http.MethodPatch, "/api/conversations/conv-1", strings.NewReader(tt.body)), "user-1")
			rec := httptest.NewRecorder()
			newConversationMux(svc).ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			require.NotNil(t, svc.update)
			assert.Equal(t, tt.wantPresent, svc.update.TitlePresent)
			assert.Equal(t, tt.wantTitle, svc.update.Title)
		})
	}
}

func TestListMessages(t *testing.T) {
	svc := &fakeConversationService{existing: &llmModels.Conversation{ID: "conv-1", UserID: "user-1"}}

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages", nil), "user-1")
	rec := httptest.NewRecorder()
	newConversationMux(svc).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	req = asUser(httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages", nil), "user-2")
	rec = httptest.NewRecorder()
	newConversationMux(svc).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func strPtr(s string) *string { return &s }
