package handler

import (
	"log/slog"
	"net/http"

	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/httputil"
)

// ConversationHandler handles conversation HTTP requests
type ConversationHandler struct {
	conversationService llmSvc.ConversationService
	logger              *slog.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversationService llmSvc.ConversationService, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		logger:              logger,
	}
}

// CreateConversation creates a new conversation
// POST /api/conversations
// Returns 201 if created, 409 with the existing conversation if the id is taken
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)

	var req llmSvc.CreateConversationRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.UserID = userID

	conversation, err := h.conversationService.CreateConversation(r.Context(), &req)
	if err != nil {
		HandleCreateConflict(w, err, func(id string) (*llmModels.Conversation, error) {
			return h.conversationService.GetConversation(r.Context(), id, userID)
		})
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, conversation)
}

// GetConversation retrieves a single conversation by ID
// GET /api/conversations/{id}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	conversation, err := h.conversationService.GetConversation(r.Context(), conversationID, httputil.GetUserID(r))
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, conversation)
}

// ListMessages returns the canonical transcript in order
// GET /api/conversations/{id}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	messages, err := h.conversationService.ListMessages(r.Context(), conversationID, httputil.GetUserID(r))
	if err != nil {
		handleError(w, err)
		return
	}
	if messages == nil {
		messages = []llmModels.Message{}
	}

	httputil.RespondJSON(w, http.StatusOK, messages)
}

// updateConversationBody uses OptionalString so an explicit null clears the title.
type updateConversationBody struct {
	Title httputil.OptionalString `json:"title"`
}

// UpdateConversation updates a conversation's title
// PATCH /api/conversations/{id}
func (h *ConversationHandler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	var body updateConversationBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req := &llmSvc.UpdateConversationRequest{
		TitlePresent: body.Title.Present,
		Title:        body.Title.Value,
	}
	conversation, err := h.conversationService.UpdateConversation(r.Context(), conversationID, httputil.GetUserID(r), req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, conversation)
}
