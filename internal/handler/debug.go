package handler

// debug.go - endpoints that are always compiled but only registered when
// ENVIRONMENT=dev

import (
	"log/slog"
	"net/http"

	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/httputil"
	"relay/internal/service/llm/streaming"
)

// StreamDebugHandler exposes request previews for local development.
// WARNING: never register these routes in production. The preview contains
// the full prompt, including attachment context.
type StreamDebugHandler struct {
	streamingService *streaming.Service
	logger           *slog.Logger
}

// NewStreamDebugHandler creates a new debug handler
func NewStreamDebugHandler(streamingService *streaming.Service, logger *slog.Logger) *StreamDebugHandler {
	return &StreamDebugHandler{
		streamingService: streamingService,
		logger:           logger,
	}
}

// PreviewRequest returns the provider request a stream body would produce,
// without calling the provider or touching the registry.
// POST /debug/api/conversations/{id}/llm-request
func (h *StreamDebugHandler) PreviewRequest(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	var req llmSvc.StreamRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ConversationID = conversationID
	req.UserID = httputil.GetUserID(r)

	preview, err := h.streamingService.PreviewRequest(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, preview)
}
