package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/handler/stream"
	"relay/internal/httputil"
)

// AssistantMessageIDHeader carries the id the assistant reply will be
// persisted under, so consumers can reconcile without parsing the body.
const AssistantMessageIDHeader = "X-Assistant-Message-Id"

// StreamHandler serves the chunk stream and its reattach endpoints.
type StreamHandler struct {
	streamingService llmSvc.StreamingService
	config           *stream.Config
	logger           *slog.Logger
}

// NewStreamHandler creates a new stream handler. A nil config uses defaults.
func NewStreamHandler(streamingService llmSvc.StreamingService, config *stream.Config, logger *slog.Logger) *StreamHandler {
	if config == nil {
		config = stream.DefaultConfig()
	}
	return &StreamHandler{
		streamingService: streamingService,
		config:           config,
		logger:           logger,
	}
}

// Stream starts a response and writes its chunks as they are produced.
// POST /api/conversations/{id}/stream
//
// Failures before the stream is accepted are ordinary problem responses.
// After the 200 everything is reported in-band. A client that goes away
// only detaches; the stream still finishes and persists.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
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

	lw, err := stream.NewLineWriter(w)
	if err != nil {
		h.logger.Error("streaming unsupported by response writer", "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	handle, err := h.streamingService.Start(r.Context(), &req)
	if err != nil {
		h.logStartError(conversationID, err)
		handleError(w, err)
		return
	}

	lw.WriteHeader(map[string]string{AssistantMessageIDHeader: handle.AssistantMessageID()})

	err = stream.Pump(r.Context(), lw, handle.Chunks(), h.config, h.logger)
	if err != nil {
		handle.Detach()
		h.logger.Info("stream consumer detached",
			"conversation_id", conversationID,
			"assistant_message_id", handle.AssistantMessageID(),
			"reason", err,
		)
		return
	}

	h.logger.Debug("stream response finished",
		"conversation_id", conversationID,
		"assistant_message_id", handle.AssistantMessageID(),
	)
}

// State returns the live registry snapshot for polling consumers.
// GET /api/conversations/{id}/stream/state
// 404 when no stream is live.
func (h *StreamHandler) State(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	state, err := h.ownedSnapshot(r.Context(), conversationID, httputil.GetUserID(r))
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, state)
}

// Live reattaches to a running stream. The first content frame holds all
// text so far; later frames carry new suffixes.
// GET /api/conversations/{id}/stream/live
func (h *StreamHandler) Live(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	state, err := h.ownedSnapshot(r.Context(), conversationID, httputil.GetUserID(r))
	if err != nil {
		handleError(w, err)
		return
	}

	lw, err := stream.NewLineWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	chunks, err := h.streamingService.Follow(r.Context(), conversationID)
	if err != nil {
		handleError(w, err)
		return
	}

	lw.WriteHeader(map[string]string{AssistantMessageIDHeader: state.AssistantMessageID})

	if err := stream.Pump(r.Context(), lw, chunks, h.config, h.logger); err != nil {
		h.logger.Debug("live follower left", "conversation_id", conversationID, "reason", err)
	}
}

// ownedSnapshot hides streams of other users behind a 404.
func (h *StreamHandler) ownedSnapshot(ctx context.Context, conversationID, userID string) (*llmModels.StreamState, error) {
	state, err := h.streamingService.Snapshot(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if state.UserID != "" && state.UserID != userID {
		return nil, &domain.NotFoundError{Message: "no live stream for conversation " + conversationID}
	}
	return state, nil
}

func (h *StreamHandler) logStartError(conversationID string, err error) {
	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode() < http.StatusInternalServerError {
		h.logger.Info("stream rejected", "conversation_id", conversationID, "error", err)
		return
	}
	h.logger.Error("stream setup failed", "conversation_id", conversationID, "error", err)
}
