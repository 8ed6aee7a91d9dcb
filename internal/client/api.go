package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
)

// APIError is a non-2xx response decoded from an RFC 7807 body.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Title)
}

// Is maps well-known statuses onto the domain sentinels.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusNotFound:
		return target == domain.ErrNotFound
	case http.StatusConflict:
		return target == domain.ErrConflict
	case http.StatusBadRequest:
		return target == domain.ErrValidation
	case http.StatusUnauthorized:
		return target == domain.ErrUnauthorized
	}
	return false
}

// API is a thin HTTP client for the relay server.
type API struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
}

// Option configures an API client.
type Option func(*API)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(a *API) { a.token = token }
}

// WithUserID sets X-User-Id, honoured by servers running dev auth.
func WithUserID(userID string) Option {
	return func(a *API) { a.userID = userID }
}

// WithHTTPClient replaces the default client. Streams need a client without
// an overall timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.http = c }
}

// NewAPI creates a client for baseURL, e.g. http://localhost:8080.
func NewAPI(baseURL string, opts ...Option) *API {
	a := &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StreamResponse is an accepted stream. The caller must close Body.
type StreamResponse struct {
	AssistantMessageID string
	Body               io.ReadCloser
}

// Stream starts a response for the conversation.
func (a *API) Stream(ctx context.Context, conversationID string, req *llmSvc.StreamRequest) (*StreamResponse, error) {
	resp, err := a.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/stream", req)
	if err != nil {
		return nil, err
	}
	return &StreamResponse{
		AssistantMessageID: resp.Header.Get("X-Assistant-Message-Id"),
		Body:               resp.Body,
	}, nil
}

// Live reattaches to a running stream.
func (a *API) Live(ctx context.Context, conversationID string) (*StreamResponse, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/stream/live", nil)
	if err != nil {
		return nil, err
	}
	return &StreamResponse{
		AssistantMessageID: resp.Header.Get("X-Assistant-Message-Id"),
		Body:               resp.Body,
	}, nil
}

// StreamState fetches the live snapshot. It returns (nil, nil) when no
// stream is live.
func (a *API) StreamState(ctx context.Context, conversationID string) (*llmModels.StreamState, error) {
	var state llmModels.StreamState
	err := a.getJSON(ctx, "/api/conversations/"+conversationID+"/stream/state", &state)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// ListMessages fetches the canonical transcript.
func (a *API) ListMessages(ctx context.Context, conversationID string) ([]llmModels.Message, error) {
	var messages []llmModels.Message
	if err := a.getJSON(ctx, "/api/conversations/"+conversationID+"/messages", &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetConversation fetches conversation metadata.
func (a *API) GetConversation(ctx context.Context, conversationID string) (*llmModels.Conversation, error) {
	var conversation llmModels.Conversation
	if err := a.getJSON(ctx, "/api/conversations/"+conversationID, &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (a *API) getJSON(ctx context.Context, path string, dest interface{}) error {
	resp, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends a request and turns non-2xx responses into *APIError.
func (a *API) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if a.userID != "" {
		req.Header.Set("X-User-Id", a.userID)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &problem) == nil {
		if problem.Title != "" {
			apiErr.Title = problem.Title
		}
		apiErr.Detail = problem.Detail
	}
	return nil, apiErr
}
