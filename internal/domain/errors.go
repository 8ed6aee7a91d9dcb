package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure
	UnauthorizedError struct {
		Message string
	}

	// ForbiddenError indicates authorization failure
	ForbiddenError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string     { return e.Message }
func (e *ValidationError) Error() string   { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Message }
func (e *ForbiddenError) Error() string    { return e.Message }

func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }
func (e *ForbiddenError) StatusCode() int    { return http.StatusForbidden }

func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrAlreadyStreaming = errors.New("conversation already has a live stream")
	ErrExhaustedRetries = errors.New("provider retries exhausted")
	ErrProtocolParse    = errors.New("malformed protocol frame")
	ErrUnsupportedModel = errors.New("unsupported model")
)

// ConflictError represents a resource conflict with details about the existing resource
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (conversation, message)
	ResourceID   string // ID of the existing/conflicting resource
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// AlreadyStreamingError is returned by the stream registry when a conversation
// already owns a live stream. No provider call has been made when it is raised.
type AlreadyStreamingError struct {
	ConversationID string
}

func (e *AlreadyStreamingError) Error() string {
	return fmt.Sprintf("conversation %s already has a live stream", e.ConversationID)
}

func (e *AlreadyStreamingError) StatusCode() int {
	return http.StatusConflict
}

// Is matches both ErrAlreadyStreaming and the generic ErrConflict.
func (e *AlreadyStreamingError) Is(target error) bool {
	return target == ErrAlreadyStreaming || target == ErrConflict
}

// UnsupportedModelError is raised before any bytes are written when the
// requested model is not in the catalog or no provider serves it.
type UnsupportedModelError struct {
	Model  string
	Reason string
}

func (e *UnsupportedModelError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported model %q", e.Model)
	}
	return fmt.Sprintf("unsupported model %q: %s", e.Model, e.Reason)
}

func (e *UnsupportedModelError) StatusCode() int {
	return http.StatusBadRequest
}

func (e *UnsupportedModelError) Is(target error) bool {
	return target == ErrUnsupportedModel || target == ErrValidation
}

// ProtocolParseError describes a single frame that could not be decoded.
// Readers log it and continue with the next frame.
type ProtocolParseError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ProtocolParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse frame %q: %s: %v", truncate(e.Line, 64), e.Reason, e.Err)
	}
	return fmt.Sprintf("parse frame %q: %s", truncate(e.Line, 64), e.Reason)
}

func (e *ProtocolParseError) Unwrap() error { return e.Err }

func (e *ProtocolParseError) Is(target error) bool {
	return target == ErrProtocolParse
}

// ProviderError wraps a failed upstream call for one attempt.
type ProviderError struct {
	Provider string
	Attempt  int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider failed on attempt %d: %v", e.Provider, e.Attempt, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ExhaustedRetriesError is the terminal outcome of the retry orchestrator.
// By the time callers see it, a final control:error chunk has been emitted.
type ExhaustedRetriesError struct {
	Attempts   int
	MaxRetries int
	Last       error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("exhausted %d/%d attempts: %v", e.Attempts, e.MaxRetries, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

func (e *ExhaustedRetriesError) Is(target error) bool {
	return target == ErrExhaustedRetries
}

// PersistenceError marks a failed best-effort write after a completed stream.
// It is logged and never changes the in-band outcome.
type PersistenceError struct {
	ConversationID string
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist conversation %s: %v", e.ConversationID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
