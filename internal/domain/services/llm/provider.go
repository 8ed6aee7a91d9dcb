package llm

import (
	"context"

	"relay/internal/domain/models/llm"
)

// LLMProvider defines the interface that all upstream model providers implement.
// A provider turns one CompletionRequest into a channel of StreamEvents; the
// channel is closed when the provider call ends, successfully or not.
type LLMProvider interface {
	// Name returns the provider name (e.g., "anthropic", "gemini")
	Name() string

	// SupportsModel returns true if the provider supports the given model.
	SupportsModel(model string) bool

	// StreamCompletion starts one upstream call. An error return means the call
	// could not be started; mid-stream failures arrive as StreamEvent.Error.
	StreamCompletion(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error)
}

// CompletionRequest contains the parameters for one provider round-trip.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64

	// Tools offered to the model for this round.
	Tools []ToolDefinition

	// ForceFinalAnswer keeps the tool definitions (the transcript may reference
	// them) but forbids the model from calling any of them.
	ForceFinalAnswer bool
}

// Message is one provider-facing conversation entry.
type Message struct {
	Role    llm.Role
	Content string

	// ToolCalls made by the assistant in this message.
	ToolCalls []ToolCall

	// ToolResults answering the previous assistant message's tool calls.
	ToolResults []ToolResult
}

// ToolDefinition describes a callable tool in provider-neutral terms.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// ToolParameter is one flat argument of a tool. Type is a JSON schema type.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Enum        []string
	Required    bool
}

// ToolCall is a provider-initiated tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// ToolResult is the answer to one ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// StreamEvent is one item of a provider stream. At most one field is set per
// event except that a final event may carry ToolCalls, Usage and StopReason
// together.
type StreamEvent struct {
	Delta      string
	ToolCalls  []ToolCall
	Usage      *llm.Usage
	StopReason string
	Error      error
}

// Stop reasons normalized across providers.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)
