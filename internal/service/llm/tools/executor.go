package tools

import (
	"context"

	llmSvc "relay/internal/domain/services/llm"
)

// Tool is an executable capability offered to the model.
// Implementations must be safe for concurrent use and respect ctx cancellation.
type Tool interface {
	// Definition describes the tool to the provider.
	Definition() llmSvc.ToolDefinition

	// Execute runs the tool with the input the model supplied.
	// The returned value must be JSON-serializable.
	Execute(ctx context.Context, input map[string]interface{}) (interface{}, error)
}
