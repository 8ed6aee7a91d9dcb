package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	llmSvc "relay/internal/domain/services/llm"
)

// Outcome is the result of one tool invocation.
type Outcome struct {
	CallID string
	Name   string
	Output interface{} // nil if Err is set
	Err    error
}

// ToResult renders the outcome as the tool_result sent back to the model.
func (o Outcome) ToResult() llmSvc.ToolResult {
	if o.Err != nil {
		return llmSvc.ToolResult{
			CallID:  o.CallID,
			Name:    o.Name,
			Content: fmt.Sprintf(`{"error":%q}`, o.Err.Error()),
			IsError: true,
		}
	}

	content, err := json.Marshal(o.Output)
	if err != nil {
		return llmSvc.ToolResult{
			CallID:  o.CallID,
			Name:    o.Name,
			Content: fmt.Sprintf(`{"error":%q}`, "unserializable tool output: "+err.Error()),
			IsError: true,
		}
	}
	return llmSvc.ToolResult{CallID: o.CallID, Name: o.Name, Content: string(content)}
}

// ToolRegistry manages tools by name. It is safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool under its definition name, replacing any previous one.
func (r *ToolRegistry) Register(tool Tool) {
	name := tool.Definition().Name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Get returns the named tool or nil.
func (r *ToolRegistry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns tool definitions in registration order.
func (r *ToolRegistry) Definitions() []llmSvc.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llmSvc.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs a single tool call. Unknown tools and execution failures
// are reported in the Outcome, never as a Go error.
func (r *ToolRegistry) Execute(ctx context.Context, call llmSvc.ToolCall) Outcome {
	tool := r.Get(call.Name)
	if tool == nil {
		return Outcome{CallID: call.ID, Name: call.Name, Err: fmt.Errorf("tool not found: %s", call.Name)}
	}

	if err := ctx.Err(); err != nil {
		return Outcome{CallID: call.ID, Name: call.Name, Err: err}
	}

	output, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return Outcome{CallID: call.ID, Name: call.Name, Err: err}
	}
	return Outcome{CallID: call.ID, Name: call.Name, Output: output}
}

// ExecuteParallel runs calls concurrently and returns outcomes in call order.
// One failing tool does not cancel the others.
func (r *ToolRegistry) ExecuteParallel(ctx context.Context, calls []llmSvc.ToolCall) []Outcome {
	outcomes := make([]Outcome, len(calls))
	if len(calls) == 0 {
		return outcomes
	}

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = r.Execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	return outcomes
}
