package llm

import "context"

// Reasoning effort presets. They are the only externally visible knob on the
// tool loop budget.
const (
	ReasoningEffortHigh = "high"
	ReasoningEffortLow  = "low"
)

// ToolBudget bounds one request's tool loop.
type ToolBudget struct {
	MaxIterations int
	MaxToolCalls  int
}

// LowEffortBudget is fixed: one search, one continuation.
var LowEffortBudget = ToolBudget{MaxIterations: 1, MaxToolCalls: 1}

// ToolBudgetResolver resolves the tool budget for a user and effort preset.
// This interface allows swapping between different strategies:
// - ConfigToolBudgetResolver: static "high" budget for all users (current)
// - a tier-based resolver reading user metadata
type ToolBudgetResolver interface {
	ResolveBudget(ctx context.Context, userID, effort string) (ToolBudget, error)
}

// ConfigToolBudgetResolver returns the configured high budget for every user.
type ConfigToolBudgetResolver struct {
	high ToolBudget
}

// NewConfigToolBudgetResolver creates a resolver with the given "high" preset.
func NewConfigToolBudgetResolver(high ToolBudget) *ConfigToolBudgetResolver {
	return &ConfigToolBudgetResolver{high: high}
}

// ResolveBudget maps "low" to LowEffortBudget and anything else to the high preset.
func (r *ConfigToolBudgetResolver) ResolveBudget(ctx context.Context, userID, effort string) (ToolBudget, error) {
	if effort == ReasoningEffortLow {
		return LowEffortBudget, nil
	}
	return r.high, nil
}
