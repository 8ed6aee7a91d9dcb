// Package toolcall runs the provider <-> tool round-trip loop inside one
// outbound stream. Each provider round is delegated to the retry
// orchestrator; tool calls in one round execute in parallel.
package toolcall

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/service/llm/retry"
	"relay/internal/service/llm/tools"
)

// State is the multiplexer's position in the tool loop.
type State string

const (
	StateAwaitingProvider   State = "awaiting_provider"
	StateAwaitingToolResult State = "awaiting_tool_result"
	StateDone               State = "done"
	StateError              State = "error"
)

// errBudgetExhausted is reported to the model for calls dropped by the budget.
var errBudgetExhausted = errors.New("tool call budget exhausted; answer with the information you already have")

// Result summarizes a finished tool loop.
type Result struct {
	// Text is everything emitted as content across all rounds.
	Text   string
	Usage  llmModels.Usage
	Search *llmModels.SearchMetadata

	Rounds         int
	ToolCallsUsed  int
	IterationsUsed int
	Trace          []State
}

// Multiplexer drives repeated provider round-trips under a ToolBudget.
type Multiplexer struct {
	orchestrator *retry.Orchestrator
	registry     *tools.ToolRegistry
	logger       *slog.Logger
}

// NewMultiplexer creates a multiplexer. A nil or empty registry offers no tools.
func NewMultiplexer(orchestrator *retry.Orchestrator, registry *tools.ToolRegistry, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		orchestrator: orchestrator,
		registry:     registry,
		logger:       logger,
	}
}

// Run loops until the provider answers without tool calls. Once either budget
// counter reaches zero the next round is forced to answer, so the loop makes
// at most min(MaxIterations, MaxToolCalls)+1 provider rounds. Budget
// exhaustion never ends in StateError; only exhausted retries do.
func (m *Multiplexer) Run(
	ctx context.Context,
	provider llmSvc.LLMProvider,
	req *llmSvc.CompletionRequest,
	budget llmSvc.ToolBudget,
	emit retry.EmitFunc,
	observe retry.AttemptObserver,
) (*Result, error) {
	var definitions []llmSvc.ToolDefinition
	if m.registry != nil {
		definitions = m.registry.Definitions()
	}

	remaining := budget
	messages := append([]llmSvc.Message(nil), req.Messages...)
	result := &Result{Trace: []State{StateAwaitingProvider}}
	search := newSearchCollector()

	var text []byte
	collect := func(c llmModels.Chunk) {
		if c.Kind == llmModels.ChunkContent {
			text = append(text, c.Text...)
		}
		emit(c)
	}

	for {
		round := *req
		round.Messages = messages
		round.Tools = definitions
		round.ForceFinalAnswer = len(definitions) > 0 && (remaining.MaxIterations <= 0 || remaining.MaxToolCalls <= 0)

		res, err := m.orchestrator.Run(ctx, provider, &round, collect, observe)
		result.Rounds++
		result.Text = string(text)
		if err != nil {
			result.Trace = append(result.Trace, StateError)
			result.Search = search.metadata()
			return result, err
		}
		if res.Usage != nil {
			result.Usage = result.Usage.Add(*res.Usage)
		}

		if len(res.ToolCalls) == 0 || len(definitions) == 0 || round.ForceFinalAnswer {
			if len(res.ToolCalls) > 0 {
				m.logger.Warn("provider requested tools after budget exhaustion, ignoring",
					"model", req.Model,
					"requested", len(res.ToolCalls),
				)
			}
			result.Trace = append(result.Trace, StateDone)
			result.Search = search.metadata()
			return result, nil
		}

		result.Trace = append(result.Trace, StateAwaitingToolResult)
		calls := assignCallIDs(res.ToolCalls)

		allowed := min(len(calls), remaining.MaxToolCalls)
		remaining.MaxToolCalls -= allowed
		result.ToolCallsUsed += allowed

		outcomes := m.registry.ExecuteParallel(ctx, calls[:allowed])
		for _, dropped := range calls[allowed:] {
			outcomes = append(outcomes, tools.Outcome{CallID: dropped.ID, Name: dropped.Name, Err: errBudgetExhausted})
		}
		if err := ctx.Err(); err != nil {
			result.Trace = append(result.Trace, StateError)
			result.Search = search.metadata()
			return result, err
		}

		toolResults := make([]llmSvc.ToolResult, len(outcomes))
		for i, outcome := range outcomes {
			toolResults[i] = outcome.ToResult()
			search.add(outcome)
			if outcome.Err != nil {
				m.logger.Debug("tool call failed",
					"tool", outcome.Name,
					"call_id", outcome.CallID,
					"error", outcome.Err,
				)
			}
		}

		messages = append(messages,
			llmSvc.Message{Role: llmModels.RoleAssistant, Content: res.Text, ToolCalls: calls},
			llmSvc.Message{Role: llmModels.RoleUser, ToolResults: toolResults},
		)

		remaining.MaxIterations--
		result.IterationsUsed++
		result.Trace = append(result.Trace, StateAwaitingProvider)

		m.logger.Debug("tool round complete",
			"model", req.Model,
			"round", result.Rounds,
			"calls", len(calls),
			"executed", allowed,
			"iterations_left", remaining.MaxIterations,
			"tool_calls_left", remaining.MaxToolCalls,
		)
	}
}

// assignCallIDs fills ids for providers that do not issue them.
func assignCallIDs(calls []llmSvc.ToolCall) []llmSvc.ToolCall {
	out := make([]llmSvc.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		out[i] = call
	}
	return out
}
