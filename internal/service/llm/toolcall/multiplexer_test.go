package toolcall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/service/llm/retry"
	"relay/internal/service/llm/tools"
	"relay/internal/service/llm/tools/external"
)

// greedyProvider asks for callsPerRound web searches every round until it is
// forced to answer.
type greedyProvider struct {
	mu            sync.Mutex
	callsPerRound int
	noCallIDs     bool
	requests      []llmSvc.CompletionRequest
}

func (p *greedyProvider) Name() string               { return "greedy" }
func (p *greedyProvider) SupportsModel(string) bool { return true }

func (p *greedyProvider) StreamCompletion(ctx context.Context, req *llmSvc.CompletionRequest) (<-chan llmSvc.StreamEvent, error) {
	p.mu.Lock()
	round := len(p.requests)
	p.requests = append(p.requests, *req)
	p.mu.Unlock()

	ch := make(chan llmSvc.StreamEvent, 4)
	go func() {
		defer close(ch)
		usage := llmModels.NewUsage(10, 5)
		if req.ForceFinalAnswer || len(req.Tools) == 0 {
			ch <- llmSvc.StreamEvent{Delta: "final answer"}
			ch <- llmSvc.StreamEvent{Usage: &usage, StopReason: llmSvc.StopReasonEndTurn}
			return
		}

		calls := make([]llmSvc.ToolCall, p.callsPerRound)
		for i := range calls {
			calls[i] = llmSvc.ToolCall{
				Name:  tools.WebSearchToolName,
				Input: map[string]interface{}{"query": fmt.Sprintf("q%d-%d", round, i)},
			}
			if !p.noCallIDs {
				calls[i].ID = fmt.Sprintf("toolu_%d_%d", round, i)
			}
		}
		ch <- llmSvc.StreamEvent{Delta: "searching. "}
		ch <- llmSvc.StreamEvent{ToolCalls: calls, Usage: &usage, StopReason: llmSvc.StopReasonToolUse}
	}()
	return ch, nil
}

func (p *greedyProvider) rounds() []llmSvc.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llmSvc.CompletionRequest(nil), p.requests...)
}

// countingSearch returns the same two URLs for every query.
type countingSearch struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSearch) Search(ctx context.Context, query string, opts external.SearchOptions) (*external.SearchResponse, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return &external.SearchResponse{Query: query, Results: []external.SearchResult{
		{Title: "A", URL: "https://a.example", Snippet: "a"},
		{Title: "B", URL: "https://b.example", Snippet: "b"},
	}}, nil
}

func (c *countingSearch) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestMultiplexer(search external.SearchClient) *Multiplexer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := retry.NewOrchestrator(retry.Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}, logger)
	registry := tools.NewToolRegistryBuilder().WithWebSearch(search).Build()
	return NewMultiplexer(orch, registry, logger)
}

func TestRun_LowEffortMakesOneCallAndOneIteration(t *testing.T) {
	search := &countingSearch{}
	mux := newTestMultiplexer(search)
	provider := &greedyProvider{callsPerRound: 3}

	var chunks []llmModels.Chunk
	result, err := mux.Run(context.Background(), provider, &llmSvc.CompletionRequest{Model: "m"},
		llmSvc.LowEffortBudget, func(c llmModels.Chunk) { chunks = append(chunks, c) }, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, search.count(), "exactly one tool call executes")
	assert.Equal(t, 1, result.ToolCallsUsed)
	assert.Equal(t, 1, result.IterationsUsed)
	assert.Equal(t, 2, result.Rounds)
	assert.Equal(t, "searching. final answer", result.Text)
	assert.Equal(t, llmModels.NewUsage(20, 10), result.Usage)
	assert.Equal(t, []State{StateAwaitingProvider, StateAwaitingToolResult, StateAwaitingProvider, StateDone}, result.Trace)

	rounds := provider.rounds()
	require.Len(t, rounds, 2)
	assert.False(t, rounds[0].ForceFinalAnswer)
	assert.True(t, rounds[1].ForceFinalAnswer)
	assert.NotEmpty(t, rounds[1].Tools, "tools stay defined when answering is forced")

	// Second round sees the assistant tool calls and all three results,
	// two of them budget errors.
	history := rounds[1].Messages
	require.Len(t, history, 2)
	assert.Len(t, history[0].ToolCalls, 3)
	require.Len(t, history[1].ToolResults, 3)
	assert.False(t, history[1].ToolResults[0].IsError)
	assert.True(t, history[1].ToolResults[1].IsError)
	assert.True(t, history[1].ToolResults[2].IsError)
}

func TestRun_BudgetTerminationBound(t *testing.T) {
	tests := []struct {
		name          string
		budget        llmSvc.ToolBudget
		callsPerRound int
	}{
		{name: "iterations bind", budget: llmSvc.ToolBudget{MaxIterations: 2, MaxToolCalls: 10}, callsPerRound: 1},
		{name: "tool calls bind", budget: llmSvc.ToolBudget{MaxIterations: 10, MaxToolCalls: 3}, callsPerRound: 1},
		{name: "wide rounds", budget: llmSvc.ToolBudget{MaxIterations: 5, MaxToolCalls: 5}, callsPerRound: 2},
		{name: "zero budget", budget: llmSvc.ToolBudget{}, callsPerRound: 1},
		{name: "high preset", budget: llmSvc.ToolBudget{MaxIterations: 5, MaxToolCalls: 5}, callsPerRound: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			search := &countingSearch{}
			mux := newTestMultiplexer(search)
			provider := &greedyProvider{callsPerRound: tt.callsPerRound}

			result, err := mux.Run(context.Background(), provider, &llmSvc.CompletionRequest{},
				tt.budget, func(llmModels.Chunk) {}, nil)
			require.NoError(t, err)

			bound := min(tt.budget.MaxIterations, tt.budget.MaxToolCalls) + 1
			assert.LessOrEqual(t, result.Rounds, bound)
			assert.LessOrEqual(t, result.ToolCallsUsed, tt.budget.MaxToolCalls)
			assert.LessOrEqual(t, result.IterationsUsed, tt.budget.MaxIterations)
			assert.Equal(t, result.ToolCallsUsed, search.count())
			assert.Equal(t, StateDone, result.Trace[len(result.Trace)-1])
		})
	}
}

func TestRun_SearchMetadataDedupesByURL(t *testing.T) {
	mux := newTestMultiplexer(&countingSearch{})
	provider := &greedyProvider{callsPerRound: 2}

	result, err := mux.Run(context.Background(), provider, &llmSvc.CompletionRequest{},
		llmSvc.ToolBudget{MaxIterations: 2, MaxToolCalls: 4}, func(llmModels.Chunk) {}, nil)
	require.NoError(t, err)

	require.NotNil(t, result.Search)
	assert.Equal(t, "q0-0", result.Search.Query)
	require.Len(t, result.Search.Results, 2)
	assert.Equal(t, "https://a.example", result.Search.Results[0].URL)
	assert.Equal(t, "https://b.example", result.Search.Results[1].URL)
}

func TestRun_AssignsMissingCallIDs(t *testing.T) {
	mux := newTestMultiplexer(&countingSearch{})
	provider := &greedyProvider{callsPerRound: 1, noCallIDs: true}

	_, err := mux.Run(context.Background(), provider, &llmSvc.CompletionRequest{},
		llmSvc.LowEffortBudget, func(llmModels.Chunk) {}, nil)
	require.NoError(t, err)

	history := provider.rounds()[1].Messages
	callID := history[0].ToolCalls[0].ID
	assert.NotEmpty(t, callID)
	assert.Equal(t, callID, history[1].ToolResults[0].CallID)
}

func TestRun_NoToolsIsSingleRound(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := NewMultiplexer(retry.NewOrchestrator(retry.DefaultPolicy(), logger), nil, logger)
	provider := &greedyProvider{callsPerRound: 1}

	result, err := mux.Run(context.Background(), provider, &llmSvc.CompletionRequest{},
		llmSvc.ToolBudget{MaxIterations: 5, MaxToolCalls: 5}, func(llmModels.Chunk) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rounds)
	assert.Nil(t, result.Search)
	assert.False(t, provider.rounds()[0].ForceFinalAnswer)
}

// failingProvider fails every call.
type failingProvider struct{}

func (failingProvider) Name() string               { return "failing" }
func (failingProvider) SupportsModel(string) bool { return true }
func (failingProvider) StreamCompletion(context.Context, *llmSvc.CompletionRequest) (<-chan llmSvc.StreamEvent, error) {
	return nil, errors.New("503")
}

func TestRun_ExhaustedRetriesEndsInError(t *testing.T) {
	mux := newTestMultiplexer(&countingSearch{})

	var errorChunks int
	result, err := mux.Run(context.Background(), failingProvider{}, &llmSvc.CompletionRequest{},
		llmSvc.LowEffortBudget, func(c llmModels.Chunk) {
			if c.IsTerminalError() {
				errorChunks++
			}
		}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExhaustedRetries))
	assert.Equal(t, 1, errorChunks)
	assert.Equal(t, StateError, result.Trace[len(result.Trace)-1])
}
