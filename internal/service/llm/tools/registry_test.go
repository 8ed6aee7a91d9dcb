package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	llmSvc "relay/internal/domain/services/llm"
)

// mockTool is a test implementation of Tool.
type mockTool struct {
	name       string
	delay      time.Duration
	shouldFail bool
	execCount  int
	mu         sync.Mutex
}

func (m *mockTool) Definition() llmSvc.ToolDefinition {
	return llmSvc.ToolDefinition{Name: m.name, Description: "mock"}
}

func (m *mockTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	m.mu.Lock()
	m.execCount++
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.shouldFail {
		return nil, errors.New("mock tool failed")
	}

	return map[string]interface{}{
		"tool":  m.name,
		"input": input,
	}, nil
}

func TestToolRegistry_RegisterAndGet(t *testing.T) {
	registry := NewToolRegistry()
	tool := &mockTool{name: "test_tool"}

	registry.Register(tool)

	if registry.Get("test_tool") != tool {
		t.Error("Get returned different tool instance")
	}
	if registry.Get("non_existent") != nil {
		t.Error("Get returned non-nil for non-existent tool")
	}

	// Re-registering replaces without duplicating the definition.
	registry.Register(&mockTool{name: "test_tool"})
	if n := len(registry.Definitions()); n != 1 {
		t.Errorf("expected 1 definition, got %d", n)
	}
}

func TestToolRegistry_DefinitionsKeepRegistrationOrder(t *testing.T) {
	registry := NewToolRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		registry.Register(&mockTool{name: name})
	}

	var names []string
	for _, def := range registry.Definitions() {
		names = append(names, def.Name)
	}
	if got := strings.Join(names, ","); got != "zeta,alpha,mid" {
		t.Errorf("definitions order = %s", got)
	}
}

func TestToolRegistry_Execute(t *testing.T) {
	registry := NewToolRegistry()
	ctx := context.Background()

	t.Run("successful execution", func(t *testing.T) {
		registry.Register(&mockTool{name: "success_tool"})

		outcome := registry.Execute(ctx, llmSvc.ToolCall{
			ID:    "call_1",
			Name:  "success_tool",
			Input: map[string]interface{}{"param": "value"},
		})

		if outcome.Err != nil {
			t.Errorf("expected success, got error: %v", outcome.Err)
		}
		if outcome.CallID != "call_1" {
			t.Errorf("expected ID 'call_1', got %s", outcome.CallID)
		}
		result := outcome.ToResult()
		if result.IsError || !strings.Contains(result.Content, `"param":"value"`) {
			t.Errorf("unexpected tool result: %+v", result)
		}
	})

	t.Run("tool not found", func(t *testing.T) {
		outcome := registry.Execute(ctx, llmSvc.ToolCall{ID: "call_2", Name: "non_existent_tool"})

		if outcome.Err == nil {
			t.Fatal("expected error for non-existent tool")
		}
		result := outcome.ToResult()
		if !result.IsError || result.CallID != "call_2" {
			t.Errorf("unexpected tool result: %+v", result)
		}
	})

	t.Run("tool execution failure", func(t *testing.T) {
		registry.Register(&mockTool{name: "fail_tool", shouldFail: true})

		outcome := registry.Execute(ctx, llmSvc.ToolCall{ID: "call_3", Name: "fail_tool"})
		if outcome.Err == nil {
			t.Error("expected error for failed tool execution")
		}
		if !strings.Contains(outcome.ToResult().Content, "mock tool failed") {
			t.Errorf("error not rendered into tool result: %s", outcome.ToResult().Content)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		tool := &mockTool{name: "slow_tool", delay: 500 * time.Millisecond}
		registry.Register(tool)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		outcome := registry.Execute(ctx, llmSvc.ToolCall{ID: "call_4", Name: "slow_tool"})
		if !errors.Is(outcome.Err, context.Canceled) {
			t.Errorf("expected context.Canceled error, got: %v", outcome.Err)
		}
	})
}

func TestToolRegistry_ExecuteParallel(t *testing.T) {
	t.Run("empty calls", func(t *testing.T) {
		registry := NewToolRegistry()
		if results := registry.ExecuteParallel(context.Background(), nil); len(results) != 0 {
			t.Errorf("expected 0 results, got %d", len(results))
		}
	})

	t.Run("parallel execution is faster than serial", func(t *testing.T) {
		registry := NewToolRegistry()
		var calls []llmSvc.ToolCall
		for i := 0; i < 3; i++ {
			name := fmt.Sprintf("tool_%d", i)
			registry.Register(&mockTool{name: name, delay: 100 * time.Millisecond})
			calls = append(calls, llmSvc.ToolCall{ID: fmt.Sprintf("call_%d", i), Name: name})
		}

		start := time.Now()
		results := registry.ExecuteParallel(context.Background(), calls)
		elapsed := time.Since(start)

		if elapsed > 250*time.Millisecond {
			t.Errorf("parallel execution took too long: %v", elapsed)
		}
		for i, result := range results {
			if result.Err != nil {
				t.Errorf("result %d has error: %v", i, result.Err)
			}
		}
	})

	t.Run("order preservation and isolated failures", func(t *testing.T) {
		registry := NewToolRegistry()
		registry.Register(&mockTool{name: "slow", delay: 50 * time.Millisecond})
		registry.Register(&mockTool{name: "broken", shouldFail: true})
		registry.Register(&mockTool{name: "fast", delay: 5 * time.Millisecond})

		calls := []llmSvc.ToolCall{
			{ID: "call_0", Name: "slow"},
			{ID: "call_1", Name: "broken"},
			{ID: "call_2", Name: "fast"},
		}
		results := registry.ExecuteParallel(context.Background(), calls)

		if len(results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(results))
		}
		for i, result := range results {
			if result.CallID != calls[i].ID {
				t.Errorf("result %d: expected ID %s, got %s", i, calls[i].ID, result.CallID)
			}
		}
		if results[0].Err != nil || results[2].Err != nil {
			t.Error("a failing tool must not affect its siblings")
		}
		if results[1].Err == nil {
			t.Error("expected error from broken tool")
		}
	})
}
