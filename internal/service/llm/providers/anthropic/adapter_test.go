package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	llmprovider "github.com/haowjy/meridian-llm-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"relay/internal/domain/models/llm"
	domainllm "relay/internal/domain/services/llm"
)

func searchTool() domainllm.ToolDefinition {
	return domainllm.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web",
		Parameters: []domainllm.ToolParameter{
			{Name: "query", Type: "string", Required: true},
			{Name: "topic", Type: "string", Enum: []string{"general", "news"}},
		},
	}
}

// scriptedLibrary replays fixed library events.
type scriptedLibrary struct {
	events   []llmprovider.StreamEvent
	startErr error
	got      *llmprovider.GenerateRequest
}

func (s *scriptedLibrary) GenerateResponse(context.Context, *llmprovider.GenerateRequest) (*llmprovider.GenerateResponse, error) {
	return nil, errors.New("not used")
}

func (s *scriptedLibrary) StreamResponse(_ context.Context, req *llmprovider.GenerateRequest) (<-chan llmprovider.StreamEvent, error) {
	s.got = req
	if s.startErr != nil {
		return nil, s.startErr
	}
	ch := make(chan llmprovider.StreamEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *scriptedLibrary) Name() llmprovider.ProviderID { return llmprovider.ProviderAnthropic }
func (s *scriptedLibrary) SupportsModel(model string) bool {
	return len(model) > 7 && model[:7] == "claude-"
}

func textDelta(text string) llmprovider.StreamEvent {
	return llmprovider.StreamEvent{Delta: &llmprovider.BlockDelta{DeltaType: llmprovider.DeltaTypeText, TextDelta: &text}}
}

func previewBody(t *testing.T, req *domainllm.CompletionRequest) gjson.Result {
	t.Helper()
	p := NewProviderWith(&scriptedLibrary{})
	payload, err := p.PreviewPayload(context.Background(), req)
	require.NoError(t, err)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return gjson.ParseBytes(raw)
}

func TestPreviewPayload_ToolLoopTranscript(t *testing.T) {
	body := previewBody(t, &domainllm.CompletionRequest{
		Model:  "claude-haiku-4-5",
		System: "be brief",
		Messages: []domainllm.Message{
			{Role: llm.RoleSystem, Content: "cite sources"},
			{Role: llm.RoleUser, Content: "news on go?"},
			{Role: llm.RoleAssistant, ToolCalls: []domainllm.ToolCall{
				{ID: "toolu_1", Name: "web_search", Input: map[string]interface{}{"query": "go news"}},
			}},
			{Role: llm.RoleUser, ToolResults: []domainllm.ToolResult{
				{CallID: "toolu_1", Name: "web_search", Content: `{"results":[]}`},
			}},
		},
		Tools: []domainllm.ToolDefinition{searchTool()},
	})

	assert.Equal(t, "claude-haiku-4-5", body.Get("model").String())
	assert.Equal(t, int64(defaultMaxTokens), body.Get("max_tokens").Int())
	assert.Equal(t, "be brief\n\ncite sources", body.Get("system.0.text").String())

	messages := body.Get("messages").Array()
	require.Len(t, messages, 3)
	assert.Equal(t, "tool_use", messages[1].Get("content.0.type").String())
	assert.Equal(t, "go news", messages[1].Get("content.0.input.query").String())
	assert.Equal(t, "tool_result", messages[2].Get("content.0.type").String())
	assert.Equal(t, "toolu_1", messages[2].Get("content.0.tool_use_id").String())

	assert.Equal(t, "web_search", body.Get("tools.0.name").String())
	assert.Equal(t, "query", body.Get("tools.0.input_schema.required.0").String())
	assert.Equal(t, "news", body.Get("tools.0.input_schema.properties.topic.enum.1").String())
	assert.False(t, body.Get("tool_choice").Exists())
}

func TestPreviewPayload_ForceFinalAnswerKeepsTools(t *testing.T) {
	body := previewBody(t, &domainllm.CompletionRequest{
		Model:            "claude-haiku-4-5",
		Messages:         []domainllm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Tools:            []domainllm.ToolDefinition{searchTool()},
		ForceFinalAnswer: true,
	})

	assert.Equal(t, "none", body.Get("tool_choice.type").String())
	assert.Equal(t, "web_search", body.Get("tools.0.name").String())
}

func TestToLibraryRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  *domainllm.CompletionRequest
	}{
		{"unknown role", &domainllm.CompletionRequest{Messages: []domainllm.Message{{Role: "tool", Content: "x"}}}},
		{"empty user message", &domainllm.CompletionRequest{Messages: []domainllm.Message{{Role: llm.RoleUser}}}},
		{"temperature out of range", &domainllm.CompletionRequest{
			Messages:    []domainllm.Message{{Role: llm.RoleUser, Content: "x"}},
			Temperature: ptr(3.5),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := toLibraryRequest(tt.req)
			assert.Error(t, err)
		})
	}
}

func TestStreamCompletion_MapsLibraryEvents(t *testing.T) {
	lib := &scriptedLibrary{events: []llmprovider.StreamEvent{
		textDelta("Let me "),
		{Delta: &llmprovider.BlockDelta{DeltaType: llmprovider.DeltaTypeThinking, TextDelta: ptr("hmm")}},
		textDelta("check."),
		{Block: &llmprovider.Block{BlockType: llmprovider.BlockTypeText, TextContent: ptr("Let me check.")}},
		{Block: &llmprovider.Block{
			BlockType: llmprovider.BlockTypeToolUse,
			Content: map[string]interface{}{
				"tool_use_id": "toolu_9",
				"tool_name":   "web_search",
				"input":       json.RawMessage(`{"query":"relay"}`),
			},
		}},
		{Metadata: &llmprovider.StreamMetadata{InputTokens: 11, OutputTokens: 4, StopReason: "tool_use"}},
	}}
	p := NewProviderWith(lib)

	events, err := p.StreamCompletion(context.Background(), &domainllm.CompletionRequest{
		Model:    "claude-haiku-4-5",
		Messages: []domainllm.Message{{Role: llm.RoleUser, Content: "search relay"}},
	})
	require.NoError(t, err)

	var text string
	var final domainllm.StreamEvent
	for ev := range events {
		require.NoError(t, ev.Error)
		text += ev.Delta
		if ev.Usage != nil {
			final = ev
		}
	}

	assert.Equal(t, "Let me check.", text)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "toolu_9", final.ToolCalls[0].ID)
	assert.Equal(t, "web_search", final.ToolCalls[0].Name)
	assert.Equal(t, "relay", final.ToolCalls[0].Input["query"])
	assert.Equal(t, 15, final.Usage.TotalTokens)
	assert.Equal(t, domainllm.StopReasonToolUse, final.StopReason)

	require.NotNil(t, lib.got)
	assert.Equal(t, "claude-haiku-4-5", lib.got.Model)
}

func TestStreamCompletion_Failures(t *testing.T) {
	tests := []struct {
		name string
		lib  *scriptedLibrary
	}{
		{"mid-stream error", &scriptedLibrary{events: []llmprovider.StreamEvent{
			textDelta("partial"),
			{Error: errors.New("overloaded")},
		}}},
		{"closed without metadata", &scriptedLibrary{events: []llmprovider.StreamEvent{textDelta("partial")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := NewProviderWith(tt.lib).StreamCompletion(context.Background(), &domainllm.CompletionRequest{
				Model:    "claude-haiku-4-5",
				Messages: []domainllm.Message{{Role: llm.RoleUser, Content: "hi"}},
			})
			require.NoError(t, err)

			var last error
			for ev := range events {
				if ev.Error != nil {
					last = ev.Error
				}
			}
			assert.Error(t, last)
		})
	}

	_, err := NewProviderWith(&scriptedLibrary{startErr: errors.New("refused")}).StreamCompletion(context.Background(), &domainllm.CompletionRequest{
		Model:    "claude-haiku-4-5",
		Messages: []domainllm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	assert.Error(t, err)
}

func TestSupportsModel(t *testing.T) {
	p, err := NewProvider("sk-test")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, p.SupportsModel("claude-sonnet-4-5"))
	assert.False(t, p.SupportsModel("gemini-2.5-flash"))

	_, err = p.StreamCompletion(context.Background(), &domainllm.CompletionRequest{Model: "gemini-2.5-flash"})
	assert.Error(t, err)

	_, err = NewProvider("")
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
