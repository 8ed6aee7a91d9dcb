package anthropic

import (
	"encoding/json"
	"fmt"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"relay/internal/domain/models/llm"
	domainllm "relay/internal/domain/services/llm"
)

// toLibraryRequest converts a relay request into the library's block-based
// request. System messages are folded into the system prompt.
func toLibraryRequest(req *domainllm.CompletionRequest) (*llmprovider.GenerateRequest, error) {
	system := req.System
	messages := make([]llmprovider.Message, 0, len(req.Messages))

	for i, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case llm.RoleUser:
			blocks := make([]*llmprovider.Block, 0, 1+len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				content := result.Content
				blocks = append(blocks, &llmprovider.Block{
					BlockType:   llmprovider.BlockTypeToolResult,
					TextContent: &content,
					Content: map[string]interface{}{
						"tool_use_id": result.CallID,
						"is_error":    result.IsError,
					},
				})
			}
			if msg.Content != "" {
				blocks = append(blocks, textBlock(msg.Content))
			}
			if len(blocks) == 0 {
				return nil, fmt.Errorf("message %d: empty user message", i)
			}
			messages = append(messages, llmprovider.Message{Role: "user", Blocks: blocks})

		case llm.RoleAssistant:
			blocks := make([]*llmprovider.Block, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, textBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Input
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, &llmprovider.Block{
					BlockType: llmprovider.BlockTypeToolUse,
					Content: map[string]interface{}{
						"tool_use_id": call.ID,
						"tool_name":   call.Name,
						"input":       input,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, llmprovider.Message{Role: "assistant", Blocks: blocks})

		default:
			return nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := &llmprovider.RequestParams{
		MaxTokens:   &maxTokens,
		Temperature: req.Temperature,
	}
	if system != "" {
		params.System = &system
	}

	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
		if req.ForceFinalAnswer {
			choice, err := llmprovider.NewToolChoice(llmprovider.ToolChoiceModeNone)
			if err != nil {
				return nil, err
			}
			params.ToolChoice = choice
		}
	}

	if err := llmprovider.ValidateRequestParams(params); err != nil {
		return nil, err
	}

	return &llmprovider.GenerateRequest{
		Messages: messages,
		Model:    req.Model,
		Params:   params,
	}, nil
}

func textBlock(text string) *llmprovider.Block {
	return &llmprovider.Block{BlockType: llmprovider.BlockTypeText, TextContent: &text}
}

// convertTools renders flat tool parameters as JSON schema function tools.
// "required" is a []interface{} because that is what the library reads.
func convertTools(defs []domainllm.ToolDefinition) ([]llmprovider.Tool, error) {
	out := make([]llmprovider.Tool, 0, len(defs))
	for _, def := range defs {
		properties := make(map[string]interface{}, len(def.Parameters))
		required := []interface{}{}
		for _, param := range def.Parameters {
			prop := map[string]interface{}{"type": param.Type}
			if param.Description != "" {
				prop["description"] = param.Description
			}
			if len(param.Enum) > 0 {
				prop["enum"] = param.Enum
			}
			properties[param.Name] = prop
			if param.Required {
				required = append(required, param.Name)
			}
		}

		tool, err := llmprovider.NewCustomTool(def.Name, def.Description, map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		})
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Name, err)
		}
		out = append(out, *tool)
	}
	return out, nil
}

// toolCallFromBlock extracts a relay tool call from a completed tool_use block.
func toolCallFromBlock(block *llmprovider.Block) (domainllm.ToolCall, error) {
	id, _ := block.GetToolUseID()
	name, _ := block.GetToolName()

	input := map[string]interface{}{}
	switch raw := block.Content["input"].(type) {
	case map[string]interface{}:
		input = raw
	case json.RawMessage:
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &input); err != nil {
				return domainllm.ToolCall{}, fmt.Errorf("tool_use %s: invalid input: %w", id, err)
			}
		}
	case []byte:
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &input); err != nil {
				return domainllm.ToolCall{}, fmt.Errorf("tool_use %s: invalid input: %w", id, err)
			}
		}
	}

	return domainllm.ToolCall{ID: id, Name: name, Input: input}, nil
}

// normalizeStopReason maps Anthropic stop reasons onto the shared set.
func normalizeStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return domainllm.StopReasonToolUse
	case "max_tokens":
		return domainllm.StopReasonMaxTokens
	default:
		return domainllm.StopReasonEndTurn
	}
}
