// Package gemini adapts Google's genai SDK to the LLMProvider interface.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"relay/internal/domain/models/llm"
	domainllm "relay/internal/domain/services/llm"
)

// Provider implements LLMProvider for Gemini models.
type Provider struct {
	client *genai.Client
}

// NewProvider creates a Gemini provider using the Gemini API backend.
func NewProvider(ctx context.Context, apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "gemini-")
}

// StreamCompletion streams one Gemini response.
func (p *Provider) StreamCompletion(ctx context.Context, req *domainllm.CompletionRequest) (<-chan domainllm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by Gemini provider", req.Model)
	}

	contents, config, err := buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	eventChan := make(chan domainllm.StreamEvent, 10)

	go func() {
		defer close(eventChan)

		send := func(event domainllm.StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case eventChan <- event:
				return true
			}
		}

		var (
			calls      []domainllm.ToolCall
			usage      *llm.Usage
			stopReason = domainllm.StopReasonEndTurn
		)

		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				send(domainllm.StreamEvent{Error: fmt.Errorf("gemini streaming error: %w", err)})
				return
			}

			if text := textOf(resp); text != "" {
				if !send(domainllm.StreamEvent{Delta: text}) {
					return
				}
			}

			for _, fc := range resp.FunctionCalls() {
				calls = append(calls, domainllm.ToolCall{ID: fc.ID, Name: fc.Name, Input: fc.Args})
			}

			if md := resp.UsageMetadata; md != nil {
				u := llm.NewUsage(int(md.PromptTokenCount), int(md.CandidatesTokenCount))
				if md.TotalTokenCount > 0 {
					u.TotalTokens = int(md.TotalTokenCount)
				}
				usage = &u
			}

			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
				stopReason = domainllm.StopReasonMaxTokens
			}
		}

		if len(calls) > 0 {
			stopReason = domainllm.StopReasonToolUse
		}
		send(domainllm.StreamEvent{ToolCalls: calls, Usage: usage, StopReason: stopReason})
	}()

	return eventChan, nil
}

// textOf concatenates the non-thought text parts of the first candidate.
func textOf(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func buildRequest(req *domainllm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	system := req.System
	contents := make([]*genai.Content, 0, len(req.Messages))

	for i, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case llm.RoleUser:
			parts := make([]*genai.Part, 0, 1+len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       result.CallID,
					Name:     result.Name,
					Response: toolResponse(result),
				}})
			}
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			if len(parts) == 0 {
				return nil, nil, fmt.Errorf("message %d: empty user message", i)
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

		case llm.RoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Input,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		default:
			return nil, nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
	}

	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(req.Tools)}}
		if req.ForceFinalAnswer {
			config.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone},
			}
		}
	}

	return contents, config, nil
}

// toolResponse wraps tool output the way Gemini expects: an "output" or
// "error" key holding the decoded JSON.
func toolResponse(result domainllm.ToolResult) map[string]any {
	var decoded any
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		decoded = result.Content
	}
	if result.IsError {
		return map[string]any{"error": decoded}
	}
	return map[string]any{"output": decoded}
}

func convertTools(defs []domainllm.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(def.Parameters)),
		}
		for _, param := range def.Parameters {
			schema.Properties[param.Name] = &genai.Schema{
				Type:        schemaType(param.Type),
				Description: param.Description,
				Enum:        param.Enum,
			}
			if param.Required {
				schema.Required = append(schema.Required, param.Name)
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schema,
		})
	}
	return out
}

func schemaType(jsonType string) genai.Type {
	switch jsonType {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
