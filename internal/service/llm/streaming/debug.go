package streaming

// debug.go - builds the provider-facing request for a hypothetical stream
// without registering or contacting the provider. Served only in dev.

import (
	"context"
	"fmt"

	llmSvc "relay/internal/domain/services/llm"
)

// RequestPreview is what Start would send on the first provider round.
type RequestPreview struct {
	Provider string                    `json:"provider"`
	Model    string                    `json:"model"`
	Request  *llmSvc.CompletionRequest `json:"request"`
	Tools    bool                      `json:"tools"`
	Budget   *llmSvc.ToolBudget        `json:"budget,omitempty"`

	// Payload is the provider's own wire body, when the provider can render it.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// payloadPreviewer is implemented by providers that can render their wire
// body offline.
type payloadPreviewer interface {
	PreviewPayload(ctx context.Context, req *llmSvc.CompletionRequest) (map[string]interface{}, error)
}

// PreviewRequest runs validation, model resolution and attachment fetching
// exactly as Start does and returns the resulting request.
func (s *Service) PreviewRequest(ctx context.Context, req *llmSvc.StreamRequest) (*RequestPreview, error) {
	if req.Model == "" {
		req.Model = s.defaultModel
	}
	if err := validateStreamRequest(req); err != nil {
		return nil, err
	}

	r, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	preview := &RequestPreview{
		Provider: r.provider.Name(),
		Model:    r.model,
		Request:  r.request,
		Tools:    r.useTools,
	}
	if r.useTools {
		budget := r.budget
		preview.Budget = &budget
	}
	if previewer, ok := r.provider.(payloadPreviewer); ok {
		payload, err := previewer.PreviewPayload(ctx, r.request)
		if err != nil {
			return nil, fmt.Errorf("render %s payload: %w", r.provider.Name(), err)
		}
		preview.Payload = payload
	}
	return preview, nil
}
