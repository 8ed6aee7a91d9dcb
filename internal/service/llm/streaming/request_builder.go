package streaming

import (
	"context"
	"fmt"
	"strings"

	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
)

// attachmentContextHeader introduces file-derived context in the latest user message.
const attachmentContextHeader = "Context from attached files:"

// buildCompletionRequest turns a client request into the provider-neutral
// request for the first round. System text from the request field comes
// first, followed by any system-role messages, in order.
func buildCompletionRequest(req *llmSvc.StreamRequest, upstreamModel, attachmentContext string) *llmSvc.CompletionRequest {
	var systemParts []string
	if req.System != nil && strings.TrimSpace(*req.System) != "" {
		systemParts = append(systemParts, *req.System)
	}

	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == llmModels.RoleUser {
			lastUser = i
		}
	}

	messages := make([]llmSvc.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		if m.Role == llmModels.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		content := m.Content
		if i == lastUser && attachmentContext != "" {
			content = withAttachmentContext(attachmentContext, content)
		}
		messages = append(messages, llmSvc.Message{Role: m.Role, Content: content})
	}

	return &llmSvc.CompletionRequest{
		Model:    upstreamModel,
		System:   strings.Join(systemParts, "\n\n"),
		Messages: messages,
	}
}

func withAttachmentContext(attachmentContext, content string) string {
	return fmt.Sprintf("%s\n%s\n\n%s", attachmentContextHeader, attachmentContext, content)
}

// fetchAttachmentContext resolves attachment keys, or returns "" when the
// request carries none.
func (s *Service) fetchAttachmentContext(ctx context.Context, keys []string) (string, error) {
	if len(keys) == 0 {
		return "", nil
	}
	if s.attachments == nil {
		return "", fmt.Errorf("attachments are not configured")
	}
	text, err := s.attachments.FetchContext(ctx, keys)
	if err != nil {
		return "", fmt.Errorf("fetch attachments: %w", err)
	}
	return text, nil
}
