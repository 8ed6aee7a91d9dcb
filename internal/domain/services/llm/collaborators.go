package llm

import (
	"context"

	"relay/internal/domain/models/llm"
)

// UsageLedger records one provider attempt. Callers invoke it detached from
// the stream; its failure never changes the stream outcome.
type UsageLedger interface {
	Record(ctx context.Context, rec *llm.UsageRecord) error
}

// TitleGenerator names a conversation after its first exchange.
type TitleGenerator interface {
	Generate(ctx context.Context, req *TitleRequest) error
}

// TitleRequest carries what a title generator needs.
type TitleRequest struct {
	ConversationID string
	UserID         string
	Model          string
	UserContent    string
	AssistantReply string
}

// AttachmentFetcher resolves attachment keys to context text.
type AttachmentFetcher interface {
	FetchContext(ctx context.Context, keys []string) (string, error)
}
