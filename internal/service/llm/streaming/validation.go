package streaming

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"relay/internal/config"
	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
)

func validateStreamRequest(req *llmSvc.StreamRequest) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.ConversationID, validation.Required, validation.Length(1, 128)),
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.Messages,
			validation.Required,
			validation.Length(1, config.MaxMessagesPerRequest),
			validation.Each(validation.By(validateChatMessage)),
		),
		validation.Field(&req.ReasoningEffort, validation.In(llmSvc.ReasoningEffortHigh, llmSvc.ReasoningEffortLow)),
		validation.Field(&req.Attachments,
			validation.Length(0, config.MaxAttachmentsPerRequest),
			validation.Each(validation.Required),
		),
	)
	if err != nil {
		return &domain.ValidationError{Message: err.Error()}
	}
	if strings.TrimSpace(req.LatestUserContent()) == "" {
		return &domain.ValidationError{Message: "messages: at least one non-empty user message is required"}
	}
	return nil
}

func validateChatMessage(value interface{}) error {
	msg, ok := value.(llmSvc.ChatMessage)
	if !ok {
		return fmt.Errorf("invalid message type")
	}
	return validation.ValidateStruct(&msg,
		validation.Field(&msg.Role,
			validation.Required,
			validation.In(llmModels.RoleUser, llmModels.RoleAssistant, llmModels.RoleSystem),
		),
		validation.Field(&msg.Content, validation.Length(0, config.MaxMessageContentLength)),
	)
}
