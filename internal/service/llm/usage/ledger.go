// Package usage records one ledger row per provider attempt.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	llmModels "relay/internal/domain/models/llm"
	llmRepo "relay/internal/domain/repositories/llm"
	llmSvc "relay/internal/domain/services/llm"
)

// Ledger implements llmSvc.UsageLedger on a UsageRepository.
type Ledger struct {
	repo   llmRepo.UsageRepository
	logger *slog.Logger
}

// NewLedger creates a usage ledger.
func NewLedger(repo llmRepo.UsageRepository, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, logger: logger}
}

// Record stores rec, filling its id and timestamp when unset.
func (l *Ledger) Record(ctx context.Context, rec *llmModels.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := l.repo.CreateUsageRecord(ctx, rec); err != nil {
		return fmt.Errorf("record usage for conversation %s attempt %d: %w", rec.ConversationID, rec.Attempt, err)
	}

	l.logger.Debug("usage recorded",
		"conversation_id", rec.ConversationID,
		"provider", rec.Provider,
		"model", rec.Model,
		"attempt", rec.Attempt,
		"success", rec.Success,
		"prompt_tokens", rec.PromptTokens,
		"completion_tokens", rec.OutputTokens,
	)
	return nil
}

var _ llmSvc.UsageLedger = (*Ledger)(nil)
