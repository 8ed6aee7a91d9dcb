// Package retry wraps one upstream provider call in a bounded retry loop.
//
// Content produced by a failed attempt has already been emitted and is never
// retracted: the next attempt restarts the provider call from scratch, so a
// mid-stream failure can show a duplicated prefix. That trade-off is accepted;
// callers needing exactly-once text must compare accumulated text themselves.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
)

// EmitFunc receives chunks in production order.
type EmitFunc func(chunk llmModels.Chunk)

// AttemptReport describes one finished upstream call.
type AttemptReport struct {
	Attempt int
	Err     error
	Usage   *llmModels.Usage
}

// AttemptObserver is notified after every attempt, failed or not.
type AttemptObserver func(report AttemptReport)

// Result is the outcome of the successful attempt.
type Result struct {
	// Attempts is the number of upstream calls made, including the successful one.
	Attempts   int
	Text       string
	ToolCalls  []llmSvc.ToolCall
	Usage      *llmModels.Usage
	StopReason string
}

// Orchestrator runs provider calls under a Policy.
type Orchestrator struct {
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator. A zero MaxAttempts means one attempt.
func NewOrchestrator(policy Policy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		policy: policy.normalized(),
		logger: logger,
		sleep:  sleepContext,
	}
}

// MaxAttempts returns the configured attempt bound.
func (o *Orchestrator) MaxAttempts() int {
	return o.policy.MaxAttempts
}

// Run calls the provider until one attempt completes or the policy is
// exhausted. After every failed attempt except the last it emits
// control:retry{attempt} and waits Backoff(attempt). When all attempts fail
// it emits one control:error{attempt: MaxAttempts, maxRetries: MaxAttempts}
// and returns *domain.ExhaustedRetriesError.
//
// Cancellation of ctx is not retried and emits nothing further.
func (o *Orchestrator) Run(
	ctx context.Context,
	provider llmSvc.LLMProvider,
	req *llmSvc.CompletionRequest,
	emit EmitFunc,
	observe AttemptObserver,
) (*Result, error) {
	maxAttempts := o.policy.MaxAttempts
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := o.runAttempt(ctx, attempt, provider, req, emit)
		if observe != nil {
			report := AttemptReport{Attempt: attempt, Err: err}
			if result != nil {
				report.Usage = result.Usage
			}
			observe(report)
		}

		if err == nil {
			result.Attempts = attempt + 1
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt+1 >= maxAttempts {
			break
		}

		delay := o.policy.Backoff(attempt)
		o.logger.Warn("provider attempt failed, retrying",
			"provider", provider.Name(),
			"model", req.Model,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff", delay,
			"error", err,
		)
		emit(llmModels.RetryChunk(attempt))

		if err := o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	o.logger.Error("provider retries exhausted",
		"provider", provider.Name(),
		"model", req.Model,
		"attempts", maxAttempts,
		"error", lastErr,
	)
	emit(llmModels.ErrorChunk(maxAttempts, maxAttempts))

	return nil, &domain.ExhaustedRetriesError{
		Attempts:   maxAttempts,
		MaxRetries: maxAttempts,
		Last:       lastErr,
	}
}

// runAttempt performs one upstream call, forwarding deltas as they arrive.
// On failure the partial result (usage so far) is still returned.
func (o *Orchestrator) runAttempt(
	ctx context.Context,
	attempt int,
	provider llmSvc.LLMProvider,
	req *llmSvc.CompletionRequest,
	emit EmitFunc,
) (*Result, error) {
	events, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: provider.Name(), Attempt: attempt, Err: err}
	}

	result := &Result{}
	var text strings.Builder

	for event := range events {
		if event.Error != nil {
			// Let the provider goroutine finish without blocking on us.
			go drain(events)
			return result, &domain.ProviderError{Provider: provider.Name(), Attempt: attempt, Err: event.Error}
		}

		if event.Delta != "" {
			text.WriteString(event.Delta)
			emit(llmModels.ContentChunk(event.Delta))
		}
		if len(event.ToolCalls) > 0 {
			result.ToolCalls = append(result.ToolCalls, event.ToolCalls...)
		}
		if event.Usage != nil {
			u := *event.Usage
			result.Usage = &u
		}
		if event.StopReason != "" {
			result.StopReason = event.StopReason
		}
	}

	if err := ctx.Err(); err != nil {
		return result, &domain.ProviderError{Provider: provider.Name(), Attempt: attempt, Err: err}
	}

	result.Text = text.String()
	return result, nil
}

func drain(events <-chan llmSvc.StreamEvent) {
	for range events {
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Describe renders an attempt error for the usage ledger.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var providerErr *domain.ProviderError
	if errors.As(err, &providerErr) {
		return fmt.Sprintf("%v", providerErr.Err)
	}
	return err.Error()
}
