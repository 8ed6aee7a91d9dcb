// Package streaming implements the stream transport: it binds one chat
// request to a registry entry, drives provider output to the originating
// consumer, and persists the exchange once the stream completes.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/service/llm/retry"
	"relay/internal/service/llm/toolcall"
	"relay/internal/streamregistry"
)

// cleanupTimeout bounds registry and persistence writes that must outlive the
// request that started the stream.
const cleanupTimeout = 10 * time.Second

// ProviderResolver routes a model selector to a provider and upstream model id.
type ProviderResolver interface {
	Resolve(ctx context.Context, model string) (llmSvc.LLMProvider, string, error)
}

// Service implements llmSvc.StreamingService.
type Service struct {
	resolver      ProviderResolver
	orchestrator  *retry.Orchestrator
	multiplexer   *toolcall.Multiplexer
	budgets       llmSvc.ToolBudgetResolver
	registry      streamregistry.Store
	conversations llmSvc.ConversationService
	usage         llmSvc.UsageLedger
	titles        llmSvc.TitleGenerator
	attachments   llmSvc.AttachmentFetcher
	defaultModel  string
	logger        *slog.Logger

	// base outlives every request. Cancelling it severs running streams
	// without persistence.
	base context.Context
	wg   sync.WaitGroup
}

// NewService creates the streaming service. multiplexer, usage, titles and
// attachments may be nil; the matching features are then unavailable.
func NewService(
	base context.Context,
	resolver ProviderResolver,
	orchestrator *retry.Orchestrator,
	multiplexer *toolcall.Multiplexer,
	budgets llmSvc.ToolBudgetResolver,
	registry streamregistry.Store,
	conversations llmSvc.ConversationService,
	usage llmSvc.UsageLedger,
	titles llmSvc.TitleGenerator,
	attachments llmSvc.AttachmentFetcher,
	defaultModel string,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		base:          base,
		resolver:      resolver,
		orchestrator:  orchestrator,
		multiplexer:   multiplexer,
		budgets:       budgets,
		registry:      registry,
		conversations: conversations,
		usage:         usage,
		titles:        titles,
		attachments:   attachments,
		defaultModel:  defaultModel,
		logger:        logger,
	}
}

// run is the resolved work of one accepted request.
type run struct {
	req      *llmSvc.StreamRequest
	provider llmSvc.LLMProvider
	model    string
	state    *llmModels.StreamState
	request  *llmSvc.CompletionRequest
	budget   llmSvc.ToolBudget
	useTools bool
}

// Start validates and registers the request, then runs the stream in the
// background. Every error returned here happens before a byte is written:
// validation and unsupported models are 400, setup failures 500, and a
// conversation that already streams is 409.
func (s *Service) Start(ctx context.Context, req *llmSvc.StreamRequest) (llmSvc.StreamHandle, error) {
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

	if err := s.registry.Register(ctx, r.state); err != nil {
		return nil, err
	}

	stream := newStream(req.ConversationID, r.state.AssistantMessageID)

	s.logger.Info("stream accepted",
		"conversation_id", req.ConversationID,
		"assistant_message_id", r.state.AssistantMessageID,
		"provider", r.provider.Name(),
		"model", r.model,
		"tools", r.useTools,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(r, stream)
	}()

	return stream, nil
}

// prepare resolves everything a stream needs without side effects on the
// registry. A conversation owned by someone else is not found.
func (s *Service) prepare(ctx context.Context, req *llmSvc.StreamRequest) (*run, error) {
	if err := s.conversations.CheckAccess(ctx, req.ConversationID, req.UserID); err != nil {
		return nil, err
	}

	provider, upstreamModel, err := s.resolver.Resolve(ctx, req.Model)
	if err != nil {
		var unsupported *domain.UnsupportedModelError
		if errors.As(err, &unsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("provider setup for %q: %w", req.Model, err)
	}

	attachmentContext, err := s.fetchAttachmentContext(ctx, req.Attachments)
	if err != nil {
		return nil, err
	}

	r := &run{
		req:      req,
		provider: provider,
		model:    upstreamModel,
		request:  buildCompletionRequest(req, upstreamModel, attachmentContext),
		useTools: req.WebSearch && s.multiplexer != nil,
	}

	if r.useTools {
		r.budget = llmSvc.LowEffortBudget
		if s.budgets != nil {
			budget, err := s.budgets.ResolveBudget(ctx, req.UserID, req.ReasoningEffort)
			if err != nil {
				return nil, fmt.Errorf("resolve tool budget: %w", err)
			}
			r.budget = budget
		}
	}

	r.state = llmModels.NewStreamState(req.ConversationID, uuid.NewString(), req.LatestUserContent(), req.Model)
	r.state.UserID = req.UserID
	return r, nil
}

// execute drives one stream to completion on the service's base context.
func (s *Service) execute(r *run, stream *Stream) {
	ctx := s.base
	conversationID := r.req.ConversationID
	done := ctx.Done()

	// emitted is the exact content the consumer saw, failed-attempt prefixes
	// included, so persistence matches the registry and the wire.
	var emitted strings.Builder
	emit := func(c llmModels.Chunk) {
		if c.Kind == llmModels.ChunkContent {
			emitted.WriteString(c.Text)
		}
		s.apply(ctx, conversationID, c)
		stream.send(c, done)
	}
	observe := s.usageObserver(r)

	var (
		usage  llmModels.Usage
		search *llmModels.SearchMetadata
		err    error
	)
	if r.useTools {
		var res *toolcall.Result
		res, err = s.multiplexer.Run(ctx, r.provider, r.request, r.budget, emit, observe)
		if res != nil {
			usage, search = res.Usage, res.Search
		}
		if err == nil {
			emit(llmModels.MetadataChunk(llmModels.Metadata{Usage: usage, Search: search}))
		}
	} else {
		var res *retry.Result
		res, err = s.orchestrator.Run(ctx, r.provider, r.request, emit, observe)
		if res != nil && res.Usage != nil {
			usage = *res.Usage
		}
		if err == nil {
			emit(llmModels.UsageChunk(usage))
		}
	}

	switch {
	case ctx.Err() != nil:
		s.sever(r, stream)
	case err != nil:
		s.fail(r, stream, err)
	default:
		s.complete(r, stream, usage, search, emitted.String())
	}
}

// apply mirrors a chunk into the registry before it reaches the wire, so the
// registry never lags what the originating consumer has seen.
func (s *Service) apply(ctx context.Context, conversationID string, c llmModels.Chunk) {
	var mutate func(*llmModels.StreamState) error
	switch {
	case c.Kind == llmModels.ChunkContent:
		mutate = func(st *llmModels.StreamState) error {
			st.AppendText(c.Text)
			return nil
		}
	case c.Kind == llmModels.ChunkControl && c.Control.Type == llmModels.ControlRetry:
		mutate = func(st *llmModels.StreamState) error {
			st.RetryCount = c.Control.Attempt + 1
			return nil
		}
	default:
		final := llmModels.FinalFrameOf(c)
		if final == nil {
			return
		}
		mutate = func(st *llmModels.StreamState) error {
			st.Final = final
			return nil
		}
	}

	if _, err := s.registry.Update(ctx, conversationID, mutate); err != nil {
		s.logger.Warn("stream registry update failed",
			"conversation_id", conversationID,
			"kind", c.Kind,
			"error", err,
		)
	}
}

func (s *Service) setStatus(ctx context.Context, conversationID string, status llmModels.StreamStatus) {
	_, err := s.registry.Update(ctx, conversationID, func(st *llmModels.StreamState) error {
		st.Status = status
		return nil
	})
	if err != nil {
		s.logger.Warn("stream status update failed",
			"conversation_id", conversationID,
			"status", status,
			"error", err,
		)
	}
}

func (s *Service) unregister(ctx context.Context, conversationID string) {
	if err := s.registry.Unregister(ctx, conversationID); err != nil {
		s.logger.Warn("stream unregister failed", "conversation_id", conversationID, "error", err)
	}
}

// complete finishes a successful stream: done status, wire closed, one
// persistence call, optional title generation, then unregister.
func (s *Service) complete(r *run, stream *Stream, usage llmModels.Usage, search *llmModels.SearchMetadata, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), cleanupTimeout)
	defer cancel()
	conversationID := r.req.ConversationID

	s.setStatus(ctx, conversationID, llmModels.StreamDone)
	stream.close()

	firstExchange := s.isFirstExchange(ctx, r.req)

	exchange := &llmSvc.Exchange{
		ConversationID:     conversationID,
		UserID:             r.req.UserID,
		UserContent:        r.state.UserContent,
		AssistantMessageID: r.state.AssistantMessageID,
		AssistantContent:   text,
		Usage:              usage,
		Search:             search,
	}
	persisted := true
	if err := s.conversations.PersistExchange(ctx, exchange); err != nil {
		persisted = false
		s.logger.Error("stream persistence failed",
			"error", &domain.PersistenceError{ConversationID: conversationID, Err: err},
			"assistant_message_id", r.state.AssistantMessageID,
		)
	}

	if persisted && firstExchange && s.titles != nil {
		s.detach(func(ctx context.Context) {
			err := s.titles.Generate(ctx, &llmSvc.TitleRequest{
				ConversationID: conversationID,
				UserID:         r.req.UserID,
				Model:          r.req.Model,
				UserContent:    r.state.UserContent,
				AssistantReply: text,
			})
			if err != nil {
				s.logger.Warn("title generation failed", "conversation_id", conversationID, "error", err)
			}
		})
	}

	s.unregister(ctx, conversationID)

	s.logger.Info("stream completed",
		"conversation_id", conversationID,
		"assistant_message_id", r.state.AssistantMessageID,
		"total_tokens", usage.TotalTokens,
		"detached", stream.Detached(),
		"persisted", persisted,
	)
}

// fail ends a stream whose retries were exhausted. The control:error frame
// has already been emitted; nothing is persisted.
func (s *Service) fail(r *run, stream *Stream, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), cleanupTimeout)
	defer cancel()
	conversationID := r.req.ConversationID

	s.setStatus(ctx, conversationID, llmModels.StreamError)
	stream.close()
	s.unregister(ctx, conversationID)

	s.logger.Error("stream failed",
		"conversation_id", conversationID,
		"assistant_message_id", r.state.AssistantMessageID,
		"error", err,
	)
}

// sever ends a stream whose server-side task was cancelled. Nothing is
// persisted.
func (s *Service) sever(r *run, stream *Stream) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), cleanupTimeout)
	defer cancel()
	conversationID := r.req.ConversationID

	s.setStatus(ctx, conversationID, llmModels.StreamError)
	stream.close()
	s.unregister(ctx, conversationID)

	s.logger.Warn("stream severed before completion, not persisted",
		"conversation_id", conversationID,
		"assistant_message_id", r.state.AssistantMessageID,
	)
}

// isFirstExchange reports whether the conversation has no title and no
// messages yet. A conversation that does not exist yet counts as new.
func (s *Service) isFirstExchange(ctx context.Context, req *llmSvc.StreamRequest) bool {
	conv, err := s.conversations.GetConversation(ctx, req.ConversationID, req.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("conversation lookup failed", "conversation_id", req.ConversationID, "error", err)
			return false
		}
		return true
	}
	return conv.Title == nil && conv.MessageCount == 0
}

// usageObserver records every provider attempt in the usage ledger without
// blocking the stream.
func (s *Service) usageObserver(r *run) retry.AttemptObserver {
	if s.usage == nil {
		return nil
	}
	return func(report retry.AttemptReport) {
		rec := &llmModels.UsageRecord{
			ID:             uuid.NewString(),
			ConversationID: r.req.ConversationID,
			UserID:         r.req.UserID,
			Provider:       r.provider.Name(),
			Model:          r.model,
			Attempt:        report.Attempt,
			Success:        report.Err == nil,
			CreatedAt:      time.Now().UTC(),
		}
		if report.Usage != nil {
			rec.PromptTokens = report.Usage.PromptTokens
			rec.OutputTokens = report.Usage.CompletionTokens
		}
		if report.Err != nil {
			msg := retry.Describe(report.Err)
			rec.Error = &msg
		}
		s.detach(func(ctx context.Context) {
			if err := s.usage.Record(ctx, rec); err != nil {
				s.logger.Warn("usage ledger write failed",
					"conversation_id", rec.ConversationID,
					"attempt", rec.Attempt,
					"error", err,
				)
			}
		})
	}
}

// detach runs fn in the background, outside any stream's lifetime.
func (s *Service) detach(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), cleanupTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every running stream and background write has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Snapshot returns the live state for a conversation.
func (s *Service) Snapshot(ctx context.Context, conversationID string) (*llmModels.StreamState, error) {
	return s.registry.Get(ctx, conversationID)
}

var _ llmSvc.StreamingService = (*Service)(nil)
