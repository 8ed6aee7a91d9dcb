// Package lorem is an offline provider that streams placeholder text. It
// needs no API key and can simulate tool calls and transient failures.
package lorem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"

	"relay/internal/domain/models/llm"
	domainllm "relay/internal/domain/services/llm"
)

// ErrSimulatedOverload is the failure lorem-flaky injects.
var ErrSimulatedOverload = errors.New("lorem: simulated upstream overload")

const (
	defaultWords         = 40
	defaultFlakyFailures = 2
)

// Options tunes the simulation. Zero values pick the defaults.
type Options struct {
	// WordDelay overrides the per-model streaming speed.
	WordDelay *time.Duration
	// Words is the length of a generated answer.
	Words int
	// FlakyFailures is how many consecutive calls lorem-flaky fails before
	// one succeeds.
	FlakyFailures int
}

// Provider is a mock LLM provider that generates lorem ipsum text.
type Provider struct {
	opts Options

	mu         sync.Mutex
	generator  *loremgen.Lorem
	flakyCalls int
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider(opts Options) *Provider {
	if opts.Words <= 0 {
		opts.Words = defaultWords
	}
	if opts.FlakyFailures <= 0 {
		opts.FlakyFailures = defaultFlakyFailures
	}
	return &Provider{
		opts:      opts,
		generator: loremgen.New(),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// SupportsModel returns true if the model name starts with "lorem-".
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// getStreamDelay returns the delay between words based on the model name.
// - lorem-slow: 2 words/second
// - lorem-fast: 30 words/second
// - default: 10 words/second
func (p *Provider) getStreamDelay(model string) time.Duration {
	if p.opts.WordDelay != nil {
		return *p.opts.WordDelay
	}
	switch {
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

// StreamCompletion streams a lorem ipsum answer.
//
// lorem-tools requests one web_search for the latest user message when
// tools are offered and no tool results exist yet. lorem-flaky fails
// FlakyFailures calls in a row (the first one mid-stream) and then succeeds.
func (p *Provider) StreamCompletion(ctx context.Context, req *domainllm.CompletionRequest) (<-chan domainllm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by lorem provider", req.Model)
	}

	failAfter := -1
	if strings.Contains(req.Model, "flaky") {
		p.mu.Lock()
		call := p.flakyCalls
		p.flakyCalls++
		p.mu.Unlock()

		switch position := call % (p.opts.FlakyFailures + 1); {
		case position == p.opts.FlakyFailures:
			// success
		case position == 0:
			failAfter = 3
		default:
			return nil, ErrSimulatedOverload
		}
	}

	var words []string
	var calls []domainllm.ToolCall
	if wantsSearch(req) {
		words = strings.Fields("Let me look that up.")
		calls = []domainllm.ToolCall{{
			Name:  "web_search",
			Input: map[string]interface{}{"query": latestUserText(req.Messages)},
		}}
	} else {
		words = p.generateWords(p.opts.Words)
		if n := countToolResults(req.Messages); n > 0 {
			words = append(strings.Fields(fmt.Sprintf("Based on %d search result(s):", n)), words...)
		}
	}

	delay := p.getStreamDelay(req.Model)
	eventChan := make(chan domainllm.StreamEvent, 10)

	go func() {
		defer close(eventChan)

		for i, word := range words {
			if i == failAfter {
				select {
				case eventChan <- domainllm.StreamEvent{Error: ErrSimulatedOverload}:
				case <-ctx.Done():
				}
				return
			}

			delta := word
			if i < len(words)-1 {
				delta += " "
			}
			select {
			case <-ctx.Done():
				return
			case eventChan <- domainllm.StreamEvent{Delta: delta}:
			}

			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
		}

		usage := llm.NewUsage(estimateTokens(req), len(words))
		stopReason := domainllm.StopReasonEndTurn
		if len(calls) > 0 {
			stopReason = domainllm.StopReasonToolUse
		}
		select {
		case <-ctx.Done():
		case eventChan <- domainllm.StreamEvent{ToolCalls: calls, Usage: &usage, StopReason: stopReason}:
		}
	}()

	return eventChan, nil
}

func wantsSearch(req *domainllm.CompletionRequest) bool {
	if !strings.Contains(req.Model, "tools") || req.ForceFinalAnswer || len(req.Tools) == 0 {
		return false
	}
	return countToolResults(req.Messages) == 0
}

func countToolResults(messages []domainllm.Message) int {
	n := 0
	for _, msg := range messages {
		n += len(msg.ToolResults)
	}
	return n
}

func latestUserText(messages []domainllm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return "lorem ipsum"
}

// generateWords takes golorem sentences of 5-12 words until n words exist.
// The last word always closes a sentence.
func (p *Provider) generateWords(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	words := make([]string, 0, n)
	for len(words) < n {
		words = append(words, strings.Fields(p.generator.Sentence(5, 12))...)
	}
	words = words[:n]
	last := strings.TrimRight(words[n-1], ",.")
	words[n-1] = last + "."
	return words
}

// estimateTokens uses word count as a rough token approximation.
func estimateTokens(req *domainllm.CompletionRequest) int {
	total := len(strings.Fields(req.System))
	for _, msg := range req.Messages {
		total += len(strings.Fields(msg.Content))
		for _, r := range msg.ToolResults {
			total += len(strings.Fields(r.Content))
		}
	}
	return total
}
