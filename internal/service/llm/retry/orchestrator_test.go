package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
)

// attemptScript describes what one provider call does.
type attemptScript struct {
	deltas    []string
	failAfter bool  // send deltas, then fail
	startErr  error // fail before returning a channel
	usage     *llmModels.Usage
}

// scriptedProvider replays one script per call and counts calls.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts []attemptScript
	calls   int
}

func (p *scriptedProvider) Name() string               { return "scripted" }
func (p *scriptedProvider) SupportsModel(string) bool { return true }

func (p *scriptedProvider) StreamCompletion(ctx context.Context, req *llmSvc.CompletionRequest) (<-chan llmSvc.StreamEvent, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	script := p.scripts[len(p.scripts)-1]
	if idx < len(p.scripts) {
		script = p.scripts[idx]
	}
	if script.startErr != nil {
		return nil, script.startErr
	}

	ch := make(chan llmSvc.StreamEvent)
	go func() {
		defer close(ch)
		for _, d := range script.deltas {
			ch <- llmSvc.StreamEvent{Delta: d}
		}
		if script.failAfter {
			ch <- llmSvc.StreamEvent{Error: errors.New("upstream 529 overloaded")}
			return
		}
		ch <- llmSvc.StreamEvent{Usage: script.usage, StopReason: llmSvc.StopReasonEndTurn}
	}()
	return ch, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recorder struct {
	chunks []llmModels.Chunk
}

func (r *recorder) emit(c llmModels.Chunk) { r.chunks = append(r.chunks, c) }

func (r *recorder) controls() []llmModels.Control {
	var out []llmModels.Control
	for _, c := range r.chunks {
		if c.Kind == llmModels.ChunkControl {
			out = append(out, *c.Control)
		}
	}
	return out
}

func (r *recorder) text() string {
	var s string
	for _, c := range r.chunks {
		if c.Kind == llmModels.ChunkContent {
			s += c.Text
		}
	}
	return s
}

func newTestOrchestrator(maxAttempts int) (*Orchestrator, *[]time.Duration) {
	o := NewOrchestrator(Policy{
		MaxAttempts: maxAttempts,
		Backoff:     ExponentialBackoff(10*time.Millisecond, time.Second),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var waits []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return o, &waits
}

func TestRun_FailFailSucceed(t *testing.T) {
	provider := &scriptedProvider{scripts: []attemptScript{
		{startErr: errors.New("connection refused")},
		{startErr: errors.New("connection refused")},
		{deltas: []string{"Hel", "lo"}, usage: &llmModels.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
	}}
	o, waits := newTestOrchestrator(3)
	rec := &recorder{}

	result, err := o.Run(context.Background(), provider, &llmSvc.CompletionRequest{Model: "m"}, rec.emit, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, provider.callCount())
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, "Hello", result.Text)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 5, result.Usage.TotalTokens)

	require.Len(t, rec.chunks, 4)
	assert.Equal(t, llmModels.RetryChunk(0), rec.chunks[0])
	assert.Equal(t, llmModels.RetryChunk(1), rec.chunks[1])
	assert.Equal(t, llmModels.ContentChunk("Hel"), rec.chunks[2])
	assert.Equal(t, llmModels.ContentChunk("lo"), rec.chunks[3])

	for _, c := range rec.chunks {
		assert.False(t, c.IsTerminalError(), "no control:error expected")
	}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
}

func TestRun_AllAttemptsFail(t *testing.T) {
	provider := &scriptedProvider{scripts: []attemptScript{
		{startErr: errors.New("boom")},
	}}
	o, _ := newTestOrchestrator(3)
	rec := &recorder{}

	result, err := o.Run(context.Background(), provider, &llmSvc.CompletionRequest{Model: "m"}, rec.emit, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, domain.ErrExhaustedRetries))

	var exhausted *domain.ExhaustedRetriesError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)

	assert.Equal(t, 3, provider.callCount())

	controls := rec.controls()
	require.Len(t, controls, 3)
	assert.Equal(t, llmModels.Control{Type: llmModels.ControlRetry, Attempt: 0}, controls[0])
	assert.Equal(t, llmModels.Control{Type: llmModels.ControlRetry, Attempt: 1}, controls[1])
	assert.Equal(t, llmModels.Control{Type: llmModels.ControlError, Attempt: 3, MaxRetries: 3}, controls[2])

	errorChunks := 0
	for _, c := range rec.chunks {
		if c.IsTerminalError() {
			errorChunks++
		}
	}
	assert.Equal(t, 1, errorChunks)
}

func TestRun_AttemptNumbersStrictlyIncrease(t *testing.T) {
	for _, maxAttempts := range []int{1, 2, 4, 6} {
		provider := &scriptedProvider{scripts: []attemptScript{{startErr: errors.New("down")}}}
		o, _ := newTestOrchestrator(maxAttempts)
		rec := &recorder{}

		_, err := o.Run(context.Background(), provider, &llmSvc.CompletionRequest{}, rec.emit, nil)
		require.Error(t, err)

		assert.LessOrEqual(t, provider.callCount(), maxAttempts)
		controls := rec.controls()
		require.Len(t, controls, maxAttempts)
		if maxAttempts > 1 {
			assert.Equal(t, 0, controls[0].Attempt)
		}
		for i := 1; i < len(controls); i++ {
			assert.Greater(t, controls[i].Attempt, controls[i-1].Attempt)
		}
	}
}

func TestRun_MidStreamFailureKeepsEmittedPrefix(t *testing.T) {
	provider := &scriptedProvider{scripts: []attemptScript{
		{deltas: []string{"The answer"}, failAfter: true},
		{deltas: []string{"The answer", " is 42"}},
	}}
	o, _ := newTestOrchestrator(3)
	rec := &recorder{}

	result, err := o.Run(context.Background(), provider, &llmSvc.CompletionRequest{}, rec.emit, nil)
	require.NoError(t, err)

	// The first attempt's text stays committed; the retry restarts from scratch.
	assert.Equal(t, "The answerThe answer is 42", rec.text())
	assert.Equal(t, "The answer is 42", result.Text)
	assert.Equal(t, llmModels.RetryChunk(0), rec.chunks[1])
}

func TestRun_ObserverSeesEveryAttempt(t *testing.T) {
	provider := &scriptedProvider{scripts: []attemptScript{
		{startErr: errors.New("first")},
		{deltas: []string{"ok"}, usage: &llmModels.Usage{TotalTokens: 9}},
	}}
	o, _ := newTestOrchestrator(3)

	var reports []AttemptReport
	_, err := o.Run(context.Background(), provider, &llmSvc.CompletionRequest{}, func(llmModels.Chunk) {}, func(r AttemptReport) {
		reports = append(reports, r)
	})
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, 0, reports[0].Attempt)
	assert.Error(t, reports[0].Err)
	assert.Equal(t, "first", Describe(reports[0].Err))
	assert.Equal(t, 1, reports[1].Attempt)
	assert.NoError(t, reports[1].Err)
	require.NotNil(t, reports[1].Usage)
	assert.Equal(t, 9, reports[1].Usage.TotalTokens)
}

func TestRun_CancelledContextIsNotRetried(t *testing.T) {
	provider := &scriptedProvider{scripts: []attemptScript{{startErr: errors.New("down")}}}
	o, _ := newTestOrchestrator(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	_, err := o.Run(ctx, provider, &llmSvc.CompletionRequest{}, rec.emit, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, provider.callCount())
	assert.Empty(t, rec.chunks)
}

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(500*time.Millisecond, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 500 * time.Millisecond},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 10 * time.Second},
		{attempt: 64, want: 10 * time.Second},
	}

	prev := time.Duration(0)
	for _, tt := range tests {
		got := backoff(tt.attempt)
		if got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
		if got < prev {
			t.Errorf("backoff must be non-decreasing: backoff(%d)=%v < %v", tt.attempt, got, prev)
		}
		prev = got
	}
}

func TestPolicyNormalization(t *testing.T) {
	o := NewOrchestrator(Policy{}, nil)
	assert.Equal(t, 1, o.MaxAttempts())
}
