// Package client is the consumer side of the streaming protocol: it decodes
// chunk streams, polls live state, and merges both with the canonical
// transcript for display.
package client

import (
	"sync"

	llmModels "relay/internal/domain/models/llm"
)

// Pending is a user message that was sent but may not be canonical yet.
type Pending struct {
	Content string
	// AfterCount is the canonical message count observed when it was sent.
	// Only messages at or after that position can confirm it.
	AfterCount int
}

// Reconcile merges the canonical transcript with optimistic state. The
// result is canonical order followed by at most one optimistic user message
// and at most one optimistic assistant message. An optimistic message is
// dropped as soon as canonical storage holds a message with the same role
// and content (or, for the assistant, the same id).
func Reconcile(canonical []llmModels.Message, pending *Pending, live *llmModels.StreamState) []llmModels.Message {
	out := make([]llmModels.Message, 0, len(canonical)+2)
	out = append(out, canonical...)

	// The stream's user and assistant messages become canonical together, so
	// either the assistant id or the finished exchange at the tail confirms
	// both.
	persisted := live != nil &&
		(live.AssistantMessageID != "" && hasID(canonical, live.AssistantMessageID) || exchangeAtTail(canonical, live))

	userIdx := -1
	switch {
	case pending != nil:
		userIdx = findMessage(canonical, pending.AfterCount, llmModels.RoleUser, pending.Content)
		if userIdx < 0 {
			out = append(out, optimistic("", llmModels.RoleUser, pending.Content))
		}
	case live != nil && live.UserContent != "" && !persisted:
		out = append(out, optimistic("", llmModels.RoleUser, live.UserContent))
	}

	if live == nil || live.Status == llmModels.StreamError || persisted {
		return out
	}
	if userIdx >= 0 && findMessage(canonical, userIdx+1, llmModels.RoleAssistant, live.AccumulatedText) >= 0 {
		return out
	}
	return append(out, optimistic(live.AssistantMessageID, llmModels.RoleAssistant, live.AccumulatedText))
}

func optimistic(id string, role llmModels.Role, content string) llmModels.Message {
	return llmModels.Message{ID: id, Role: role, Content: content, Optimistic: true}
}

// exchangeAtTail reports whether canonical ends with the finished stream's
// user message and reply, compared by role and content.
func exchangeAtTail(canonical []llmModels.Message, live *llmModels.StreamState) bool {
	if live.Status != llmModels.StreamDone {
		return false
	}
	n := len(canonical)
	if n == 0 || !sameMessage(canonical[n-1], llmModels.RoleAssistant, live.AccumulatedText) {
		return false
	}
	if live.UserContent == "" {
		return true
	}
	return n >= 2 && sameMessage(canonical[n-2], llmModels.RoleUser, live.UserContent)
}

func sameMessage(m llmModels.Message, role llmModels.Role, content string) bool {
	return m.Role == role && m.Content == content
}

func hasID(messages []llmModels.Message, id string) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].ID == id {
			return true
		}
	}
	return false
}

// findMessage returns the index of the last message at or after from with
// the given role and content, or -1.
func findMessage(messages []llmModels.Message, from int, role llmModels.Role, content string) int {
	if from < 0 {
		from = 0
	}
	for i := len(messages) - 1; i >= from; i-- {
		if sameMessage(messages[i], role, content) {
			return i
		}
	}
	return -1
}

// Reconciler holds the latest inputs from concurrent sources and produces
// the merged view on demand.
type Reconciler struct {
	mu        sync.Mutex
	canonical []llmModels.Message
	pending   *Pending
	live      *llmModels.StreamState

	// lingering keeps the last live assistant text after the stream left the
	// registry until one canonical fetch confirms or drops it.
	lingering bool
}

// NewReconciler starts from a canonical transcript.
func NewReconciler(canonical []llmModels.Message) *Reconciler {
	return &Reconciler{canonical: canonical}
}

// Send records a user message as pending.
func (r *Reconciler) Send(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = &Pending{Content: content, AfterCount: len(r.canonical)}
}

// ApplyCanonical installs a fetched transcript. A fetch shorter than the one
// already held is stale and ignored. Returns whether it was applied.
func (r *Reconciler) ApplyCanonical(messages []llmModels.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(messages) < len(r.canonical) {
		return false
	}
	r.canonical = messages

	if r.pending != nil && findMessage(messages, r.pending.AfterCount, llmModels.RoleUser, r.pending.Content) >= 0 {
		r.pending = nil
	}
	if r.lingering {
		r.lingering = false
		r.live = nil
	}
	return true
}

// ApplyLive installs the latest registry snapshot. nil means no stream is
// live any more.
func (r *Reconciler) ApplyLive(state *llmModels.StreamState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state == nil {
		if r.live != nil && r.live.Status != llmModels.StreamError {
			r.lingering = true
			return
		}
		r.live = nil
		return
	}
	r.lingering = false
	r.live = state.Clone()
}

// Messages returns the merged transcript.
func (r *Reconciler) Messages() []llmModels.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Reconcile(r.canonical, r.pending, r.live)
}
