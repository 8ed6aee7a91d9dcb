package streamregistry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rstream "github.com/haowjy/meridian-stream-go"
	"github.com/vmihailenco/msgpack/v5"

	"relay/internal/domain"
	"relay/internal/domain/models/llm"
)

// clientBuffer is the per-subscriber event buffer inside rstream. Subscribers
// drain it into a one-slot latest-snapshot channel, so it rarely fills.
const clientBuffer = 32

// snapshotEvent is the payload of one rstream event.
type snapshotEvent struct {
	Seq   uint64           `msgpack:"seq"`
	State *llm.StreamState `msgpack:"state"`
}

// memoryEntry is one registered conversation. Its rstream.Stream runs for as
// long as the entry is registered and broadcasts every snapshot pushed onto
// updates to the subscribed clients.
type memoryEntry struct {
	stream  *rstream.Stream
	state   *llm.StreamState
	seq     uint64
	updates chan snapshotEvent
	// done closes once the rstream stream has finished and left the registry.
	done chan struct{}
}

// MemoryStore is a process-local Store backed by an rstream.Registry. The
// registry enforces one stream per conversation and fans snapshots out to
// subscribers; the store keeps the authoritative state for atomic updates.
type MemoryStore struct {
	mu       sync.Mutex
	registry *rstream.Registry
	entries  map[string]*memoryEntry
	clients  atomic.Uint64
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		registry: rstream.NewRegistry(),
		entries:  make(map[string]*memoryEntry),
	}
}

func (m *MemoryStore) Register(ctx context.Context, state *llm.StreamState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &memoryEntry{
		state:   state.Clone(),
		updates: make(chan snapshotEvent, clientBuffer),
		done:    make(chan struct{}),
	}
	entry.stream = rstream.NewStream(state.ConversationID, entry.broadcast,
		rstream.WithBufferSize(clientBuffer),
		rstream.WithBuffer(&latestBuffer{}),
	)

	if err := m.registry.Register(entry.stream); err != nil {
		return &domain.AlreadyStreamingError{ConversationID: state.ConversationID}
	}

	// The watcher sees its channel close only after rstream has removed the
	// stream from the registry, which makes done a safe re-register barrier.
	watcher := entry.stream.AddClient("watcher")
	go func() {
		for range watcher {
		}
		close(entry.done)
	}()

	entry.stream.Start()
	m.entries[state.ConversationID] = entry
	return nil
}

// broadcast is the rstream work function: it publishes queued snapshots until
// the entry is unregistered.
func (e *memoryEntry) broadcast(ctx context.Context, send func(rstream.Event)) error {
	for ev := range e.updates {
		data, err := msgpack.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		send(rstream.NewEvent(data).WithID(fmt.Sprint(ev.Seq)))
	}
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, conversationID string, mutate func(*llm.StreamState) error) (*llm.StreamState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[conversationID]
	if !ok {
		return nil, notFound(conversationID)
	}

	next := entry.state.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	entry.state = next
	entry.seq++

	entry.updates <- snapshotEvent{Seq: entry.seq, State: next.Clone()}
	return next.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, conversationID string) (*llm.StreamState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[conversationID]
	if !ok {
		return nil, notFound(conversationID)
	}
	return entry.state.Clone(), nil
}

// Unregister ends the entry's rstream stream, which closes every subscriber,
// and waits until the conversation can be registered again.
func (m *MemoryStore) Unregister(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	entry, ok := m.entries[conversationID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.entries, conversationID)
	close(entry.updates)
	m.mu.Unlock()

	select {
	case <-entry.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryStore) Subscribe(ctx context.Context, conversationID string) (<-chan *llm.StreamState, error) {
	m.mu.Lock()
	entry, ok := m.entries[conversationID]
	if !ok {
		m.mu.Unlock()
		return nil, notFound(conversationID)
	}

	clientID := fmt.Sprintf("sub-%d", m.clients.Add(1))
	events := entry.stream.AddClient(clientID)
	lastSeq := entry.seq

	out := make(chan *llm.StreamState, 1)
	out <- entry.state.Clone()
	m.mu.Unlock()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				entry.stream.RemoveClient(clientID)
				return
			case <-entry.done:
				// rstream drops events for a full client; the final state is
				// still on the entry.
				m.mu.Lock()
				final, seq := entry.state.Clone(), entry.seq
				m.mu.Unlock()
				if seq > lastSeq {
					offerLatest(out, final)
				}
				return
			case ev, open := <-events:
				if !open {
					// Closed by rstream; wait for done to flush the final state.
					events = nil
					continue
				}
				var snap snapshotEvent
				if err := msgpack.Unmarshal(ev.Data, &snap); err != nil || snap.Seq <= lastSeq {
					continue
				}
				lastSeq = snap.Seq
				offerLatest(out, snap.State)
			}
		}
	}()

	return out, nil
}

// Len returns the number of live streams.
func (m *MemoryStore) Len() int {
	return m.registry.Count()
}

// latestBuffer is an rstream.Buffer that keeps only the newest event. Every
// event is a full snapshot, so older ones carry nothing a subscriber needs.
type latestBuffer struct {
	mu    sync.RWMutex
	event *rstream.Event
}

func (b *latestBuffer) Add(event rstream.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.event = &event
}

func (b *latestBuffer) GetAll() []rstream.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.event == nil {
		return nil
	}
	return []rstream.Event{*b.event}
}

func (b *latestBuffer) GetSince(lastEventID string) []rstream.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.event == nil || lastEventID == "" || b.event.ID == lastEventID {
		return nil
	}
	return []rstream.Event{*b.event}
}

func (b *latestBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.event = nil
}

func (b *latestBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.event == nil {
		return 0
	}
	return 1
}

func (b *latestBuffer) Snapshot() []rstream.Event {
	return b.GetAll()
}
