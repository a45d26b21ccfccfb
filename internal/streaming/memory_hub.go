package streaming

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arqio/verdict/pkg/schema"
)

const defaultChannelBuffer = 64

// subscriber holds a channel and filter for a single subscriber.
type subscriber struct {
	ch     chan schema.EvaluationLogEntry
	filter EntryFilter
}

// MemoryHub is an in-memory LogHub implementation using channels.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	seq    atomic.Uint64
	closed bool
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
	}
}

// Publish sends an entry to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the entry is dropped.
func (h *MemoryHub) Publish(ctx context.Context, entry schema.EvaluationLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, entry) {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			// backpressure: drop entry for slow subscriber
		}
	}
	return nil
}

// Subscribe creates a new subscription filtered by the given EntryFilter.
// Returns a receive-only channel, a cancel function, and any error.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EntryFilter) (<-chan schema.EvaluationLogEntry, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, schema.NewError(schema.ErrCodeStore, "log hub is closed")
	}
	id := h.seq.Add(1)
	ch := make(chan schema.EvaluationLogEntry, defaultChannelBuffer)
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel, nil
}

// Close removes all subscribers and closes their channels so receivers
// ranging over them terminate. Publish after Close is a silent no-op.
func (h *MemoryHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}

// matchFilter returns true if the entry passes the filter criteria.
func matchFilter(f EntryFilter, e schema.EvaluationLogEntry) bool {
	if f.TableID != "" && f.TableID != e.TableID {
		return false
	}
	if f.MatchedOnly && len(e.MatchedRuleIDs) == 0 {
		return false
	}
	return true
}
