package events

import (
	"sync"

	"deedmarket/core/types"
)

// payloadCarrier is implemented by emitted events that can render themselves
// as a wire-level types.Event.
type payloadCarrier interface {
	Event() *types.Event
}

// Entry pairs an emitted event with its position in the broadcast stream.
type Entry struct {
	Sequence uint64       `json:"sequence"`
	Event    *types.Event `json:"event"`
}

// Broadcaster retains a bounded window of emitted events so pollers (RPC
// clients, indexers) can page through them by sequence number. The sequence is
// monotonically increasing and never reused; entries older than the capacity
// are dropped.
type Broadcaster struct {
	mu      sync.RWMutex
	entries []Entry
	nextSeq uint64
	cap     int
}

// NewBroadcaster creates a broadcaster retaining up to capacity entries. A
// non-positive capacity falls back to 1024.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Broadcaster{nextSeq: 1, cap: capacity}
}

// Emit implements the Emitter interface.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	carrier, ok := evt.(payloadCarrier)
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, Entry{Sequence: b.nextSeq, Event: payload})
	b.nextSeq++
	if len(b.entries) > b.cap {
		b.entries = b.entries[len(b.entries)-b.cap:]
	}
}

// After returns up to limit entries with a sequence strictly greater than
// after, in emission order.
func (b *Broadcaster) After(after uint64, limit int) []Entry {
	if b == nil {
		return nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, limit)
	for _, entry := range b.entries {
		if entry.Sequence <= after {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out
}
