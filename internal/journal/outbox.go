// Package journal sequences ledger events and fans them out to durable sinks.
package journal

import (
	"context"
	"sync"

	"github.com/fairstake/tickets/internal/domain"
)

// Outbox is the in-memory, append-only event log. Append never fails; the
// Pump delivers entries to sinks asynchronously.
type Outbox struct {
	mu     sync.RWMutex
	base   uint64
	events []domain.LedgerEvent
	notify chan struct{}
	clock  domain.Clock
}

var _ domain.Journal = (*Outbox)(nil)

// NewOutbox creates an Outbox whose first event gets sequence base+1.
func NewOutbox(base uint64, clock domain.Clock) *Outbox {
	return &Outbox{
		base:   base,
		notify: make(chan struct{}, 1),
		clock:  clock,
	}
}

// Append assigns the next sequence number and stores ev.
func (o *Outbox) Append(_ context.Context, ev domain.LedgerEvent) domain.LedgerEvent {
	o.mu.Lock()
	ev.Seq = o.base + uint64(len(o.events)) + 1
	if ev.At.IsZero() {
		ev.At = o.clock.Now()
	}
	o.events = append(o.events, ev)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return ev
}

// After returns up to limit events with Seq > seq. limit <= 0 means all.
func (o *Outbox) After(seq uint64, limit int) []domain.LedgerEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()

	start := 0
	if seq > o.base {
		start = int(seq - o.base)
	}
	if start >= len(o.events) {
		return nil
	}
	end := len(o.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]domain.LedgerEvent, end-start)
	copy(out, o.events[start:end])
	return out
}

// Events returns a copy of every event held.
func (o *Outbox) Events() []domain.LedgerEvent { return o.After(0, 0) }

// LastSeq is the sequence number of the newest event, or base if empty.
func (o *Outbox) LastSeq() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.base + uint64(len(o.events))
}

// Notify fires after appends. Signals coalesce.
func (o *Outbox) Notify() <-chan struct{} { return o.notify }
