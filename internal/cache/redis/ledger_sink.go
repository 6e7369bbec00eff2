package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fairstake/tickets/internal/domain"
)

// Channel and stream the ledger is fanned out on.
const (
	LedgerChannel = "ch:ledger"
	LedgerStream  = "stream:ledger"
)

// LedgerSink publishes every ledger event on LedgerChannel and appends it to
// LedgerStream. It satisfies journal.Sink.
type LedgerSink struct {
	bus domain.SignalBus
}

// NewLedgerSink creates a sink over bus.
func NewLedgerSink(bus domain.SignalBus) *LedgerSink {
	return &LedgerSink{bus: bus}
}

func (s *LedgerSink) Name() string { return "redis" }

// Consume stops at the first failure; the pump replays the whole batch, so
// subscribers may see an event twice and should dedupe on seq.
func (s *LedgerSink) Consume(ctx context.Context, events []domain.LedgerEvent) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("redis: marshal ledger event %d: %w", ev.Seq, err)
		}
		if err := s.bus.StreamAppend(ctx, LedgerStream, payload); err != nil {
			return err
		}
		if err := s.bus.Publish(ctx, LedgerChannel, payload); err != nil {
			return err
		}
	}
	return nil
}
