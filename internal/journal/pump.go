package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairstake/tickets/internal/domain"
)

// Sink consumes ordered batches of ledger events. A failed batch is
// retried from the same position.
type Sink interface {
	Name() string
	Consume(ctx context.Context, events []domain.LedgerEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, events []domain.LedgerEvent) error
}

func (s SinkFunc) Name() string { return s.SinkName }

func (s SinkFunc) Consume(ctx context.Context, events []domain.LedgerEvent) error {
	return s.Fn(ctx, events)
}

// PumpConfig controls batching and retry cadence.
type PumpConfig struct {
	BatchSize int
	Interval  time.Duration
}

type cursor struct {
	sink Sink
	seq  uint64
}

// Pump drains an Outbox into sinks, each with its own cursor.
type Pump struct {
	outbox  *Outbox
	cfg     PumpConfig
	logger  *slog.Logger
	mu      sync.Mutex
	cursors []*cursor
}

// NewPump creates a Pump. Sinks start after the outbox base sequence.
func NewPump(outbox *Outbox, cfg PumpConfig, logger *slog.Logger, sinks ...Sink) *Pump {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	p := &Pump{
		outbox: outbox,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "journal_pump")),
	}
	for _, s := range sinks {
		p.cursors = append(p.cursors, &cursor{sink: s, seq: outbox.base})
	}
	return p
}

// Run delivers events until ctx is cancelled, then makes a final flush
// attempt with a short deadline.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.Flush(flushCtx)
			cancel()
			return nil
		case <-p.outbox.Notify():
		case <-ticker.C:
		}
		p.Flush(ctx)
	}
}

// Flush pushes every pending event to every sink once. It returns the
// number of sinks that are still behind.
func (p *Pump) Flush(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	behind := 0
	for _, c := range p.cursors {
		for {
			batch := p.outbox.After(c.seq, p.cfg.BatchSize)
			if len(batch) == 0 {
				break
			}
			if err := c.sink.Consume(ctx, batch); err != nil {
				p.logger.Warn("sink delivery failed",
					slog.String("sink", c.sink.Name()),
					slog.Uint64("from_seq", batch[0].Seq),
					slog.String("error", err.Error()),
				)
				behind++
				break
			}
			c.seq = batch[len(batch)-1].Seq
		}
	}
	return behind
}

// Cursor reports the last sequence delivered to the named sink.
func (p *Pump) Cursor(name string) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.cursors {
		if c.sink.Name() == name {
			return c.seq, true
		}
	}
	return 0, false
}
