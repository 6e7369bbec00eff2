package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fairstake/tickets/internal/domain"
)

// KeeperConfig controls the draw keeper.
type KeeperConfig struct {
	Interval time.Duration
	// AutoClose closes registration once registrationEnd has passed.
	AutoClose bool
	// AutoRequest requests draws for every pool of a closed event.
	AutoRequest bool
	// OnDemand disables the ticker; passes run only when woken.
	OnDemand bool
}

// KeeperReport counts what one pass did.
type KeeperReport struct {
	Closed    int
	Requested int
	Revealed  int
	Pending   int
	Completed int
	Failed    int
}

// Progressed reports whether the pass changed any state or hit an error.
func (r KeeperReport) Progressed() bool {
	return r.Closed+r.Requested+r.Revealed+r.Completed+r.Failed > 0
}

// DrawKeeper moves events through close, request, reveal and complete
// without operator action.
type DrawKeeper struct {
	p      *Platform
	cfg    KeeperConfig
	wake   chan struct{}
	logger *slog.Logger
}

// NewDrawKeeper creates a keeper over p.
func NewDrawKeeper(p *Platform, cfg KeeperConfig, logger *slog.Logger) *DrawKeeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &DrawKeeper{
		p:      p,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		logger: logger.With(slog.String("component", "keeper")),
	}
}

// Wake returns a channel that triggers an extra pass when sent to.
func (k *DrawKeeper) Wake() chan<- struct{} { return k.wake }

// Run ticks until ctx ends.
func (k *DrawKeeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started",
		slog.Duration("interval", k.cfg.Interval),
		slog.Bool("on_demand", k.cfg.OnDemand),
	)
	var tick <-chan time.Time
	if !k.cfg.OnDemand {
		ticker := time.NewTicker(k.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopped")
			return nil
		case <-tick:
			k.pass(ctx)
		case <-k.wake:
			k.pass(ctx)
		}
	}
}

func (k *DrawKeeper) pass(ctx context.Context) {
	r := k.Tick(ctx)
	if !r.Progressed() {
		return
	}
	k.logger.InfoContext(ctx, "keeper pass",
		slog.Int("closed", r.Closed),
		slog.Int("requested", r.Requested),
		slog.Int("revealed", r.Revealed),
		slog.Int("pending", r.Pending),
		slog.Int("completed", r.Completed),
		slog.Int("failed", r.Failed),
	)
}

// Tick makes one pass over every event that is not yet revealed.
func (k *DrawKeeper) Tick(ctx context.Context) KeeperReport {
	var r KeeperReport
	now := k.p.Clock.Now()

	for _, ev := range k.p.Registry.ListEvents(ctx) {
		if ctx.Err() != nil {
			return r
		}
		switch ev.State {
		case domain.EventRegistrationOpen:
			if !k.cfg.AutoClose || now.Before(ev.RegistrationEnd) {
				continue
			}
			if _, err := k.p.Registry.CloseRegistration(ctx, ev.ID); err != nil {
				k.failed(ctx, &r, "close registration", ev.ID, err)
				continue
			}
			r.Closed++
			k.advancePools(ctx, ev.ID, &r)
		case domain.EventRegistrationClosed:
			k.advancePools(ctx, ev.ID, &r)
		}
	}
	return r
}

func (k *DrawKeeper) advancePools(ctx context.Context, id domain.EventID, r *KeeperReport) {
	pools, err := k.p.Registry.Pools(ctx, id)
	if err != nil {
		k.failed(ctx, r, "list pools", id, err)
		return
	}

	done := true
	for _, pool := range pools {
		key := pool.Key()
		if pool.Halted {
			done = false
			continue
		}

		status := k.p.Engine.DrawStatus(key)
		if status == domain.DrawNotRequested {
			if !k.cfg.AutoRequest {
				done = false
				continue
			}
			if _, err := k.p.Engine.RequestDraw(ctx, key); err != nil {
				k.failed(ctx, r, "request draw", id, err)
				done = false
				continue
			}
			r.Requested++
			status = domain.DrawRequested
		}

		if status == domain.DrawRequested {
			_, err := k.p.Engine.RevealAndSelectWinners(ctx, key)
			switch {
			case errors.Is(err, domain.ErrNotYetRevealed):
				r.Pending++
				done = false
				continue
			case err != nil:
				k.failed(ctx, r, "reveal draw", id, err)
				done = false
				continue
			}
			r.Revealed++
		}
	}

	if !done || len(pools) == 0 {
		return
	}
	if _, err := k.p.Engine.CompleteEventDraw(ctx, id); err != nil {
		k.failed(ctx, r, "complete event draw", id, err)
		return
	}
	r.Completed++
}

func (k *DrawKeeper) failed(ctx context.Context, r *KeeperReport, op string, id domain.EventID, err error) {
	r.Failed++
	k.logger.WarnContext(ctx, "keeper step failed",
		slog.String("op", op),
		slog.Uint64("event_id", uint64(id)),
		slog.String("category", domain.Category(err).String()),
		slog.String("error", err.Error()),
	)
}
