package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairstake/tickets/internal/cache/redis"
	"github.com/fairstake/tickets/internal/journal"
	"github.com/fairstake/tickets/internal/server"
	"github.com/fairstake/tickets/internal/server/handler"
	"github.com/fairstake/tickets/internal/server/ws"
	"github.com/fairstake/tickets/internal/service"
)

const (
	ModeAPI    = "api"
	ModeKeeper = "keeper"
	ModeFull   = "full"
)

// APIMode serves HTTP and websockets. Draws advance only through the API or
// an admin keeper tick.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	return a.run(ctx, deps, true, true)
}

// KeeperMode runs the draw keeper and the journal without an HTTP surface.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	return a.run(ctx, deps, false, false)
}

// FullMode runs the HTTP server and the periodic keeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, deps, true, false)
}

func (a *App) run(ctx context.Context, deps *Dependencies, serve, onDemand bool) error {
	g, ctx := errgroup.WithContext(ctx)

	keeper := service.NewDrawKeeper(deps.Platform, service.KeeperConfig{
		Interval:    a.cfg.Keeper.Interval.Duration,
		AutoClose:   a.cfg.Keeper.AutoClose,
		AutoRequest: a.cfg.Keeper.AutoRequest,
		OnDemand:    onDemand,
	}, a.logger)
	g.Go(func() error { return keeper.Run(ctx) })

	sinks := deps.Sinks()
	var hub *ws.Hub
	if serve {
		// With Redis the hub follows the published channel; otherwise it is
		// fed by the pump directly.
		hub = ws.NewHub(deps.SignalBus, redis.LedgerChannel, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
			Stream:    redis.LedgerStream,
		}, a.logger)
		if deps.SignalBus == nil {
			sinks = append(sinks, hub)
		}
		g.Go(func() error { return hub.Run(ctx) })
	}

	pump := journal.NewPump(deps.Platform.Outbox, journal.PumpConfig{
		BatchSize: a.cfg.Journal.BatchSize,
		Interval:  a.cfg.Journal.FlushInterval.Duration,
	}, a.logger, sinks...)
	g.Go(func() error {
		err := pump.Run(ctx)
		// Deliver whatever the last requests appended.
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if n := pump.Flush(flushCtx); n > 0 {
			a.logger.Info("journal flushed on shutdown", slog.Int("events", n))
		}
		return err
	})

	if serve {
		a.startHTTPServer(ctx, g, deps, hub, keeper.Wake())
	}
	return g.Wait()
}

// startHTTPServer builds the handlers and runs the server until ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, keeperTrigger chan<- struct{}) {
	p := deps.Platform
	admin := handler.NewAdminHandler(p, a.logger).WithKeeperTrigger(keeperTrigger)
	if deps.LedgerEvents != nil {
		admin = admin.WithStores(deps.LedgerEvents, deps.Audit)
	}
	if deps.BlobReader != nil {
		admin = admin.WithArchive(deps.Archiver, deps.BlobReader)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Events:  handler.NewEventHandler(p, a.logger),
		Stakes:  handler.NewStakeHandler(p, a.logger),
		Draws:   handler.NewDrawHandler(p, a.logger),
		Tickets: handler.NewTicketHandler(p, a.logger),
		Admin:   admin,
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
