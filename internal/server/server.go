// Package server exposes the FairStake platform over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/server/handler"
	"github.com/fairstake/tickets/internal/server/middleware"
	"github.com/fairstake/tickets/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards /api/admin. Empty disables the admin routes.
	APIKey          string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Events  *handler.EventHandler
	Stakes  *handler.StakeHandler
	Draws   *handler.DrawHandler
	Tickets *handler.TicketHandler
	Admin   *handler.AdminHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging, CORS and
// optional rate limiting.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, h, hub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/events", h.Events.List)
	mux.HandleFunc("POST /api/events", h.Events.Create)
	mux.HandleFunc("GET /api/events/{id}", h.Events.Get)
	mux.HandleFunc("POST /api/events/{id}/pools", h.Events.ConfigurePool)
	mux.HandleFunc("POST /api/events/{id}/open", h.Events.Open)
	mux.HandleFunc("POST /api/events/{id}/close", h.Events.Close)
	mux.HandleFunc("POST /api/events/{id}/complete", h.Events.Complete)
	mux.HandleFunc("GET /api/events/{id}/pools/{class}", h.Events.Pool)
	mux.HandleFunc("GET /api/events/{id}/pools/{class}/rebate", h.Events.Rebate)
	mux.HandleFunc("POST /api/events/{id}/pools/{class}/rebate/fund", h.Events.Fund)
	mux.HandleFunc("POST /api/events/{id}/pools/{class}/sweep", h.Events.Sweep)

	mux.HandleFunc("GET /api/events/{id}/pools/{class}/stakes", h.Stakes.ByPool)
	mux.HandleFunc("POST /api/events/{id}/pools/{class}/stakes", h.Stakes.Enter)
	mux.HandleFunc("GET /api/events/{id}/pools/{class}/winners/{addr}", h.Stakes.Winner)
	mux.HandleFunc("GET /api/stakes/{id}", h.Stakes.Get)
	mux.HandleFunc("POST /api/stakes/{id}/withdraw", h.Stakes.Withdraw)
	mux.HandleFunc("POST /api/stakes/{id}/refund", h.Stakes.Refund)
	mux.HandleFunc("POST /api/stakes/{id}/ticket", h.Stakes.Ticket)
	mux.HandleFunc("GET /api/users/{addr}/stakes", h.Stakes.ByUser)

	mux.HandleFunc("GET /api/events/{id}/pools/{class}/draw", h.Draws.Get)
	mux.HandleFunc("POST /api/events/{id}/pools/{class}/draw", h.Draws.Request)
	mux.HandleFunc("POST /api/events/{id}/pools/{class}/reveal", h.Draws.Reveal)
	mux.HandleFunc("GET /api/events/{id}/pools/{class}/winners", h.Draws.Winners)

	mux.HandleFunc("GET /api/tickets/{id}", h.Tickets.Get)
	mux.HandleFunc("POST /api/tickets/{id}/transfer", h.Tickets.Transfer)
	mux.HandleFunc("GET /api/events/{id}/pools/{class}/tickets/{addr}", h.Tickets.ByUser)

	mux.HandleFunc("GET /api/accounts/{addr}/balance", h.Admin.Balance)

	admin := http.NewServeMux()
	admin.HandleFunc("GET /api/admin/whitelist", h.Admin.Whitelist)
	admin.HandleFunc("POST /api/admin/whitelist", h.Admin.WhitelistAdd)
	admin.HandleFunc("DELETE /api/admin/whitelist", h.Admin.WhitelistRemove)
	admin.HandleFunc("POST /api/admin/faucet", h.Admin.Faucet)
	admin.HandleFunc("POST /api/admin/events/{id}/pools/{class}/halt", h.Admin.Halt)
	admin.HandleFunc("POST /api/admin/events/{id}/pools/{class}/draw/retry", h.Draws.ReRequest)
	admin.HandleFunc("GET /api/admin/verify", h.Admin.Verify)
	admin.HandleFunc("GET /api/admin/ledger", h.Admin.Ledger)
	admin.HandleFunc("GET /api/admin/audit", h.Admin.Audit)
	admin.HandleFunc("POST /api/admin/archive", h.Admin.Archive)
	admin.HandleFunc("GET /api/admin/archives", h.Admin.Archives)
	admin.HandleFunc("GET /api/admin/archives/{path...}", h.Admin.ArchiveFile)
	admin.HandleFunc("POST /api/admin/keeper/tick", h.Admin.KeeperTick)
	mux.Handle("/api/admin/", middleware.RequireAPIKey(cfg.APIKey)(admin))

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var out http.Handler = mux
	out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(out)
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
