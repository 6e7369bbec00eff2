package handler

import (
	"log/slog"
	"net/http"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/service"
)

// DrawHandler serves the randomness request and winner selection steps.
type DrawHandler struct {
	p      *service.Platform
	logger *slog.Logger
}

func NewDrawHandler(p *service.Platform, logger *slog.Logger) *DrawHandler {
	return &DrawHandler{p: p, logger: logger}
}

// Request asks the oracle for the pool's randomness.
// POST /api/events/{id}/pools/{class}/draw
func (h *DrawHandler) Request(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, "request draw", http.StatusAccepted, func(key domain.PoolKey) (domain.DrawRequest, error) {
		return h.p.Engine.RequestDraw(r.Context(), key)
	})
}

// Reveal consumes revealed randomness and resolves the pool.
// POST /api/events/{id}/pools/{class}/reveal
func (h *DrawHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, "reveal draw", http.StatusOK, func(key domain.PoolKey) (domain.DrawRequest, error) {
		return h.p.Engine.RevealAndSelectWinners(r.Context(), key)
	})
}

// ReRequest replaces a stalled request once the reveal deadline has passed.
// POST /api/admin/events/{id}/pools/{class}/draw/retry
func (h *DrawHandler) ReRequest(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, "re-request draw", http.StatusAccepted, func(key domain.PoolKey) (domain.DrawRequest, error) {
		return h.p.Engine.ReRequestDraw(r.Context(), h.p.Config.Admin, key)
	})
}

func (h *DrawHandler) step(w http.ResponseWriter, r *http.Request, op string, status int, fn func(domain.PoolKey) (domain.DrawRequest, error)) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	d, err := fn(key)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, status, d)
}

// Get returns the pool's draw request, status and the current oracle fee.
// GET /api/events/{id}/pools/{class}/draw
func (h *DrawHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get draw", err)
		return
	}
	if _, err := h.p.Registry.Pool(r.Context(), key); err != nil {
		writeDomainError(w, r, h.logger, "get draw", err)
		return
	}
	body := map[string]any{
		"status": h.p.Engine.DrawStatus(key),
		"fee":    h.p.Engine.DrawFee(),
	}
	if d, err := h.p.Engine.DrawRequest(r.Context(), key); err == nil {
		body["request"] = d
	}
	writeJSON(w, http.StatusOK, body)
}

// Winners lists the selected stake ids.
// GET /api/events/{id}/pools/{class}/winners
func (h *DrawHandler) Winners(w http.ResponseWriter, r *http.Request) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get winners", err)
		return
	}
	winners, err := h.p.Engine.Winners(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, "get winners", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"winners": orEmpty(winners)})
}
