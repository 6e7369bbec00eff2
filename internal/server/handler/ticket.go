package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/service"
)

// TicketHandler serves soulbound ticket lookups and resale transfers.
type TicketHandler struct {
	p      *service.Platform
	logger *slog.Logger
}

func NewTicketHandler(p *service.Platform, logger *slog.Logger) *TicketHandler {
	return &TicketHandler{p: p, logger: logger}
}

// Get returns one ticket.
// GET /api/tickets/{id}
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := pathUint(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "get ticket", err)
		return
	}
	t, err := h.p.Issuer.Ticket(r.Context(), domain.TokenID(n))
	if err != nil {
		writeDomainError(w, r, h.logger, "get ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ByUser returns the user's ticket for a pool.
// GET /api/events/{id}/pools/{class}/tickets/{addr}
func (h *TicketHandler) ByUser(w http.ResponseWriter, r *http.Request) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get user ticket", err)
		return
	}
	user, err := parseAddress(r.PathValue("addr"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get user ticket", err)
		return
	}
	t, err := h.p.Issuer.UserTicket(r.Context(), user, key)
	if err != nil {
		writeDomainError(w, r, h.logger, "get user ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type transferRequest struct {
	To string `json:"to"`
}

// Transfer moves a ticket. Only the configured resale account may call it.
// POST /api/tickets/{id}/transfer
func (h *TicketHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "transfer ticket", err)
		return
	}
	n, err := pathUint(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "transfer ticket", err)
		return
	}
	var req transferRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "transfer ticket", err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeDomainError(w, r, h.logger, "transfer ticket", fmt.Errorf("recipient: %w", err))
		return
	}
	t, err := h.p.Issuer.Transfer(r.Context(), who, domain.TokenID(n), to)
	if err != nil {
		writeDomainError(w, r, h.logger, "transfer ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
