package handler

import (
	"log/slog"
	"net/http"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/service"
)

// StakeHandler serves pool entry, withdrawal and claims.
type StakeHandler struct {
	p      *service.Platform
	logger *slog.Logger
}

func NewStakeHandler(p *service.Platform, logger *slog.Logger) *StakeHandler {
	return &StakeHandler{p: p, logger: logger}
}

// Enter stakes the caller into a pool.
// POST /api/events/{id}/pools/{class}/stakes
func (h *StakeHandler) Enter(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "enter pool", err)
		return
	}
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "enter pool", err)
		return
	}
	stake, err := h.p.Ledger.EnterPool(r.Context(), user, key.EventID, key.Class)
	if err != nil {
		writeDomainError(w, r, h.logger, "enter pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, stake)
}

// Get returns one stake.
// GET /api/stakes/{id}
func (h *StakeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := stakeID(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get stake", err)
		return
	}
	stake, err := h.p.Ledger.Stake(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get stake", err)
		return
	}
	writeJSON(w, http.StatusOK, stake)
}

// Withdraw cancels the caller's stake while registration is open.
// POST /api/stakes/{id}/withdraw
func (h *StakeHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, "withdraw stake", func(who domain.Address, id domain.StakeID) (any, error) {
		return h.p.Ledger.WithdrawStake(r.Context(), who, id)
	})
}

// Refund pays a losing stake its face value plus rebate.
// POST /api/stakes/{id}/refund
func (h *StakeHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, "claim refund", func(who domain.Address, id domain.StakeID) (any, error) {
		payout, err := h.p.Ledger.ClaimRefund(r.Context(), who, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"payout": payout, "total": payout.Total()}, nil
	})
}

// Ticket mints the winning stake's ticket.
// POST /api/stakes/{id}/ticket
func (h *StakeHandler) Ticket(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, "claim ticket", func(who domain.Address, id domain.StakeID) (any, error) {
		return h.p.Ledger.ClaimTicket(r.Context(), who, id)
	})
}

func (h *StakeHandler) claim(w http.ResponseWriter, r *http.Request, op string, fn func(domain.Address, domain.StakeID) (any, error)) {
	who, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	id, err := stakeID(r)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	out, err := fn(who, id)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ByUser lists a user's stakes across all pools.
// GET /api/users/{addr}/stakes
func (h *StakeHandler) ByUser(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(r.PathValue("addr"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list user stakes", err)
		return
	}
	stakes, err := h.p.Ledger.UserStakes(r.Context(), user)
	if err != nil {
		writeDomainError(w, r, h.logger, "list user stakes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stakes": orEmpty(stakes)})
}

// ByPool lists a pool's stakes in entry order.
// GET /api/events/{id}/pools/{class}/stakes
func (h *StakeHandler) ByPool(w http.ResponseWriter, r *http.Request) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "list pool stakes", err)
		return
	}
	stakes, err := h.p.Ledger.PoolStakes(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, "list pool stakes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stakes": orEmpty(stakes)})
}

// Winner reports whether a user holds a winning stake in a pool.
// GET /api/events/{id}/pools/{class}/winners/{addr}
func (h *StakeHandler) Winner(w http.ResponseWriter, r *http.Request) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "is winner", err)
		return
	}
	user, err := parseAddress(r.PathValue("addr"))
	if err != nil {
		writeDomainError(w, r, h.logger, "is winner", err)
		return
	}
	won, err := h.p.Ledger.IsWinner(r.Context(), user, key)
	if err != nil {
		writeDomainError(w, r, h.logger, "is winner", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "winner": won})
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
