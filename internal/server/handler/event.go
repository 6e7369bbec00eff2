package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/registry"
	"github.com/fairstake/tickets/internal/service"
)

// EventHandler serves event lifecycle and pool configuration.
type EventHandler struct {
	p      *service.Platform
	logger *slog.Logger
}

func NewEventHandler(p *service.Platform, logger *slog.Logger) *EventHandler {
	return &EventHandler{p: p, logger: logger}
}

type createEventRequest struct {
	Name              string    `json:"name"`
	MetadataURI       string    `json:"metadata_uri"`
	RegistrationStart time.Time `json:"registration_start"`
	RegistrationEnd   time.Time `json:"registration_end"`
	RevealDeadline    time.Time `json:"reveal_deadline"`
	PlatformFeeBps    uint16    `json:"platform_fee_bps"`
	RebateAlphaBps    uint16    `json:"rebate_alpha_bps"`
}

// List returns every event.
// GET /api/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": h.p.Registry.ListEvents(r.Context())})
}

// Create registers an event organised by the caller.
// POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	organizer, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "create event", err)
		return
	}
	var req createEventRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "create event", err)
		return
	}
	ev, err := h.p.Registry.CreateEvent(r.Context(), organizer, registry.EventParams{
		Name:              req.Name,
		MetadataURI:       req.MetadataURI,
		RegistrationStart: req.RegistrationStart,
		RegistrationEnd:   req.RegistrationEnd,
		RevealDeadline:    req.RevealDeadline,
		PlatformFeeBps:    req.PlatformFeeBps,
		RebateAlphaBps:    req.RebateAlphaBps,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// Get returns an event with live pool views.
// GET /api/events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get event", err)
		return
	}
	view, err := h.p.Event(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type configurePoolRequest struct {
	Class     string `json:"class"`
	FacePrice string `json:"face_price"`
	Quantity  uint32 `json:"quantity"`
}

// ConfigurePool sets a tier's price and quantity before registration.
// POST /api/events/{id}/pools
func (h *EventHandler) ConfigurePool(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "configure pool", err)
		return
	}
	id, err := eventID(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "configure pool", err)
		return
	}
	var req configurePoolRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "configure pool", err)
		return
	}
	class, err := domain.ParsePoolClass(req.Class)
	if err != nil {
		writeDomainError(w, r, h.logger, "configure pool", err)
		return
	}
	price, err := domain.ParseAmount(req.FacePrice)
	if err != nil {
		writeDomainError(w, r, h.logger, "configure pool", err)
		return
	}
	pool, err := h.p.Registry.ConfigurePool(r.Context(), who, id, class, price, req.Quantity)
	if err != nil {
		writeDomainError(w, r, h.logger, "configure pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// Open starts registration.
// POST /api/events/{id}/open
func (h *EventHandler) Open(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "open registration", err)
		return
	}
	h.transition(w, r, "open registration", func(id domain.EventID) (domain.Event, error) {
		return h.p.Registry.OpenRegistration(r.Context(), who, id)
	})
}

// Close ends registration once registrationEnd has passed. Anyone may call it.
// POST /api/events/{id}/close
func (h *EventHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "close registration", func(id domain.EventID) (domain.Event, error) {
		return h.p.Registry.CloseRegistration(r.Context(), id)
	})
}

// Complete marks the event revealed once every pool has drawn.
// POST /api/events/{id}/complete
func (h *EventHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete event draw", func(id domain.EventID) (domain.Event, error) {
		return h.p.Engine.CompleteEventDraw(r.Context(), id)
	})
}

func (h *EventHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(domain.EventID) (domain.Event, error)) {
	id, err := eventID(r)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	ev, err := fn(id)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Pool returns the live view of one pool.
// GET /api/events/{id}/pools/{class}
func (h *EventHandler) Pool(w http.ResponseWriter, r *http.Request) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool", err)
		return
	}
	view, err := h.p.Pool(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Rebate returns the pool's rebate account.
// GET /api/events/{id}/pools/{class}/rebate
func (h *EventHandler) Rebate(w http.ResponseWriter, r *http.Request) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get rebate", err)
		return
	}
	if _, err := h.p.Registry.Pool(r.Context(), key); err != nil {
		writeDomainError(w, r, h.logger, "get rebate", err)
		return
	}
	writeJSON(w, http.StatusOK, h.p.Ledger.Rebate(key))
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// Fund adds caller tokens to the pool's rebate budget.
// POST /api/events/{id}/pools/{class}/rebate/fund
func (h *EventHandler) Fund(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "fund rebate", err)
		return
	}
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "fund rebate", err)
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "fund rebate", err)
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "fund rebate", err)
		return
	}
	acct, err := h.p.Ledger.FundRebate(r.Context(), who, key, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "fund rebate", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Sweep moves the undistributed remainder to the treasury after the reveal
// deadline.
// POST /api/events/{id}/pools/{class}/sweep
func (h *EventHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	key, err := poolKey(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "sweep remainder", err)
		return
	}
	amount, err := h.p.Ledger.SweepRemainder(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, "sweep remainder", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"swept": amount, "swept_tokens": amount.String()})
}
