// Package registry owns event and pool definitions and the event
// lifecycle: Created, RegistrationOpen, RegistrationClosed, Revealed.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fairstake/tickets/internal/domain"
)

// EventParams are the organizer-supplied fields of a new event.
type EventParams struct {
	Name              string
	MetadataURI       string
	RegistrationStart time.Time
	RegistrationEnd   time.Time
	RevealDeadline    time.Time
	PlatformFeeBps    uint16
	RebateAlphaBps    uint16
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	events  map[domain.EventID]*domain.Event
	pools   map[domain.PoolKey]*domain.Pool
	lastID  domain.EventID
	admin   domain.Address
	clock   domain.Clock
	journal domain.Journal
	logger  *slog.Logger
}

// New creates an empty Registry. admin may act for any organizer.
func New(admin domain.Address, clock domain.Clock, journal domain.Journal, logger *slog.Logger) *Registry {
	return &Registry{
		events:  make(map[domain.EventID]*domain.Event),
		pools:   make(map[domain.PoolKey]*domain.Pool),
		admin:   admin,
		clock:   clock,
		journal: journal,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// CreateEvent validates the schedule and fee parameters and records a new
// event owned by organizer.
func (r *Registry) CreateEvent(ctx context.Context, organizer domain.Address, p EventParams) (domain.Event, error) {
	now := r.clock.Now()
	switch {
	case p.RegistrationStart.Before(now):
		return domain.Event{}, fmt.Errorf("registry: create event: registration start in the past: %w", domain.ErrInvalidTimestamps)
	case !p.RegistrationEnd.After(p.RegistrationStart):
		return domain.Event{}, fmt.Errorf("registry: create event: registration end not after start: %w", domain.ErrInvalidTimestamps)
	case !p.RevealDeadline.After(p.RegistrationEnd):
		return domain.Event{}, fmt.Errorf("registry: create event: reveal deadline not after registration end: %w", domain.ErrInvalidTimestamps)
	case p.PlatformFeeBps > domain.BpsDenominator:
		return domain.Event{}, fmt.Errorf("registry: create event: platform fee %d: %w", p.PlatformFeeBps, domain.ErrInvalidBps)
	case p.RebateAlphaBps > domain.BpsDenominator:
		return domain.Event{}, fmt.Errorf("registry: create event: rebate alpha %d: %w", p.RebateAlphaBps, domain.ErrInvalidBps)
	}

	r.mu.Lock()
	r.lastID++
	ev := &domain.Event{
		ID:                r.lastID,
		Name:              p.Name,
		MetadataURI:       p.MetadataURI,
		Organizer:         organizer,
		RegistrationStart: p.RegistrationStart,
		RegistrationEnd:   p.RegistrationEnd,
		RevealDeadline:    p.RevealDeadline,
		PlatformFeeBps:    p.PlatformFeeBps,
		RebateAlphaBps:    p.RebateAlphaBps,
		State:             domain.EventCreated,
		CreatedAt:         now,
	}
	r.events[ev.ID] = ev
	snapshot := *ev
	r.mu.Unlock()

	r.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindEventCreated,
		EventID: snapshot.ID,
		User:    organizer,
		Note:    snapshot.Name,
		Event:   &snapshot,
	})
	r.logger.Info("event created",
		slog.Uint64("event_id", uint64(snapshot.ID)),
		slog.String("organizer", organizer.Hex()),
		slog.Time("registration_start", snapshot.RegistrationStart),
	)
	return snapshot, nil
}

// ConfigurePool adds a pool tier. Pools are frozen once registration starts.
func (r *Registry) ConfigurePool(ctx context.Context, caller domain.Address, id domain.EventID, class domain.PoolClass, facePrice domain.Amount, quantity uint32) (domain.Pool, error) {
	if !class.Valid() {
		return domain.Pool{}, fmt.Errorf("registry: configure pool %d:%d: %w", id, class, domain.ErrInvalidPoolClass)
	}
	if facePrice == 0 {
		return domain.Pool{}, fmt.Errorf("registry: configure pool %d:%s: zero face price: %w", id, class, domain.ErrInvalidAmount)
	}
	if quantity == 0 {
		return domain.Pool{}, fmt.Errorf("registry: configure pool %d:%s: %w", id, class, domain.ErrInvalidQuantity)
	}

	r.mu.Lock()
	ev, err := r.eventLocked(id)
	if err != nil {
		r.mu.Unlock()
		return domain.Pool{}, err
	}
	if err := r.authorize(ev, caller); err != nil {
		r.mu.Unlock()
		return domain.Pool{}, err
	}
	if ev.State != domain.EventCreated || !r.clock.Now().Before(ev.RegistrationStart) {
		r.mu.Unlock()
		return domain.Pool{}, fmt.Errorf("registry: configure pool %d:%s: registration already started: %w", id, class, domain.ErrTooLate)
	}
	key := domain.PoolKey{EventID: id, Class: class}
	if _, ok := r.pools[key]; ok {
		r.mu.Unlock()
		return domain.Pool{}, fmt.Errorf("registry: configure pool %s: %w", key, domain.ErrAlreadyExists)
	}
	fee, err := domain.ApplyBps(facePrice, ev.PlatformFeeBps)
	if err != nil {
		r.mu.Unlock()
		return domain.Pool{}, fmt.Errorf("registry: configure pool %s: %w", key, err)
	}
	if _, err := facePrice.Add(fee); err != nil {
		r.mu.Unlock()
		return domain.Pool{}, fmt.Errorf("registry: configure pool %s: %w", key, err)
	}
	pool := &domain.Pool{
		EventID:     id,
		Class:       class,
		FacePrice:   facePrice,
		PlatformFee: fee,
		Quantity:    quantity,
	}
	r.pools[key] = pool
	snapshot := *pool
	r.mu.Unlock()

	r.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindPoolConfigured,
		EventID: id,
		Class:   class,
		User:    caller,
		Amount:  facePrice,
		Pool:    &snapshot,
	})
	r.logger.Info("pool configured",
		slog.String("pool", key.String()),
		slog.String("face_price", facePrice.String()),
		slog.String("platform_fee", fee.String()),
		slog.Uint64("quantity", uint64(quantity)),
	)
	return snapshot, nil
}

// OpenRegistration moves Created to RegistrationOpen inside the window.
func (r *Registry) OpenRegistration(ctx context.Context, caller domain.Address, id domain.EventID) (domain.Event, error) {
	return r.transition(ctx, id, domain.KindRegistrationOpened, caller, func(ev *domain.Event, now time.Time) error {
		if err := r.authorize(ev, caller); err != nil {
			return err
		}
		if ev.State != domain.EventCreated {
			return fmt.Errorf("registry: open registration %d: state %s: %w", id, ev.State, domain.ErrWrongState)
		}
		if now.Before(ev.RegistrationStart) {
			return fmt.Errorf("registry: open registration %d: %w", id, domain.ErrTooEarly)
		}
		if !now.Before(ev.RegistrationEnd) {
			return fmt.Errorf("registry: open registration %d: %w", id, domain.ErrTooLate)
		}
		if len(r.poolsLocked(id)) == 0 {
			return fmt.Errorf("registry: open registration %d: %w", id, domain.ErrNoPools)
		}
		ev.State = domain.EventRegistrationOpen
		return nil
	})
}

// CloseRegistration moves RegistrationOpen to RegistrationClosed once the
// registration end has passed. Anyone may call it.
func (r *Registry) CloseRegistration(ctx context.Context, id domain.EventID) (domain.Event, error) {
	return r.transition(ctx, id, domain.KindRegistrationClosed, domain.Address{}, func(ev *domain.Event, now time.Time) error {
		if ev.State != domain.EventRegistrationOpen {
			return fmt.Errorf("registry: close registration %d: state %s: %w", id, ev.State, domain.ErrWrongState)
		}
		if now.Before(ev.RegistrationEnd) {
			return fmt.Errorf("registry: close registration %d: %w", id, domain.ErrTooEarly)
		}
		ev.State = domain.EventRegistrationClosed
		return nil
	})
}

// MarkRevealed moves RegistrationClosed to Revealed. The lottery engine
// calls it once every pool draw has completed.
func (r *Registry) MarkRevealed(ctx context.Context, id domain.EventID) (domain.Event, error) {
	return r.transition(ctx, id, domain.KindEventRevealed, domain.Address{}, func(ev *domain.Event, _ time.Time) error {
		if ev.State != domain.EventRegistrationClosed {
			return fmt.Errorf("registry: mark revealed %d: state %s: %w", id, ev.State, domain.ErrWrongState)
		}
		ev.State = domain.EventRevealed
		return nil
	})
}

func (r *Registry) transition(ctx context.Context, id domain.EventID, kind domain.LedgerEventKind, caller domain.Address, apply func(*domain.Event, time.Time) error) (domain.Event, error) {
	r.mu.Lock()
	ev, err := r.eventLocked(id)
	if err != nil {
		r.mu.Unlock()
		return domain.Event{}, err
	}
	if err := apply(ev, r.clock.Now()); err != nil {
		r.mu.Unlock()
		return domain.Event{}, err
	}
	snapshot := *ev
	r.mu.Unlock()

	r.journal.Append(ctx, domain.LedgerEvent{
		Kind:    kind,
		EventID: id,
		User:    caller,
		Event:   &snapshot,
	})
	r.logger.Info("event state changed",
		slog.Uint64("event_id", uint64(id)),
		slog.String("state", snapshot.State.String()),
	)
	return snapshot, nil
}

// HaltPool stops every further mutation of the pool. It is called when an
// invariant violation is detected and is cleared only by a restart from a
// repaired log.
func (r *Registry) HaltPool(ctx context.Context, key domain.PoolKey, reason string) {
	r.mu.Lock()
	pool, ok := r.pools[key]
	if !ok || pool.Halted {
		r.mu.Unlock()
		return
	}
	pool.Halted = true
	pool.HaltReason = reason
	snapshot := *pool
	r.mu.Unlock()

	r.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindPoolHalted,
		EventID: key.EventID,
		Class:   key.Class,
		Note:    reason,
		Pool:    &snapshot,
	})
	r.logger.Error("pool halted",
		slog.String("pool", key.String()),
		slog.String("reason", reason),
	)
}

// EnsureActive fails with ErrPoolHalted if the pool has been halted.
func (r *Registry) EnsureActive(key domain.PoolKey) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.pools[key]; ok && p.Halted {
		return fmt.Errorf("registry: pool %s: %s: %w", key, p.HaltReason, domain.ErrPoolHalted)
	}
	return nil
}

// Event returns a copy of the event.
func (r *Registry) Event(_ context.Context, id domain.EventID) (domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, err := r.eventLocked(id)
	if err != nil {
		return domain.Event{}, err
	}
	return *ev, nil
}

// Pool returns a copy of the pool.
func (r *Registry) Pool(_ context.Context, key domain.PoolKey) (domain.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[key]
	if !ok {
		return domain.Pool{}, fmt.Errorf("registry: pool %s: %w", key, domain.ErrNotFound)
	}
	return *p, nil
}

// Pools returns the event's pools ordered by class.
func (r *Registry) Pools(_ context.Context, id domain.EventID) ([]domain.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, err := r.eventLocked(id); err != nil {
		return nil, err
	}
	return r.poolsLocked(id), nil
}

// ListEvents returns every event ordered by ID.
func (r *Registry) ListEvents(_ context.Context) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Event, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) poolsLocked(id domain.EventID) []domain.Pool {
	var out []domain.Pool
	for c := domain.PoolA; c <= domain.MaxPoolClass; c++ {
		if p, ok := r.pools[domain.PoolKey{EventID: id, Class: c}]; ok {
			out = append(out, *p)
		}
	}
	return out
}

func (r *Registry) eventLocked(id domain.EventID) (*domain.Event, error) {
	ev, ok := r.events[id]
	if !ok {
		return nil, fmt.Errorf("registry: event %d: %w", id, domain.ErrNotFound)
	}
	return ev, nil
}

func (r *Registry) authorize(ev *domain.Event, caller domain.Address) error {
	if caller == ev.Organizer || (r.admin != (domain.Address{}) && caller == r.admin) {
		return nil
	}
	return fmt.Errorf("registry: event %d: caller %s is not the organizer: %w", ev.ID, caller.Hex(), domain.ErrUnauthorized)
}
