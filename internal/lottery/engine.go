// Package lottery runs the per-pool commit/reveal draw and selects winners.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/lock"
)

const lockTTL = 30 * time.Second

// Events is the registry view the engine needs.
type Events interface {
	Event(ctx context.Context, id domain.EventID) (domain.Event, error)
	Pool(ctx context.Context, key domain.PoolKey) (domain.Pool, error)
	Pools(ctx context.Context, id domain.EventID) ([]domain.Pool, error)
	EnsureActive(key domain.PoolKey) error
	HaltPool(ctx context.Context, key domain.PoolKey, reason string)
	MarkRevealed(ctx context.Context, id domain.EventID) (domain.Event, error)
}

// Config holds the engine's static addresses.
type Config struct {
	// Address is presented to the ledger when marking winners.
	Address domain.Address
	// Admin may re-request a stalled draw.
	Admin domain.Address
	// FeePayer funds oracle requests; OracleAccount receives the fees.
	FeePayer      domain.Address
	OracleAccount domain.Address
}

// Engine owns one DrawRequest per pool.
type Engine struct {
	cfg      Config
	events   Events
	stakes   domain.StakeStore
	recorder domain.WinnerRecorder
	oracle   domain.RandomnessOracle
	vault    domain.Vault
	locks    domain.LockManager
	clock    domain.Clock
	journal  domain.Journal
	logger   *slog.Logger

	mu    sync.RWMutex
	draws map[domain.PoolKey]*domain.DrawRequest
}

// Deps are the engine collaborators.
type Deps struct {
	Events   Events
	Stakes   domain.StakeStore
	Recorder domain.WinnerRecorder
	Oracle   domain.RandomnessOracle
	Vault    domain.Vault
	Locks    domain.LockManager
	Clock    domain.Clock
	Journal  domain.Journal
}

// New creates an Engine.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		events:   deps.Events,
		stakes:   deps.Stakes,
		recorder: deps.Recorder,
		oracle:   deps.Oracle,
		vault:    deps.Vault,
		locks:    deps.Locks,
		clock:    deps.Clock,
		journal:  deps.Journal,
		logger:   logger.With(slog.String("component", "lottery")),
		draws:    make(map[domain.PoolKey]*domain.DrawRequest),
	}
}

func (e *Engine) fail(ctx context.Context, key domain.PoolKey, err error) error {
	if errors.Is(err, domain.ErrInvariantViolation) {
		e.events.HaltPool(ctx, key, err.Error())
	}
	return err
}

// candidates returns the pool's active, unresolved stake IDs in creation
// order.
func (e *Engine) candidates(ctx context.Context, key domain.PoolKey) ([]domain.StakeID, error) {
	stakes, err := e.stakes.ByPool(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StakeID, 0, len(stakes))
	for _, s := range stakes {
		if !s.Active() {
			continue
		}
		if s.Outcome != domain.OutcomeUnresolved {
			return nil, fmt.Errorf("lottery: candidates %s: stake %d: %w", key, s.ID, domain.ErrAlreadyResolved)
		}
		out = append(out, s.ID)
	}
	return out, nil
}

func (e *Engine) draw(key domain.PoolKey) (domain.DrawRequest, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.draws[key]
	if !ok {
		return domain.DrawRequest{}, false
	}
	out := *d
	out.Winners = append([]domain.StakeID(nil), d.Winners...)
	return out, true
}

func (e *Engine) store(d domain.DrawRequest) {
	e.mu.Lock()
	e.draws[d.Key()] = &d
	e.mu.Unlock()
}

// payAndRequest charges the oracle fee and submits the commitment. The fee
// is returned if the oracle rejects the request.
func (e *Engine) payAndRequest(ctx context.Context, key domain.PoolKey, commitment domain.Hash) (domain.RequestID, domain.Amount, error) {
	fee := e.oracle.Fee()
	if fee > 0 {
		if err := e.vault.Transfer(ctx, e.cfg.FeePayer, e.cfg.OracleAccount, fee); err != nil {
			return 0, 0, fmt.Errorf("lottery: request %s: fee %s: %v: %w", key, fee, err, domain.ErrInsufficientFee)
		}
	}
	id, err := e.oracle.RequestRandom(ctx, commitment)
	if err != nil {
		if fee > 0 {
			if rerr := e.vault.Transfer(ctx, e.cfg.OracleAccount, e.cfg.FeePayer, fee); rerr != nil {
				e.logger.Warn("oracle fee not returned",
					slog.String("pool", key.String()),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return 0, 0, fmt.Errorf("lottery: request %s: %w", key, err)
	}
	return id, fee, nil
}

// RequestDraw commits to the pool's frozen candidate set. Pools with no
// more candidates than tickets are marked trivial and consume no
// randomness.
func (e *Engine) RequestDraw(ctx context.Context, key domain.PoolKey) (domain.DrawRequest, error) {
	unlock, err := e.locks.Acquire(ctx, lock.PoolKey(key), lockTTL)
	if err != nil {
		return domain.DrawRequest{}, err
	}
	defer unlock()

	if err := e.events.EnsureActive(key); err != nil {
		return domain.DrawRequest{}, err
	}
	ev, err := e.events.Event(ctx, key.EventID)
	if err != nil {
		return domain.DrawRequest{}, err
	}
	pool, err := e.events.Pool(ctx, key)
	if err != nil {
		return domain.DrawRequest{}, err
	}
	if ev.State != domain.EventRegistrationClosed {
		return domain.DrawRequest{}, fmt.Errorf("lottery: request %s: event %s: %w", key, ev.State, domain.ErrWrongState)
	}
	if _, ok := e.draw(key); ok {
		return domain.DrawRequest{}, fmt.Errorf("lottery: request %s: %w", key, domain.ErrAlreadyRequested)
	}

	cands, err := e.candidates(ctx, key)
	if err != nil {
		return domain.DrawRequest{}, err
	}
	d := domain.DrawRequest{
		EventID:        key.EventID,
		Class:          key.Class,
		Status:         domain.DrawRequested,
		CandidateCount: uint32(len(cands)),
		Quantity:       pool.Quantity,
		Trivial:        uint64(len(cands)) <= uint64(pool.Quantity),
		RequestedAt:    e.clock.Now(),
	}
	d.Commitment = Commitment(key, d.CandidateCount, d.Attempt)
	if !d.Trivial {
		if d.RequestID, d.FeePaid, err = e.payAndRequest(ctx, key, d.Commitment); err != nil {
			return domain.DrawRequest{}, err
		}
	}
	e.store(d)

	e.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindDrawRequested,
		EventID: key.EventID,
		Class:   key.Class,
		Amount:  d.FeePaid,
		Draw:    &d,
	})
	e.logger.Info("draw requested",
		slog.String("pool", key.String()),
		slog.Uint64("candidates", uint64(d.CandidateCount)),
		slog.Uint64("request_id", uint64(d.RequestID)),
		slog.Bool("trivial", d.Trivial),
	)
	return d, nil
}

// RevealAndSelectWinners consumes the committed random value, selects the
// winners and records them in the ledger. It fails with ErrNotYetRevealed
// until the oracle is ready and with ErrAlreadyRevealed on replay.
func (e *Engine) RevealAndSelectWinners(ctx context.Context, key domain.PoolKey) (domain.DrawRequest, error) {
	unlock, err := e.locks.Acquire(ctx, lock.PoolKey(key), lockTTL)
	if err != nil {
		return domain.DrawRequest{}, err
	}
	defer unlock()

	if err := e.events.EnsureActive(key); err != nil {
		return domain.DrawRequest{}, err
	}
	d, ok := e.draw(key)
	if !ok {
		return domain.DrawRequest{}, fmt.Errorf("lottery: reveal %s: %w", key, domain.ErrNotRequested)
	}
	if d.Status == domain.DrawRevealed {
		return domain.DrawRequest{}, fmt.Errorf("lottery: reveal %s: %w", key, domain.ErrAlreadyRevealed)
	}

	if !d.Trivial {
		ready, value, err := e.oracle.GetRandom(ctx, d.RequestID)
		if err != nil {
			return domain.DrawRequest{}, fmt.Errorf("lottery: reveal %s: %w", key, err)
		}
		if !ready {
			return domain.DrawRequest{}, fmt.Errorf("lottery: reveal %s: request %d: %w", key, d.RequestID, domain.ErrNotYetRevealed)
		}
		d.Seed = value
	}

	cands, err := e.candidates(ctx, key)
	if err != nil {
		return domain.DrawRequest{}, e.fail(ctx, key, err)
	}
	if uint32(len(cands)) != d.CandidateCount {
		return domain.DrawRequest{}, e.fail(ctx, key, fmt.Errorf("lottery: reveal %s: candidate set changed from %d to %d: %w",
			key, d.CandidateCount, len(cands), domain.ErrInvariantViolation))
	}

	winners := SelectWinners(d.Seed, cands, d.Quantity)
	want := d.CandidateCount
	if d.Quantity < want {
		want = d.Quantity
	}
	if uint32(len(winners)) != want {
		return domain.DrawRequest{}, e.fail(ctx, key, fmt.Errorf("lottery: reveal %s: selected %d of %d: %w",
			key, len(winners), want, domain.ErrInvariantViolation))
	}
	if err := e.recorder.MarkWinnersHeld(ctx, e.cfg.Address, key, winners); err != nil {
		return domain.DrawRequest{}, e.fail(ctx, key, err)
	}

	now := e.clock.Now()
	d.Status = domain.DrawRevealed
	d.Winners = winners
	d.RevealedAt = &now
	e.store(d)

	e.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindDrawRevealed,
		EventID: key.EventID,
		Class:   key.Class,
		Note:    d.Seed.Hex(),
		Draw:    &d,
	})
	e.logger.Info("draw revealed",
		slog.String("pool", key.String()),
		slog.Int("winners", len(winners)),
		slog.Uint64("candidates", uint64(d.CandidateCount)),
	)
	return d, nil
}

// ReRequestDraw replaces a draw whose oracle has not revealed by the
// event's reveal deadline. Admin only.
func (e *Engine) ReRequestDraw(ctx context.Context, caller domain.Address, key domain.PoolKey) (domain.DrawRequest, error) {
	if e.cfg.Admin == (domain.Address{}) || caller != e.cfg.Admin {
		return domain.DrawRequest{}, fmt.Errorf("lottery: re-request %s: caller %s: %w", key, caller.Hex(), domain.ErrUnauthorized)
	}
	unlock, err := e.locks.Acquire(ctx, lock.PoolKey(key), lockTTL)
	if err != nil {
		return domain.DrawRequest{}, err
	}
	defer unlock()

	if err := e.events.EnsureActive(key); err != nil {
		return domain.DrawRequest{}, err
	}
	d, ok := e.draw(key)
	if !ok {
		return domain.DrawRequest{}, fmt.Errorf("lottery: re-request %s: %w", key, domain.ErrNotRequested)
	}
	if d.Status == domain.DrawRevealed {
		return domain.DrawRequest{}, fmt.Errorf("lottery: re-request %s: %w", key, domain.ErrAlreadyRevealed)
	}
	if d.Trivial {
		return domain.DrawRequest{}, fmt.Errorf("lottery: re-request %s: trivial draw needs no randomness: %w", key, domain.ErrWrongState)
	}
	ev, err := e.events.Event(ctx, key.EventID)
	if err != nil {
		return domain.DrawRequest{}, err
	}
	if e.clock.Now().Before(ev.RevealDeadline) {
		return domain.DrawRequest{}, fmt.Errorf("lottery: re-request %s: %w", key, domain.ErrTooEarly)
	}
	ready, _, err := e.oracle.GetRandom(ctx, d.RequestID)
	if err != nil && !errors.Is(err, domain.ErrOracleUnavailable) {
		return domain.DrawRequest{}, fmt.Errorf("lottery: re-request %s: %w", key, err)
	}
	if ready {
		return domain.DrawRequest{}, fmt.Errorf("lottery: re-request %s: oracle has revealed: %w", key, domain.ErrWrongState)
	}

	prev := d.RequestID
	d.Attempt++
	d.Commitment = Commitment(key, d.CandidateCount, d.Attempt)
	id, fee, err := e.payAndRequest(ctx, key, d.Commitment)
	if err != nil {
		return domain.DrawRequest{}, err
	}
	d.RequestID = id
	d.FeePaid += fee
	d.RequestedAt = e.clock.Now()
	e.store(d)

	e.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindDrawReRequested,
		EventID: key.EventID,
		Class:   key.Class,
		User:    caller,
		Amount:  fee,
		Note:    fmt.Sprintf("replaces request %d", prev),
		Draw:    &d,
	})
	e.logger.Warn("draw re-requested",
		slog.String("pool", key.String()),
		slog.Uint64("previous_request", uint64(prev)),
		slog.Uint64("request_id", uint64(id)),
		slog.Uint64("attempt", uint64(d.Attempt)),
	)
	return d, nil
}

// CompleteEventDraw marks the event revealed once every pool has revealed.
func (e *Engine) CompleteEventDraw(ctx context.Context, id domain.EventID) (domain.Event, error) {
	pools, err := e.events.Pools(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}
	for _, p := range pools {
		d, ok := e.draw(p.Key())
		if !ok || d.Status != domain.DrawRevealed {
			return domain.Event{}, fmt.Errorf("lottery: complete event %d: pool %s: %w", id, p.Class, domain.ErrDrawsIncomplete)
		}
	}
	ev, err := e.events.MarkRevealed(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}
	e.logger.Info("event draw complete", slog.Uint64("event_id", uint64(id)))
	return ev, nil
}

// DrawRequest returns the pool's draw record.
func (e *Engine) DrawRequest(_ context.Context, key domain.PoolKey) (domain.DrawRequest, error) {
	d, ok := e.draw(key)
	if !ok {
		return domain.DrawRequest{}, fmt.Errorf("lottery: draw %s: %w", key, domain.ErrNotFound)
	}
	return d, nil
}

// DrawStatus reports the pool's position in the draw state machine.
func (e *Engine) DrawStatus(key domain.PoolKey) domain.DrawStatus {
	d, ok := e.draw(key)
	if !ok {
		return domain.DrawNotRequested
	}
	return d.Status
}

// Winners returns the revealed winner IDs in selection order.
func (e *Engine) Winners(_ context.Context, key domain.PoolKey) ([]domain.StakeID, error) {
	d, ok := e.draw(key)
	if !ok || d.Status != domain.DrawRevealed {
		return nil, fmt.Errorf("lottery: winners %s: %w", key, domain.ErrNotYetRevealed)
	}
	return d.Winners, nil
}

// DrawFee is the oracle fee charged per non-trivial request.
func (e *Engine) DrawFee() domain.Amount { return e.oracle.Fee() }
