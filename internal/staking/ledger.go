// Package staking is the settlement ledger: it escrows stakes, applies
// lottery outcomes and pays out each stake exactly once, either as a ticket
// or as a refund plus rebate.
package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/lock"
	"github.com/fairstake/tickets/internal/rebate"
	"github.com/fairstake/tickets/internal/vault"
)

const lockTTL = 30 * time.Second

// Events is the registry view the ledger needs.
type Events interface {
	Event(ctx context.Context, id domain.EventID) (domain.Event, error)
	Pool(ctx context.Context, key domain.PoolKey) (domain.Pool, error)
	EnsureActive(key domain.PoolKey) error
	HaltPool(ctx context.Context, key domain.PoolKey, reason string)
}

// Config holds the static wiring addresses.
type Config struct {
	// Address is the identity the ledger presents to the ticket minter.
	Address domain.Address
	// Engine is the only caller allowed to mark winners.
	Engine   domain.Address
	Treasury domain.Address
}

// Deps are the ledger collaborators.
type Deps struct {
	Events   Events
	Stakes   domain.StakeStore
	Vault    domain.Vault
	Identity domain.IdentityOracle
	Rebates  *rebate.Pool
	Minter   domain.TicketMinter
	URIs     domain.TicketURIProvider
	Locks    domain.LockManager
	Clock    domain.Clock
	Journal  domain.Journal
}

// Ledger implements the staking, resolution and claim paths.
type Ledger struct {
	cfg      Config
	events   Events
	stakes   domain.StakeStore
	vault    domain.Vault
	identity domain.IdentityOracle
	rebates  *rebate.Pool
	minter   domain.TicketMinter
	uris     domain.TicketURIProvider
	locks    domain.LockManager
	clock    domain.Clock
	journal  domain.Journal
	logger   *slog.Logger
}

var _ domain.WinnerRecorder = (*Ledger)(nil)

// New creates a Ledger. A nil URIs provider falls back to the event's
// metadata URI.
func New(cfg Config, deps Deps, logger *slog.Logger) *Ledger {
	return &Ledger{
		cfg:      cfg,
		events:   deps.Events,
		stakes:   deps.Stakes,
		vault:    deps.Vault,
		identity: deps.Identity,
		rebates:  deps.Rebates,
		minter:   deps.Minter,
		uris:     deps.URIs,
		locks:    deps.Locks,
		clock:    deps.Clock,
		journal:  deps.Journal,
		logger:   logger.With(slog.String("component", "staking")),
	}
}

// fail halts the pool when err is an invariant violation and returns err.
func (l *Ledger) fail(ctx context.Context, key domain.PoolKey, err error) error {
	if errors.Is(err, domain.ErrInvariantViolation) {
		l.events.HaltPool(ctx, key, err.Error())
	}
	return err
}

func (l *Ledger) invariant(ctx context.Context, key domain.PoolKey, format string, args ...any) error {
	err := fmt.Errorf("staking: "+format+": %w", append(args, domain.ErrInvariantViolation)...)
	return l.fail(ctx, key, err)
}

// EnterPool escrows face price plus fee from a verified user into an open
// pool and records the stake.
func (l *Ledger) EnterPool(ctx context.Context, user domain.Address, eventID domain.EventID, class domain.PoolClass) (domain.Stake, error) {
	key := domain.PoolKey{EventID: eventID, Class: class}
	unlock, err := l.locks.Acquire(ctx, lock.PoolKey(key), lockTTL)
	if err != nil {
		return domain.Stake{}, err
	}
	defer unlock()

	if err := l.events.EnsureActive(key); err != nil {
		return domain.Stake{}, err
	}
	ev, err := l.events.Event(ctx, eventID)
	if err != nil {
		return domain.Stake{}, err
	}
	pool, err := l.events.Pool(ctx, key)
	if err != nil {
		return domain.Stake{}, err
	}
	now := l.clock.Now()
	if ev.State != domain.EventRegistrationOpen {
		return domain.Stake{}, fmt.Errorf("staking: enter %s: event %s: %w", key, ev.State, domain.ErrWrongState)
	}
	if !now.Before(ev.RegistrationEnd) {
		return domain.Stake{}, fmt.Errorf("staking: enter %s: %w", key, domain.ErrTooLate)
	}

	ok, err := l.identity.IsVerified(ctx, user)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("staking: enter %s: identity check: %w", key, err)
	}
	if !ok {
		return domain.Stake{}, fmt.Errorf("staking: enter %s: %s: %w", key, user.Hex(), domain.ErrNotVerified)
	}

	// The identity check may block. Registration can close meanwhile.
	if ev, err = l.events.Event(ctx, eventID); err != nil {
		return domain.Stake{}, err
	}
	if ev.State != domain.EventRegistrationOpen {
		return domain.Stake{}, fmt.Errorf("staking: enter %s: event %s: %w", key, ev.State, domain.ErrWrongState)
	}

	if _, err := l.stakes.Find(ctx, user, key); err == nil {
		return domain.Stake{}, fmt.Errorf("staking: enter %s: %s: %w", key, user.Hex(), domain.ErrAlreadyStaked)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Stake{}, err
	}

	amount := pool.StakeAmount()
	escrow := vault.EscrowAccount(key)
	if err := l.vault.Transfer(ctx, user, escrow, amount); err != nil {
		return domain.Stake{}, fmt.Errorf("staking: enter %s: escrow: %w", key, err)
	}

	s, err := l.stakes.Insert(ctx, domain.Stake{
		User:        user,
		EventID:     eventID,
		Class:       class,
		FacePrice:   pool.FacePrice,
		PlatformFee: pool.PlatformFee,
		StakeAmount: amount,
		CreatedAt:   now,
	})
	if err != nil {
		if rerr := l.vault.Transfer(ctx, escrow, user, amount); rerr != nil {
			return domain.Stake{}, l.invariant(ctx, key, "enter %s: return escrow after failed insert: %v", key, rerr)
		}
		return domain.Stake{}, err
	}
	if err := l.rebates.Accumulate(key, pool.PlatformFee); err != nil {
		return domain.Stake{}, l.fail(ctx, key, err)
	}

	l.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindStaked,
		EventID: eventID,
		Class:   class,
		StakeID: s.ID,
		User:    user,
		Amount:  amount,
		Stake:   &s,
	})
	l.logger.Info("stake entered",
		slog.String("pool", key.String()),
		slog.Uint64("stake_id", uint64(s.ID)),
		slog.String("user", user.Hex()),
		slog.String("amount", amount.String()),
	)
	return s, nil
}

// WithdrawStake returns the full stake while registration is open. The
// record stays in the ledger flagged as withdrawn.
func (l *Ledger) WithdrawStake(ctx context.Context, caller domain.Address, id domain.StakeID) (domain.Stake, error) {
	s, err := l.stakes.Get(ctx, id)
	if err != nil {
		return domain.Stake{}, err
	}
	key := s.Key()
	unlock, err := l.locks.Acquire(ctx, lock.PoolKey(key), lockTTL)
	if err != nil {
		return domain.Stake{}, err
	}
	defer unlock()

	if err := l.events.EnsureActive(key); err != nil {
		return domain.Stake{}, err
	}
	if s, err = l.stakes.Get(ctx, id); err != nil {
		return domain.Stake{}, err
	}
	if s.User != caller {
		return domain.Stake{}, fmt.Errorf("staking: withdraw stake %d: %w", id, domain.ErrNotOwner)
	}
	if s.Withdrawn {
		return domain.Stake{}, fmt.Errorf("staking: withdraw stake %d: %w", id, domain.ErrWithdrawn)
	}
	ev, err := l.events.Event(ctx, s.EventID)
	if err != nil {
		return domain.Stake{}, err
	}
	if ev.State != domain.EventRegistrationOpen {
		return domain.Stake{}, fmt.Errorf("staking: withdraw stake %d: event %s: %w", id, ev.State, domain.ErrWrongState)
	}
	if !l.clock.Now().Before(ev.RegistrationEnd) {
		return domain.Stake{}, fmt.Errorf("staking: withdraw stake %d: %w", id, domain.ErrTooLate)
	}

	escrow := vault.EscrowAccount(key)
	amount := s.StakeAmount
	if err := l.vault.Transfer(ctx, escrow, s.User, amount); err != nil {
		return domain.Stake{}, l.invariant(ctx, key, "withdraw stake %d: escrow short: %v", id, err)
	}
	s, err = l.stakes.Withdraw(ctx, id)
	if err != nil {
		if rerr := l.vault.Transfer(ctx, caller, escrow, amount); rerr != nil {
			return domain.Stake{}, l.invariant(ctx, key, "withdraw stake %d: restore escrow: %v", id, rerr)
		}
		return domain.Stake{}, err
	}
	if err := l.rebates.Reverse(key, s.PlatformFee); err != nil {
		return domain.Stake{}, l.fail(ctx, key, err)
	}

	l.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindStakeWithdrawn,
		EventID: s.EventID,
		Class:   s.Class,
		StakeID: s.ID,
		User:    s.User,
		Amount:  s.StakeAmount,
		Stake:   &s,
	})
	l.logger.Info("stake withdrawn",
		slog.String("pool", key.String()),
		slog.Uint64("stake_id", uint64(s.ID)),
	)
	return s, nil
}

// MarkWinners resolves every active stake of the pool: the given ids win,
// every other stake loses. Only the lottery engine may call it, once.
func (l *Ledger) MarkWinners(ctx context.Context, caller domain.Address, key domain.PoolKey, winners []domain.StakeID) error {
	if caller != l.cfg.Engine {
		return fmt.Errorf("staking: mark winners %s: caller %s: %w", key, caller.Hex(), domain.ErrUnauthorized)
	}
	unlock, err := l.locks.Acquire(ctx, lock.PoolKey(key), lockTTL)
	if err != nil {
		return err
	}
	defer unlock()
	return l.markWinners(ctx, caller, key, winners)
}

// MarkWinnersHeld is MarkWinners for the engine's reveal, which already
// holds lock.PoolKey(key).
func (l *Ledger) MarkWinnersHeld(ctx context.Context, caller domain.Address, key domain.PoolKey, winners []domain.StakeID) error {
	if caller != l.cfg.Engine {
		return fmt.Errorf("staking: mark winners %s: caller %s: %w", key, caller.Hex(), domain.ErrUnauthorized)
	}
	return l.markWinners(ctx, caller, key, winners)
}

func (l *Ledger) markWinners(ctx context.Context, caller domain.Address, key domain.PoolKey, winners []domain.StakeID) error {
	if err := l.events.EnsureActive(key); err != nil {
		return err
	}
	ev, err := l.events.Event(ctx, key.EventID)
	if err != nil {
		return err
	}
	if ev.State != domain.EventRegistrationClosed {
		return fmt.Errorf("staking: mark winners %s: event %s: %w", key, ev.State, domain.ErrWrongState)
	}
	pool, err := l.events.Pool(ctx, key)
	if err != nil {
		return err
	}
	if uint32(len(winners)) > pool.Quantity {
		return l.invariant(ctx, key, "mark winners %s: %d winners exceed quantity %d", key, len(winners), pool.Quantity)
	}
	set := make(map[domain.StakeID]bool, len(winners))
	for _, id := range winners {
		if set[id] {
			return l.invariant(ctx, key, "mark winners %s: stake %d selected twice", key, id)
		}
		set[id] = true
	}

	resolved, err := l.stakes.Resolve(ctx, key, set)
	if err != nil {
		return l.fail(ctx, key, err)
	}

	ids := append([]domain.StakeID(nil), winners...)
	l.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindWinnersMarked,
		EventID: key.EventID,
		Class:   key.Class,
		User:    caller,
		Note:    fmt.Sprintf("%d winners of %d", len(winners), len(resolved)),
		Draw:    &domain.DrawRequest{EventID: key.EventID, Class: key.Class, Winners: ids},
	})
	l.logger.Info("winners marked",
		slog.String("pool", key.String()),
		slog.Int("winners", len(winners)),
		slog.Int("losers", len(resolved)-len(winners)),
	)
	return nil
}

// rebateFor fixes the pool rebate against the resolved stake set, or
// returns the memoised account.
func (l *Ledger) rebateFor(ctx context.Context, key domain.PoolKey) (domain.RebateAccount, error) {
	if acct := l.rebates.Account(key); acct.Fixed {
		return acct, nil
	}
	ev, err := l.events.Event(ctx, key.EventID)
	if err != nil {
		return domain.RebateAccount{}, err
	}
	stakes, err := l.stakes.ByPool(ctx, key)
	if err != nil {
		return domain.RebateAccount{}, err
	}
	res := rebate.Resolution{AlphaBps: ev.RebateAlphaBps}
	for _, s := range stakes {
		if !s.Active() {
			continue
		}
		switch s.Outcome {
		case domain.OutcomeLoser:
			res.Losers++
		case domain.OutcomeWinner:
			res.WinnerFees += s.PlatformFee
		default:
			return domain.RebateAccount{}, fmt.Errorf("staking: rebate %s: stake %d: %w", key, s.ID, domain.ErrNotResolved)
		}
	}
	return l.rebates.Fix(ctx, key, res)
}

// ClaimRefund pays a loser its full stake plus the fixed per-loser rebate.
func (l *Ledger) ClaimRefund(ctx context.Context, caller domain.Address, id domain.StakeID) (domain.Payout, error) {
	unlock, err := l.locks.Acquire(ctx, lock.StakeKey(id), lockTTL)
	if err != nil {
		return domain.Payout{}, err
	}
	defer unlock()

	s, err := l.stakes.Get(ctx, id)
	if err != nil {
		return domain.Payout{}, err
	}
	key := s.Key()
	if err := l.events.EnsureActive(key); err != nil {
		return domain.Payout{}, err
	}
	if s.User != caller {
		return domain.Payout{}, fmt.Errorf("staking: refund stake %d: %w", id, domain.ErrNotOwner)
	}
	switch {
	case s.Withdrawn:
		return domain.Payout{}, fmt.Errorf("staking: refund stake %d: %w", id, domain.ErrWithdrawn)
	case s.Outcome == domain.OutcomeUnresolved:
		return domain.Payout{}, fmt.Errorf("staking: refund stake %d: %w", id, domain.ErrNotResolved)
	case s.Outcome != domain.OutcomeLoser:
		return domain.Payout{}, fmt.Errorf("staking: refund stake %d: %w", id, domain.ErrNotLoser)
	case s.Claimed:
		return domain.Payout{}, fmt.Errorf("staking: refund stake %d: %w", id, domain.ErrAlreadyClaimed)
	}

	acct, err := l.rebateFor(ctx, key)
	if err != nil {
		return domain.Payout{}, l.fail(ctx, key, err)
	}
	payout := domain.Payout{StakeID: s.ID, User: s.User, Refund: s.StakeAmount, Rebate: acct.PerLoser}
	total, err := payout.Refund.Add(payout.Rebate)
	if err != nil {
		return domain.Payout{}, err
	}

	if s, err = l.stakes.MarkClaimed(ctx, id, l.clock.Now()); err != nil {
		return domain.Payout{}, err
	}
	if err := l.vault.Transfer(ctx, vault.EscrowAccount(key), s.User, total); err != nil {
		if uerr := l.stakes.UnmarkClaimed(ctx, id); uerr != nil {
			return domain.Payout{}, l.invariant(ctx, key, "refund stake %d: rollback claim: %v", id, uerr)
		}
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return domain.Payout{}, l.invariant(ctx, key, "refund stake %d: escrow short: %v", id, err)
		}
		return domain.Payout{}, fmt.Errorf("staking: refund stake %d: %w", id, err)
	}
	if err := l.rebates.RecordPayout(key, payout.Rebate); err != nil {
		return domain.Payout{}, l.fail(ctx, key, err)
	}

	l.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindRefundClaimed,
		EventID: s.EventID,
		Class:   s.Class,
		StakeID: s.ID,
		User:    s.User,
		Amount:  total,
		Stake:   &s,
		Payout:  &payout,
	})
	l.logger.Info("refund claimed",
		slog.Uint64("stake_id", uint64(s.ID)),
		slog.String("user", s.User.Hex()),
		slog.String("refund", payout.Refund.String()),
		slog.String("rebate", payout.Rebate.String()),
	)
	return payout, nil
}

// ClaimTicket mints the winner's ticket and releases the face value to the
// organizer. The fee stays in escrow as rebate budget.
func (l *Ledger) ClaimTicket(ctx context.Context, caller domain.Address, id domain.StakeID) (domain.Ticket, error) {
	unlock, err := l.locks.Acquire(ctx, lock.StakeKey(id), lockTTL)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer unlock()

	s, err := l.stakes.Get(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	key := s.Key()
	if err := l.events.EnsureActive(key); err != nil {
		return domain.Ticket{}, err
	}
	if s.User != caller {
		return domain.Ticket{}, fmt.Errorf("staking: claim ticket %d: %w", id, domain.ErrNotOwner)
	}
	switch {
	case s.Withdrawn:
		return domain.Ticket{}, fmt.Errorf("staking: claim ticket %d: %w", id, domain.ErrWithdrawn)
	case s.Outcome == domain.OutcomeUnresolved:
		return domain.Ticket{}, fmt.Errorf("staking: claim ticket %d: %w", id, domain.ErrNotResolved)
	case s.Outcome != domain.OutcomeWinner:
		return domain.Ticket{}, fmt.Errorf("staking: claim ticket %d: %w", id, domain.ErrNotWinner)
	case s.Claimed:
		return domain.Ticket{}, fmt.Errorf("staking: claim ticket %d: %w", id, domain.ErrAlreadyClaimed)
	}

	ev, err := l.events.Event(ctx, s.EventID)
	if err != nil {
		return domain.Ticket{}, err
	}
	uri := ev.MetadataURI
	if l.uris != nil {
		uri, err = l.uris.TicketURI(ctx, domain.TicketAttributes{
			EventID:   ev.ID,
			EventName: ev.Name,
			Class:     s.Class,
			StakeID:   s.ID,
			Owner:     s.User,
		})
		if err != nil {
			return domain.Ticket{}, fmt.Errorf("staking: claim ticket %d: metadata: %w", id, err)
		}
	}

	if s, err = l.stakes.MarkClaimed(ctx, id, l.clock.Now()); err != nil {
		return domain.Ticket{}, err
	}
	t, err := l.minter.Mint(ctx, l.cfg.Address, s.User, s.EventID, s.Class, uri)
	if err != nil {
		if uerr := l.stakes.UnmarkClaimed(ctx, id); uerr != nil {
			return domain.Ticket{}, l.invariant(ctx, key, "claim ticket %d: rollback claim: %v", id, uerr)
		}
		return domain.Ticket{}, l.fail(ctx, key, fmt.Errorf("staking: claim ticket %d: %w", id, err))
	}
	released := l.vault.Transfer(ctx, vault.EscrowAccount(key), ev.Organizer, s.FacePrice)

	claimed := domain.LedgerEvent{
		Kind:    domain.KindTicketClaimed,
		EventID: s.EventID,
		Class:   s.Class,
		StakeID: s.ID,
		TokenID: t.TokenID,
		User:    s.User,
		Amount:  s.FacePrice,
		Stake:   &s,
		Ticket:  &t,
	}
	if released != nil {
		// The ticket exists; the claim is journaled before the pool halts.
		claimed.Amount = 0
		claimed.Note = "face value not released"
		l.journal.Append(ctx, claimed)
		return domain.Ticket{}, l.invariant(ctx, key, "claim ticket %d: release face value: %v", id, released)
	}
	l.journal.Append(ctx, claimed)
	l.logger.Info("ticket claimed",
		slog.Uint64("stake_id", uint64(s.ID)),
		slog.Uint64("token_id", uint64(t.TokenID)),
		slog.String("user", s.User.Hex()),
	)
	return t, nil
}

// FundRebate adds external surplus to a pool before its rebate is fixed.
func (l *Ledger) FundRebate(ctx context.Context, from domain.Address, key domain.PoolKey, amount domain.Amount) (domain.RebateAccount, error) {
	unlock, err := l.locks.Acquire(ctx, lock.PoolKey(key), lockTTL)
	if err != nil {
		return domain.RebateAccount{}, err
	}
	defer unlock()

	if err := l.events.EnsureActive(key); err != nil {
		return domain.RebateAccount{}, err
	}
	if _, err := l.events.Pool(ctx, key); err != nil {
		return domain.RebateAccount{}, err
	}
	return l.rebates.Fund(ctx, key, from, amount)
}

// SweepRemainder moves the pool's undistributed budget to the treasury
// after the reveal deadline. Amounts still owed to unclaimed stakes stay in
// escrow. Repeated calls sweep nothing.
func (l *Ledger) SweepRemainder(ctx context.Context, key domain.PoolKey) (domain.Amount, error) {
	unlock, err := l.locks.Acquire(ctx, lock.PoolKey(key), lockTTL)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := l.events.EnsureActive(key); err != nil {
		return 0, err
	}
	if _, err := l.events.Pool(ctx, key); err != nil {
		return 0, err
	}
	ev, err := l.events.Event(ctx, key.EventID)
	if err != nil {
		return 0, err
	}
	if ev.State != domain.EventRevealed {
		return 0, fmt.Errorf("staking: sweep %s: event %s: %w", key, ev.State, domain.ErrWrongState)
	}
	if l.clock.Now().Before(ev.RevealDeadline) {
		return 0, fmt.Errorf("staking: sweep %s: %w", key, domain.ErrTooEarly)
	}

	if _, err := l.rebateFor(ctx, key); err != nil {
		return 0, l.fail(ctx, key, err)
	}
	amount, err := l.rebates.Remainder(key)
	if err != nil {
		return 0, l.fail(ctx, key, err)
	}
	if amount == 0 {
		return 0, nil
	}
	if err := l.vault.Transfer(ctx, vault.EscrowAccount(key), l.cfg.Treasury, amount); err != nil {
		return 0, l.invariant(ctx, key, "sweep %s: escrow short: %v", key, err)
	}
	acct := l.rebates.RecordSweep(key, amount)

	l.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindRemainderSwept,
		EventID: key.EventID,
		Class:   key.Class,
		User:    l.cfg.Treasury,
		Amount:  amount,
		Rebate:  &acct,
	})
	l.logger.Info("remainder swept",
		slog.String("pool", key.String()),
		slog.String("amount", amount.String()),
	)
	return amount, nil
}

// Stake returns a stake by ID.
func (l *Ledger) Stake(ctx context.Context, id domain.StakeID) (domain.Stake, error) {
	return l.stakes.Get(ctx, id)
}

// UserStakes returns every stake of user.
func (l *Ledger) UserStakes(ctx context.Context, user domain.Address) ([]domain.Stake, error) {
	return l.stakes.ByUser(ctx, user)
}

// PoolStakes returns every stake of the pool in creation order.
func (l *Ledger) PoolStakes(ctx context.Context, key domain.PoolKey) ([]domain.Stake, error) {
	return l.stakes.ByPool(ctx, key)
}

// IsWinner reports whether user's active stake in the pool won.
func (l *Ledger) IsWinner(ctx context.Context, user domain.Address, key domain.PoolKey) (bool, error) {
	s, err := l.stakes.Find(ctx, user, key)
	if err != nil {
		return false, err
	}
	return s.Outcome == domain.OutcomeWinner, nil
}

// Rebate returns the pool's rebate account.
func (l *Ledger) Rebate(key domain.PoolKey) domain.RebateAccount {
	return l.rebates.Account(key)
}
