// Package rebate tracks per-pool surplus and fixes the per-loser rebate.
//
// The distributable rebate is surplus*alpha/10000 where surplus is the
// platform fees collected plus any external funding. It is capped by the
// pool's budget, the winners' fees plus external funding, which is the only
// money in escrow not owed back to a loser or to the organizer. The
// per-loser figure is fixed at the first claim and the integer-division
// remainder is left for the treasury sweep.
package rebate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/vault"
)

// Resolution is the post-draw pool shape the rebate is fixed against.
type Resolution struct {
	AlphaBps   uint16
	Losers     uint32
	WinnerFees domain.Amount
}

// Pool holds one RebateAccount per (event, pool). Safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	accounts map[domain.PoolKey]*domain.RebateAccount
	vault    domain.Vault
	journal  domain.Journal
	logger   *slog.Logger
}

// New creates an empty rebate pool.
func New(v domain.Vault, journal domain.Journal, logger *slog.Logger) *Pool {
	return &Pool{
		accounts: make(map[domain.PoolKey]*domain.RebateAccount),
		vault:    v,
		journal:  journal,
		logger:   logger.With(slog.String("component", "rebate")),
	}
}

func (p *Pool) accountLocked(key domain.PoolKey) *domain.RebateAccount {
	a, ok := p.accounts[key]
	if !ok {
		a = &domain.RebateAccount{EventID: key.EventID, Class: key.Class}
		p.accounts[key] = a
	}
	return a
}

// Accumulate adds a stake's platform fee to the pool surplus.
func (p *Pool) Accumulate(key domain.PoolKey, fee domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.accountLocked(key)
	if a.Fixed {
		return fmt.Errorf("rebate: accumulate %s: rebate already fixed: %w", key, domain.ErrInvariantViolation)
	}
	s, err := a.SurplusCollected.Add(fee)
	if err != nil {
		return fmt.Errorf("rebate: accumulate %s: %w", key, err)
	}
	a.SurplusCollected = s
	return nil
}

// Reverse removes a withdrawn stake's fee from the surplus.
func (p *Pool) Reverse(key domain.PoolKey, fee domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.accountLocked(key)
	if a.Fixed || a.SurplusCollected < fee {
		return fmt.Errorf("rebate: reverse %s: %w", key, domain.ErrInvariantViolation)
	}
	a.SurplusCollected -= fee
	return nil
}

// Fund moves amount from the funder into the pool escrow as extra surplus.
// Funding is closed once the rebate is fixed.
func (p *Pool) Fund(ctx context.Context, key domain.PoolKey, from domain.Address, amount domain.Amount) (domain.RebateAccount, error) {
	if amount == 0 {
		return domain.RebateAccount{}, fmt.Errorf("rebate: fund %s: %w", key, domain.ErrInvalidAmount)
	}

	p.mu.Lock()
	a := p.accountLocked(key)
	if a.Fixed {
		p.mu.Unlock()
		return domain.RebateAccount{}, fmt.Errorf("rebate: fund %s: rebate already fixed: %w", key, domain.ErrWrongState)
	}
	ext, err := a.ExternalFunding.Add(amount)
	if err != nil {
		p.mu.Unlock()
		return domain.RebateAccount{}, fmt.Errorf("rebate: fund %s: %w", key, err)
	}
	if err := p.vault.Transfer(ctx, from, vault.EscrowAccount(key), amount); err != nil {
		p.mu.Unlock()
		return domain.RebateAccount{}, fmt.Errorf("rebate: fund %s: %w", key, err)
	}
	a.ExternalFunding = ext
	snapshot := *a
	p.mu.Unlock()

	p.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindRebateFunded,
		EventID: key.EventID,
		Class:   key.Class,
		User:    from,
		Amount:  amount,
		Rebate:  &snapshot,
	})
	p.logger.Info("rebate funded",
		slog.String("pool", key.String()),
		slog.String("from", from.Hex()),
		slog.String("amount", amount.String()),
	)
	return snapshot, nil
}

// Fix computes the per-loser rebate on first call and returns the memoised
// account afterwards, ignoring res.
func (p *Pool) Fix(ctx context.Context, key domain.PoolKey, res Resolution) (domain.RebateAccount, error) {
	p.mu.Lock()
	a := p.accountLocked(key)
	if a.Fixed {
		snapshot := *a
		p.mu.Unlock()
		return snapshot, nil
	}

	surplus, err := a.SurplusCollected.Add(a.ExternalFunding)
	if err != nil {
		p.mu.Unlock()
		return domain.RebateAccount{}, fmt.Errorf("rebate: fix %s: %w", key, err)
	}
	distributable, err := domain.ApplyBps(surplus, res.AlphaBps)
	if err != nil {
		p.mu.Unlock()
		return domain.RebateAccount{}, fmt.Errorf("rebate: fix %s: %w", key, err)
	}
	budget, err := res.WinnerFees.Add(a.ExternalFunding)
	if err != nil {
		p.mu.Unlock()
		return domain.RebateAccount{}, fmt.Errorf("rebate: fix %s: %w", key, err)
	}

	total := distributable
	if total > budget {
		total = budget
		a.Capped = true
	}
	a.Fixed = true
	a.EligibleLosers = res.Losers
	a.Distributable = distributable
	a.Budget = budget
	if res.Losers > 0 {
		a.PerLoser = total / domain.Amount(res.Losers)
	}
	snapshot := *a
	p.mu.Unlock()

	p.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindRebateFixed,
		EventID: key.EventID,
		Class:   key.Class,
		Amount:  snapshot.PerLoser,
		Rebate:  &snapshot,
	})
	p.logger.Info("rebate fixed",
		slog.String("pool", key.String()),
		slog.String("per_loser", snapshot.PerLoser.String()),
		slog.Uint64("losers", uint64(snapshot.EligibleLosers)),
		slog.Bool("capped", snapshot.Capped),
	)
	return snapshot, nil
}

// RecordPayout adds a paid rebate to the account totals.
func (p *Pool) RecordPayout(key domain.PoolKey, rebate domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.accountLocked(key)
	if !a.Fixed || a.Claims >= a.EligibleLosers {
		return fmt.Errorf("rebate: payout %s: claims exceed eligible losers: %w", key, domain.ErrInvariantViolation)
	}
	a.Paid += rebate
	a.Claims++
	return nil
}

// Remainder is the undistributed budget not yet swept: the budget minus
// every rebate committed to losers, paid or not.
func (p *Pool) Remainder(key domain.PoolKey) (domain.Amount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.accountLocked(key)
	if !a.Fixed {
		return 0, fmt.Errorf("rebate: remainder %s: rebate not fixed: %w", key, domain.ErrWrongState)
	}
	committed := a.PerLoser * domain.Amount(a.EligibleLosers)
	if committed+a.Swept > a.Budget {
		return 0, fmt.Errorf("rebate: remainder %s: committed exceeds budget: %w", key, domain.ErrInvariantViolation)
	}
	return a.Budget - committed - a.Swept, nil
}

// RecordSweep adds a swept amount.
func (p *Pool) RecordSweep(key domain.PoolKey, amount domain.Amount) domain.RebateAccount {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.accountLocked(key)
	a.Swept += amount
	return *a
}

// Account returns a copy of the pool's rebate account.
func (p *Pool) Account(key domain.PoolKey) domain.RebateAccount {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.accountLocked(key)
}
