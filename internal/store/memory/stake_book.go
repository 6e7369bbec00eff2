// Package memory implements domain stores as in-memory arenas with indexes.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairstake/tickets/internal/domain"
)

type userPool struct {
	user domain.Address
	key  domain.PoolKey
}

// StakeBook is an append-only stake arena. Stake i lives at index i-1; the
// indexes hold arena positions so pool order is creation order.
type StakeBook struct {
	mu     sync.RWMutex
	stakes []domain.Stake
	byPool map[domain.PoolKey][]int
	byUser map[domain.Address][]int
	// slots holds each user's one stake per pool, withdrawn or not.
	slots map[userPool]int
}

var _ domain.StakeStore = (*StakeBook)(nil)

// NewStakeBook creates an empty StakeBook.
func NewStakeBook() *StakeBook {
	return &StakeBook{
		byPool: make(map[domain.PoolKey][]int),
		byUser: make(map[domain.Address][]int),
		slots:  make(map[userPool]int),
	}
}

// Insert appends s and assigns the next ID.
func (b *StakeBook) Insert(_ context.Context, s domain.Stake) (domain.Stake, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	up := userPool{user: s.User, key: s.Key()}
	if _, ok := b.slots[up]; ok {
		return domain.Stake{}, fmt.Errorf("memory: insert stake for %s in %s: %w",
			s.User.Hex(), up.key, domain.ErrAlreadyStaked)
	}

	idx := len(b.stakes)
	s.ID = domain.StakeID(idx + 1)
	b.stakes = append(b.stakes, s)
	b.byPool[up.key] = append(b.byPool[up.key], idx)
	b.byUser[s.User] = append(b.byUser[s.User], idx)
	b.slots[up] = idx
	return s, nil
}

func (b *StakeBook) index(id domain.StakeID) (int, error) {
	if id == 0 || int(id) > len(b.stakes) {
		return 0, fmt.Errorf("memory: stake %d: %w", id, domain.ErrNotFound)
	}
	return int(id) - 1, nil
}

// Get returns the stake with the given ID.
func (b *StakeBook) Get(_ context.Context, id domain.StakeID) (domain.Stake, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, err := b.index(id)
	if err != nil {
		return domain.Stake{}, err
	}
	return b.stakes[idx], nil
}

// ByPool returns the pool's stakes, withdrawn ones included, in creation order.
func (b *StakeBook) ByPool(_ context.Context, key domain.PoolKey) ([]domain.Stake, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collect(b.byPool[key]), nil
}

// ByUser returns every stake of user in creation order.
func (b *StakeBook) ByUser(_ context.Context, user domain.Address) ([]domain.Stake, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collect(b.byUser[user]), nil
}

func (b *StakeBook) collect(idxs []int) []domain.Stake {
	out := make([]domain.Stake, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, b.stakes[i])
	}
	return out
}

// Find returns the user's stake in the pool, withdrawn or not.
func (b *StakeBook) Find(_ context.Context, user domain.Address, key domain.PoolKey) (domain.Stake, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, ok := b.slots[userPool{user: user, key: key}]
	if !ok {
		return domain.Stake{}, fmt.Errorf("memory: stake of %s in %s: %w", user.Hex(), key, domain.ErrNotFound)
	}
	return b.stakes[idx], nil
}

// Withdraw flags an unresolved stake as withdrawn. The user's slot stays
// taken.
func (b *StakeBook) Withdraw(_ context.Context, id domain.StakeID) (domain.Stake, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, err := b.index(id)
	if err != nil {
		return domain.Stake{}, err
	}
	s := &b.stakes[idx]
	if s.Withdrawn {
		return domain.Stake{}, fmt.Errorf("memory: withdraw stake %d: %w", id, domain.ErrWithdrawn)
	}
	if s.Outcome != domain.OutcomeUnresolved {
		return domain.Stake{}, fmt.Errorf("memory: withdraw stake %d: %w", id, domain.ErrAlreadyResolved)
	}
	s.Withdrawn = true
	return *s, nil
}

// Resolve assigns every active stake of the pool its outcome atomically.
func (b *StakeBook) Resolve(_ context.Context, key domain.PoolKey, winners map[domain.StakeID]bool) ([]domain.Stake, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idxs := b.byPool[key]
	matched := 0
	for _, i := range idxs {
		s := b.stakes[i]
		if s.Withdrawn {
			if winners[s.ID] {
				return nil, fmt.Errorf("memory: resolve %s: withdrawn stake %d selected: %w",
					key, s.ID, domain.ErrInvariantViolation)
			}
			continue
		}
		if s.Outcome != domain.OutcomeUnresolved {
			return nil, fmt.Errorf("memory: resolve %s: %w", key, domain.ErrAlreadyResolved)
		}
		if winners[s.ID] {
			matched++
		}
	}
	if matched != len(winners) {
		return nil, fmt.Errorf("memory: resolve %s: %d of %d winners are not stakes of the pool: %w",
			key, len(winners)-matched, len(winners), domain.ErrInvariantViolation)
	}

	out := make([]domain.Stake, 0, len(idxs))
	for _, i := range idxs {
		s := &b.stakes[i]
		if s.Withdrawn {
			continue
		}
		if winners[s.ID] {
			s.Outcome = domain.OutcomeWinner
		} else {
			s.Outcome = domain.OutcomeLoser
		}
		out = append(out, *s)
	}
	return out, nil
}

// MarkClaimed is the compare-and-swap on the claimed flag.
func (b *StakeBook) MarkClaimed(_ context.Context, id domain.StakeID, at time.Time) (domain.Stake, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, err := b.index(id)
	if err != nil {
		return domain.Stake{}, err
	}
	s := &b.stakes[idx]
	if s.Claimed {
		return domain.Stake{}, fmt.Errorf("memory: claim stake %d: %w", id, domain.ErrAlreadyClaimed)
	}
	s.Claimed = true
	t := at
	s.ClaimedAt = &t
	return *s, nil
}

// UnmarkClaimed rolls back a claim whose payout failed.
func (b *StakeBook) UnmarkClaimed(_ context.Context, id domain.StakeID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, err := b.index(id)
	if err != nil {
		return err
	}
	b.stakes[idx].Claimed = false
	b.stakes[idx].ClaimedAt = nil
	return nil
}
