// Package ticket mints soulbound tickets for winning stakes.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fairstake/tickets/internal/domain"
)

// Pools exposes pool quantities to the issuer.
type Pools interface {
	Pool(ctx context.Context, key domain.PoolKey) (domain.Pool, error)
}

// Config lists the addresses the issuer trusts.
type Config struct {
	// Minters may call Mint: the staking ledger and an admin.
	Minters []domain.Address
	// Resale is the only caller allowed to move a ticket.
	Resale domain.Address
}

type holderKey struct {
	key  domain.PoolKey
	user domain.Address
}

// Issuer keeps the ticket arena, the one-ticket-per-stake index and the
// current holder index.
type Issuer struct {
	mu       sync.RWMutex
	tickets  []domain.Ticket
	byStake  map[domain.StakeID]domain.TokenID
	byHolder map[holderKey]domain.TokenID
	minted   map[domain.PoolKey]uint32
	minters  map[domain.Address]bool
	resale   domain.Address
	stakes   domain.StakeStore
	pools    Pools
	clock    domain.Clock
	journal  domain.Journal
	logger   *slog.Logger
}

var _ domain.TicketMinter = (*Issuer)(nil)

// New creates an Issuer that confirms winners against stakes.
func New(cfg Config, stakes domain.StakeStore, pools Pools, clock domain.Clock, journal domain.Journal, logger *slog.Logger) *Issuer {
	minters := make(map[domain.Address]bool, len(cfg.Minters))
	for _, a := range cfg.Minters {
		minters[a] = true
	}
	return &Issuer{
		byStake:  make(map[domain.StakeID]domain.TokenID),
		byHolder: make(map[holderKey]domain.TokenID),
		minted:   make(map[domain.PoolKey]uint32),
		minters:  minters,
		resale:   cfg.Resale,
		stakes:   stakes,
		pools:    pools,
		clock:    clock,
		journal:  journal,
		logger:   logger.With(slog.String("component", "ticket_issuer")),
	}
}

// Mint issues the single ticket of user's winning stake in the pool.
func (i *Issuer) Mint(ctx context.Context, caller, user domain.Address, eventID domain.EventID, class domain.PoolClass, uri string) (domain.Ticket, error) {
	key := domain.PoolKey{EventID: eventID, Class: class}
	if !i.minters[caller] {
		return domain.Ticket{}, fmt.Errorf("ticket: mint %s: caller %s: %w", key, caller.Hex(), domain.ErrUnauthorized)
	}

	s, err := i.stakes.Find(ctx, user, key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Ticket{}, fmt.Errorf("ticket: mint %s: %s has no stake: %w", key, user.Hex(), domain.ErrNotWinner)
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	if s.Outcome != domain.OutcomeWinner {
		return domain.Ticket{}, fmt.Errorf("ticket: mint %s: stake %d: %w", key, s.ID, domain.ErrNotWinner)
	}
	pool, err := i.pools.Pool(ctx, key)
	if err != nil {
		return domain.Ticket{}, err
	}

	i.mu.Lock()
	hk := holderKey{key: key, user: user}
	if _, ok := i.byStake[s.ID]; ok {
		i.mu.Unlock()
		return domain.Ticket{}, fmt.Errorf("ticket: mint %s: stake %d: %w", key, s.ID, domain.ErrAlreadyClaimed)
	}
	if _, ok := i.byHolder[hk]; ok {
		i.mu.Unlock()
		return domain.Ticket{}, fmt.Errorf("ticket: mint %s: %s: %w", key, user.Hex(), domain.ErrAlreadyClaimed)
	}
	if i.minted[key] >= pool.Quantity {
		i.mu.Unlock()
		return domain.Ticket{}, fmt.Errorf("ticket: mint %s: %d tickets already minted: %w", key, i.minted[key], domain.ErrInvariantViolation)
	}
	t := domain.Ticket{
		TokenID:       domain.TokenID(len(i.tickets) + 1),
		EventID:       eventID,
		Class:         class,
		StakeID:       s.ID,
		Owner:         user,
		OriginalOwner: user,
		MetadataURI:   uri,
		MintedAt:      i.clock.Now(),
	}
	i.tickets = append(i.tickets, t)
	i.byStake[s.ID] = t.TokenID
	i.byHolder[hk] = t.TokenID
	i.minted[key]++
	i.mu.Unlock()

	i.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindTicketMinted,
		EventID: eventID,
		Class:   class,
		StakeID: s.ID,
		TokenID: t.TokenID,
		User:    user,
		Note:    uri,
		Ticket:  &t,
	})
	i.logger.Info("ticket minted",
		slog.Uint64("token_id", uint64(t.TokenID)),
		slog.String("pool", key.String()),
		slog.String("owner", user.Hex()),
	)
	return t, nil
}

// Ticket returns a ticket by token ID.
func (i *Issuer) Ticket(_ context.Context, id domain.TokenID) (domain.Ticket, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if id == 0 || int(id) > len(i.tickets) {
		return domain.Ticket{}, fmt.Errorf("ticket: token %d: %w", id, domain.ErrNotFound)
	}
	return i.tickets[id-1], nil
}

// UserTicket returns the ticket user currently holds for the pool.
func (i *Issuer) UserTicket(_ context.Context, user domain.Address, key domain.PoolKey) (domain.Ticket, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.byHolder[holderKey{key: key, user: user}]
	if !ok {
		return domain.Ticket{}, fmt.Errorf("ticket: %s in %s: %w", user.Hex(), key, domain.ErrNotFound)
	}
	return i.tickets[id-1], nil
}

// Minted is the number of tickets issued for the pool.
func (i *Issuer) Minted(key domain.PoolKey) uint32 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.minted[key]
}

// Transfer moves a ticket. Tickets are soulbound except through the resale
// contract, and a holder keeps at most one ticket per pool.
func (i *Issuer) Transfer(ctx context.Context, caller domain.Address, id domain.TokenID, to domain.Address) (domain.Ticket, error) {
	if i.resale == (domain.Address{}) || caller != i.resale {
		return domain.Ticket{}, fmt.Errorf("ticket: transfer %d: %w", id, domain.ErrNonTransferable)
	}
	if to == (domain.Address{}) {
		return domain.Ticket{}, fmt.Errorf("ticket: transfer %d: zero recipient: %w", id, domain.ErrInvalidInput)
	}
	i.mu.Lock()
	if id == 0 || int(id) > len(i.tickets) {
		i.mu.Unlock()
		return domain.Ticket{}, fmt.Errorf("ticket: token %d: %w", id, domain.ErrNotFound)
	}
	t := i.tickets[id-1]
	from := t.Owner
	key := domain.PoolKey{EventID: t.EventID, Class: t.Class}
	if to == from {
		i.mu.Unlock()
		return domain.Ticket{}, fmt.Errorf("ticket: transfer %d: %s already holds it: %w", id, to.Hex(), domain.ErrInvalidInput)
	}
	if _, ok := i.byHolder[holderKey{key: key, user: to}]; ok {
		i.mu.Unlock()
		return domain.Ticket{}, fmt.Errorf("ticket: transfer %d: %s holds a ticket in %s: %w", id, to.Hex(), key, domain.ErrAlreadyExists)
	}
	t.Owner = to
	i.tickets[id-1] = t
	delete(i.byHolder, holderKey{key: key, user: from})
	i.byHolder[holderKey{key: key, user: to}] = id
	i.mu.Unlock()

	i.journal.Append(ctx, domain.LedgerEvent{
		Kind:    domain.KindTicketTransferred,
		EventID: t.EventID,
		Class:   t.Class,
		StakeID: t.StakeID,
		TokenID: t.TokenID,
		User:    to,
		Note:    from.Hex(),
		Ticket:  &t,
	})
	i.logger.Info("ticket transferred",
		slog.Uint64("token_id", uint64(t.TokenID)),
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
	)
	return t, nil
}
