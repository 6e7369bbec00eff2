package domain

import "context"

// IdentityOracle answers whether a user may participate.
type IdentityOracle interface {
	IsVerified(ctx context.Context, user Address) (bool, error)
}

// RandomnessOracle is a two-phase commit/reveal VRF. RequestRandom binds a
// future random value to commitment; GetRandom reports it once available.
type RandomnessOracle interface {
	// Fee is the payment required per request.
	Fee() Amount
	RequestRandom(ctx context.Context, commitment Hash) (RequestID, error)
	GetRandom(ctx context.Context, id RequestID) (ready bool, value Hash, err error)
}

// TicketURIProvider produces the metadata URI of a ticket about to be minted.
type TicketURIProvider interface {
	TicketURI(ctx context.Context, attrs TicketAttributes) (string, error)
}

// Vault moves settlement tokens between accounts atomically.
type Vault interface {
	Transfer(ctx context.Context, from, to Address, amount Amount) error
	BalanceOf(account Address) Amount
}

// TicketMinter mints tickets on behalf of an authorized caller.
type TicketMinter interface {
	Mint(ctx context.Context, caller, user Address, eventID EventID, class PoolClass, uri string) (Ticket, error)
}

// WinnerRecorder writes draw outcomes into the staking ledger.
type WinnerRecorder interface {
	MarkWinners(ctx context.Context, caller Address, key PoolKey, winners []StakeID) error
	// MarkWinnersHeld is MarkWinners for a caller that already holds the
	// pool lock.
	MarkWinnersHeld(ctx context.Context, caller Address, key PoolKey, winners []StakeID) error
}
