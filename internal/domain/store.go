package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StakeStore is the append-only stake arena with its lookup indexes.
type StakeStore interface {
	// Insert appends a stake, assigning its ID. It fails with
	// ErrAlreadyStaked if the user already holds a stake in the pool.
	Insert(ctx context.Context, s Stake) (Stake, error)
	Get(ctx context.Context, id StakeID) (Stake, error)
	// ByPool returns the pool's stakes in creation order.
	ByPool(ctx context.Context, key PoolKey) ([]Stake, error)
	ByUser(ctx context.Context, user Address) ([]Stake, error)
	// Find returns the user's one stake in the pool, withdrawn or not.
	Find(ctx context.Context, user Address, key PoolKey) (Stake, error)
	// Withdraw flags an unresolved stake as withdrawn. The user cannot stake
	// in the pool again.
	Withdraw(ctx context.Context, id StakeID) (Stake, error)
	// Resolve sets every active stake of the pool to winner or loser in one
	// step. It fails with ErrAlreadyResolved if any stake is resolved.
	Resolve(ctx context.Context, key PoolKey, winners map[StakeID]bool) ([]Stake, error)
	// MarkClaimed flips claimed from false to true, failing with
	// ErrAlreadyClaimed otherwise.
	MarkClaimed(ctx context.Context, id StakeID, at time.Time) (Stake, error)
	// UnmarkClaimed reverts MarkClaimed when the rest of a claim fails.
	UnmarkClaimed(ctx context.Context, id StakeID) error
}

// LedgerEventStore persists the audit log.
type LedgerEventStore interface {
	AppendBatch(ctx context.Context, events []LedgerEvent) error
	LastSeq(ctx context.Context) (uint64, error)
	List(ctx context.Context, afterSeq uint64, limit int) ([]LedgerEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]LedgerEvent, error)
}

// AuditEntry is a single operational audit row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists operational actions such as archive runs.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
