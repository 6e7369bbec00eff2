package oracle

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/fairstake/tickets/internal/domain"
)

// Deterministic is a reproducible randomness oracle for tests and local
// runs: value = keccak256(seed || commitment || requestID). In manual mode
// values stay hidden until Reveal is called.
type Deterministic struct {
	mu       sync.Mutex
	seed     domain.Hash
	fee      domain.Amount
	manual   bool
	lastID   domain.RequestID
	requests map[domain.RequestID]*detRequest
}

type detRequest struct {
	commitment domain.Hash
	value      domain.Hash
	ready      bool
}

var _ domain.RandomnessOracle = (*Deterministic)(nil)

// NewDeterministic creates the oracle. manual delays reveals until Reveal.
func NewDeterministic(seed domain.Hash, fee domain.Amount, manual bool) *Deterministic {
	return &Deterministic{
		seed:     seed,
		fee:      fee,
		manual:   manual,
		requests: make(map[domain.RequestID]*detRequest),
	}
}

func (d *Deterministic) Fee() domain.Amount { return d.fee }

func (d *Deterministic) RequestRandom(_ context.Context, commitment domain.Hash) (domain.RequestID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastID++
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(d.lastID))
	d.requests[d.lastID] = &detRequest{
		commitment: commitment,
		value:      ethcrypto.Keccak256Hash(d.seed[:], commitment[:], id[:]),
		ready:      !d.manual,
	}
	return d.lastID, nil
}

func (d *Deterministic) GetRandom(_ context.Context, id domain.RequestID) (bool, domain.Hash, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.requests[id]
	if !ok {
		return false, domain.Hash{}, fmt.Errorf("oracle: request %d: %w", id, domain.ErrUnknownRequest)
	}
	if !r.ready {
		return false, domain.Hash{}, nil
	}
	return true, r.value, nil
}

// Reveal makes a manual-mode request ready.
func (d *Deterministic) Reveal(id domain.RequestID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.requests[id]
	if !ok {
		return fmt.Errorf("oracle: reveal %d: %w", id, domain.ErrUnknownRequest)
	}
	r.ready = true
	return nil
}

// Commitment returns the commitment a request was bound to.
func (d *Deterministic) Commitment(id domain.RequestID) (domain.Hash, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.requests[id]
	if !ok {
		return domain.Hash{}, false
	}
	return r.commitment, true
}
