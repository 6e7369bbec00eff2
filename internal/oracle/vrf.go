package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairstake/tickets/internal/crypto"
	"github.com/fairstake/tickets/internal/domain"
)

// VRF is a signature-based randomness oracle. The value of a request is
// keccak256 of the oracle's deterministic signature over
// keccak256(commitment || requestID), so it is fixed at request time, hidden
// until revealed, and checkable by anyone holding the oracle address.
type VRF struct {
	prover *crypto.Prover
	fee    domain.Amount
	delay  time.Duration
	clock  domain.Clock
	logger *slog.Logger

	mu       sync.Mutex
	lastID   domain.RequestID
	requests map[domain.RequestID]*vrfRequest
}

type vrfRequest struct {
	commitment  domain.Hash
	requestedAt time.Time
	proof       *crypto.Proof
}

var _ domain.RandomnessOracle = (*VRF)(nil)

// NewVRF creates an oracle that reveals delay after each request.
func NewVRF(prover *crypto.Prover, fee domain.Amount, delay time.Duration, clock domain.Clock, logger *slog.Logger) *VRF {
	return &VRF{
		prover:   prover,
		fee:      fee,
		delay:    delay,
		clock:    clock,
		logger:   logger.With(slog.String("component", "vrf_oracle")),
		requests: make(map[domain.RequestID]*vrfRequest),
	}
}

func (v *VRF) Fee() domain.Amount { return v.fee }

// Address is the oracle key address proofs verify against.
func (v *VRF) Address() domain.Address { return v.prover.Address() }

func (v *VRF) RequestRandom(_ context.Context, commitment domain.Hash) (domain.RequestID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastID++
	v.requests[v.lastID] = &vrfRequest{commitment: commitment, requestedAt: v.clock.Now()}
	v.logger.Debug("randomness requested",
		slog.Uint64("request_id", uint64(v.lastID)),
		slog.String("commitment", commitment.Hex()),
	)
	return v.lastID, nil
}

func (v *VRF) GetRandom(_ context.Context, id domain.RequestID) (bool, domain.Hash, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.requests[id]
	if !ok {
		return false, domain.Hash{}, fmt.Errorf("oracle: request %d: %w", id, domain.ErrUnknownRequest)
	}
	if v.clock.Now().Before(r.requestedAt.Add(v.delay)) {
		return false, domain.Hash{}, nil
	}
	if r.proof == nil {
		p, err := v.prover.Prove(r.commitment, uint64(id))
		if err != nil {
			return false, domain.Hash{}, fmt.Errorf("oracle: prove %d: %v: %w", id, err, domain.ErrOracleUnavailable)
		}
		r.proof = &p
	}
	return true, r.proof.Value, nil
}

// Proof returns the revealed proof and commitment of a request.
func (v *VRF) Proof(id domain.RequestID) (crypto.Proof, domain.Hash, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.requests[id]
	if !ok {
		return crypto.Proof{}, domain.Hash{}, fmt.Errorf("oracle: proof %d: %w", id, domain.ErrUnknownRequest)
	}
	if r.proof == nil {
		return crypto.Proof{}, domain.Hash{}, fmt.Errorf("oracle: proof %d: %w", id, domain.ErrNotYetRevealed)
	}
	return *r.proof, r.commitment, nil
}
