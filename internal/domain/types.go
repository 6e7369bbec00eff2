// Package domain holds the core types, sentinel errors, and collaborator
// interfaces shared by every FairStake component.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies a wallet or a system account.
type Address = common.Address

// Hash is a 32-byte keccak digest or random value.
type Hash = common.Hash

// EventID identifies an event. IDs are assigned sequentially from 1.
type EventID uint64

// StakeID identifies a stake. IDs are assigned sequentially from 1 and their
// order is the stake creation order.
type StakeID uint64

// TokenID identifies a minted ticket. IDs are assigned sequentially from 1.
type TokenID uint64

// RequestID identifies a randomness oracle request.
type RequestID uint64

// PoolClass is a priced ticket tier within an event.
type PoolClass uint8

const (
	PoolA PoolClass = iota
	PoolB
	PoolC
)

// MaxPoolClass is the highest pool class an event may configure.
const MaxPoolClass = PoolC

func (c PoolClass) String() string {
	switch c {
	case PoolA:
		return "A"
	case PoolB:
		return "B"
	case PoolC:
		return "C"
	default:
		return fmt.Sprintf("PoolClass(%d)", uint8(c))
	}
}

// Valid reports whether c is a known pool class.
func (c PoolClass) Valid() bool { return c <= MaxPoolClass }

// ParsePoolClass accepts "A"/"B"/"C" (any case) or "0"/"1"/"2".
func ParsePoolClass(s string) (PoolClass, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "0":
		return PoolA, nil
	case "B", "1":
		return PoolB, nil
	case "C", "2":
		return PoolC, nil
	}
	return 0, fmt.Errorf("%w: pool class %q", ErrInvalidPoolClass, s)
}

// PoolKey names a single (event, pool class) pair.
type PoolKey struct {
	EventID EventID
	Class   PoolClass
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%d:%s", k.EventID, k.Class)
}

// EventState is the lifecycle state of an event.
type EventState uint8

const (
	EventCreated EventState = iota
	EventRegistrationOpen
	EventRegistrationClosed
	EventRevealed
)

func (s EventState) String() string {
	switch s {
	case EventCreated:
		return "created"
	case EventRegistrationOpen:
		return "registration_open"
	case EventRegistrationClosed:
		return "registration_closed"
	case EventRevealed:
		return "revealed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s EventState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *EventState) UnmarshalText(b []byte) error {
	for _, st := range []EventState{EventCreated, EventRegistrationOpen, EventRegistrationClosed, EventRevealed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("domain: unknown event state %q", string(b))
}

// Event is a ticketed event and its registration window.
type Event struct {
	ID                EventID    `json:"id"`
	Name              string     `json:"name"`
	MetadataURI       string     `json:"metadata_uri"`
	Organizer         Address    `json:"organizer"`
	RegistrationStart time.Time  `json:"registration_start"`
	RegistrationEnd   time.Time  `json:"registration_end"`
	RevealDeadline    time.Time  `json:"reveal_deadline"`
	PlatformFeeBps    uint16     `json:"platform_fee_bps"`
	RebateAlphaBps    uint16     `json:"rebate_alpha_bps"`
	State             EventState `json:"state"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Pool is a ticket tier of an event. FacePrice and Quantity are frozen once
// registration starts.
type Pool struct {
	EventID     EventID   `json:"event_id"`
	Class       PoolClass `json:"pool_class"`
	FacePrice   Amount    `json:"face_price"`
	PlatformFee Amount    `json:"platform_fee"`
	Quantity    uint32    `json:"quantity"`
	Halted      bool      `json:"halted"`
	HaltReason  string    `json:"halt_reason,omitempty"`
}

// Key returns the pool's (event, class) key.
func (p Pool) Key() PoolKey { return PoolKey{EventID: p.EventID, Class: p.Class} }

// StakeAmount is the total escrowed per stake: face price plus fee.
func (p Pool) StakeAmount() Amount { return p.FacePrice + p.PlatformFee }

// Outcome is the tri-state lottery result of a stake.
type Outcome uint8

const (
	OutcomeUnresolved Outcome = iota
	OutcomeWinner
	OutcomeLoser
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWinner:
		return "winner"
	case OutcomeLoser:
		return "loser"
	default:
		return "unresolved"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "winner":
		*o = OutcomeWinner
	case "loser":
		*o = OutcomeLoser
	case "unresolved":
		*o = OutcomeUnresolved
	default:
		return fmt.Errorf("domain: unknown outcome %q", string(b))
	}
	return nil
}

// Stake is a user's escrowed entry into a pool. Stakes are never deleted.
type Stake struct {
	ID          StakeID    `json:"id"`
	User        Address    `json:"user"`
	EventID     EventID    `json:"event_id"`
	Class       PoolClass  `json:"pool_class"`
	FacePrice   Amount     `json:"face_price"`
	PlatformFee Amount     `json:"platform_fee"`
	StakeAmount Amount     `json:"stake_amount"`
	Outcome     Outcome    `json:"outcome"`
	Claimed     bool       `json:"claimed"`
	Withdrawn   bool       `json:"withdrawn"`
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}

// Key returns the stake's pool key.
func (s Stake) Key() PoolKey { return PoolKey{EventID: s.EventID, Class: s.Class} }

// Active reports whether the stake still participates in its pool.
func (s Stake) Active() bool { return !s.Withdrawn }

// DrawStatus is the per-pool draw state machine.
type DrawStatus uint8

const (
	DrawNotRequested DrawStatus = iota
	DrawRequested
	DrawRevealed
)

func (s DrawStatus) String() string {
	switch s {
	case DrawRequested:
		return "requested"
	case DrawRevealed:
		return "revealed"
	default:
		return "not_requested"
	}
}

func (s DrawStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *DrawStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "requested":
		*s = DrawRequested
	case "revealed":
		*s = DrawRevealed
	case "not_requested":
		*s = DrawNotRequested
	default:
		return fmt.Errorf("domain: unknown draw status %q", string(b))
	}
	return nil
}

// DrawRequest is the single draw record of a pool.
type DrawRequest struct {
	EventID        EventID    `json:"event_id"`
	Class          PoolClass  `json:"pool_class"`
	Status         DrawStatus `json:"status"`
	Commitment     Hash       `json:"commitment"`
	RequestID      RequestID  `json:"request_id"`
	Attempt        uint32     `json:"attempt"`
	CandidateCount uint32     `json:"candidate_count"`
	Quantity       uint32     `json:"quantity"`
	FeePaid        Amount     `json:"fee_paid"`
	// Trivial is set when every candidate wins and no randomness is consumed.
	Trivial     bool       `json:"trivial"`
	Seed        Hash       `json:"seed"`
	Winners     []StakeID  `json:"winners"`
	RequestedAt time.Time  `json:"requested_at"`
	RevealedAt  *time.Time `json:"revealed_at,omitempty"`
}

// Key returns the draw's pool key.
func (d DrawRequest) Key() PoolKey { return PoolKey{EventID: d.EventID, Class: d.Class} }

// Ticket is a soulbound ticket minted to a winning stake.
type Ticket struct {
	TokenID       TokenID   `json:"token_id"`
	EventID       EventID   `json:"event_id"`
	Class         PoolClass `json:"pool_class"`
	StakeID       StakeID   `json:"stake_id"`
	Owner         Address   `json:"owner"`
	OriginalOwner Address   `json:"original_owner"`
	MetadataURI   string    `json:"metadata_uri"`
	MintedAt      time.Time `json:"minted_at"`
}

// TicketAttributes are handed to the metadata service before minting.
type TicketAttributes struct {
	EventID   EventID
	EventName string
	Class     PoolClass
	StakeID   StakeID
	Owner     Address
}

// RebateAccount tracks the surplus of one pool and the per-loser rebate once
// fixed.
type RebateAccount struct {
	EventID          EventID   `json:"event_id"`
	Class            PoolClass `json:"pool_class"`
	SurplusCollected Amount    `json:"surplus_collected"`
	ExternalFunding  Amount    `json:"external_funding"`
	Fixed            bool      `json:"fixed"`
	EligibleLosers   uint32    `json:"eligible_losers"`
	Distributable    Amount    `json:"distributable"`
	Budget           Amount    `json:"budget"`
	PerLoser         Amount    `json:"per_loser"`
	Capped           bool      `json:"capped"`
	Paid             Amount    `json:"paid"`
	Claims           uint32    `json:"claims"`
	Swept            Amount    `json:"swept"`
}

// Payout is what a loser receives from claimRefund.
type Payout struct {
	StakeID StakeID `json:"stake_id"`
	User    Address `json:"user"`
	Refund  Amount  `json:"refund"`
	Rebate  Amount  `json:"rebate"`
}

// Total is refund plus rebate.
func (p Payout) Total() Amount { return p.Refund + p.Rebate }
