package domain

import (
	"context"
	"time"
)

// LedgerEventKind names an entry of the append-only audit log.
type LedgerEventKind string

const (
	KindEventCreated       LedgerEventKind = "EventCreated"
	KindPoolConfigured     LedgerEventKind = "PoolConfigured"
	KindRegistrationOpened LedgerEventKind = "RegistrationOpened"
	KindRegistrationClosed LedgerEventKind = "RegistrationClosed"
	KindStaked             LedgerEventKind = "Staked"
	KindStakeWithdrawn     LedgerEventKind = "StakeWithdrawn"
	KindDrawRequested      LedgerEventKind = "DrawRequested"
	KindDrawReRequested    LedgerEventKind = "DrawReRequested"
	KindDrawRevealed       LedgerEventKind = "DrawRevealed"
	KindWinnersMarked      LedgerEventKind = "WinnersMarked"
	KindEventRevealed      LedgerEventKind = "EventRevealed"
	KindTicketMinted       LedgerEventKind = "TicketMinted"
	KindTicketClaimed      LedgerEventKind = "TicketClaimed"
	KindTicketTransferred  LedgerEventKind = "TicketTransferred"
	KindRefundClaimed      LedgerEventKind = "RefundClaimed"
	KindRebateFixed        LedgerEventKind = "RebateFixed"
	KindRebateFunded       LedgerEventKind = "RebateFunded"
	KindRemainderSwept     LedgerEventKind = "RemainderSwept"
	KindPoolHalted         LedgerEventKind = "PoolHalted"
)

// LedgerEvent is one sequenced entry of the audit log. The snapshot fields
// carry the full entity state after the change so the log alone is enough to
// rebuild every entity.
type LedgerEvent struct {
	Seq     uint64          `json:"seq"`
	Kind    LedgerEventKind `json:"kind"`
	EventID EventID         `json:"event_id"`
	Class   PoolClass       `json:"pool_class"`
	StakeID StakeID         `json:"stake_id,omitempty"`
	TokenID TokenID         `json:"token_id,omitempty"`
	User    Address         `json:"user"`
	Amount  Amount          `json:"amount,omitempty"`
	Note    string          `json:"note,omitempty"`
	At      time.Time       `json:"at"`

	Event  *Event         `json:"event,omitempty"`
	Pool   *Pool          `json:"pool,omitempty"`
	Stake  *Stake         `json:"stake,omitempty"`
	Draw   *DrawRequest   `json:"draw,omitempty"`
	Ticket *Ticket        `json:"ticket,omitempty"`
	Payout *Payout        `json:"payout,omitempty"`
	Rebate *RebateAccount `json:"rebate,omitempty"`
}

// Journal accepts ledger events. Append assigns the sequence number and
// never fails.
type Journal interface {
	Append(ctx context.Context, ev LedgerEvent) LedgerEvent
}
