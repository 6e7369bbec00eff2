// Package projection folds the ledger event log back into entity state.
package projection

import (
	"fmt"
	"sort"

	"github.com/fairstake/tickets/internal/domain"
)

// State is every entity reconstructed from the log.
type State struct {
	Events  map[domain.EventID]domain.Event
	Pools   map[domain.PoolKey]domain.Pool
	Stakes  map[domain.StakeID]domain.Stake
	Draws   map[domain.PoolKey]domain.DrawRequest
	Tickets map[domain.TokenID]domain.Ticket
	Rebates map[domain.PoolKey]domain.RebateAccount
	Payouts []domain.Payout
	LastSeq uint64
}

func newState() *State {
	return &State{
		Events:  make(map[domain.EventID]domain.Event),
		Pools:   make(map[domain.PoolKey]domain.Pool),
		Stakes:  make(map[domain.StakeID]domain.Stake),
		Draws:   make(map[domain.PoolKey]domain.DrawRequest),
		Tickets: make(map[domain.TokenID]domain.Ticket),
		Rebates: make(map[domain.PoolKey]domain.RebateAccount),
	}
}

// Rebuild applies events in sequence order. Sequence numbers must be
// contiguous.
func Rebuild(events []domain.LedgerEvent) (*State, error) {
	st := newState()
	for _, ev := range events {
		if err := st.Apply(ev); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Apply folds a single event into the state.
func (s *State) Apply(ev domain.LedgerEvent) error {
	if s.LastSeq != 0 && ev.Seq != s.LastSeq+1 {
		return fmt.Errorf("projection: seq %d follows %d", ev.Seq, s.LastSeq)
	}
	key := domain.PoolKey{EventID: ev.EventID, Class: ev.Class}

	switch ev.Kind {
	case domain.KindEventCreated, domain.KindRegistrationOpened,
		domain.KindRegistrationClosed, domain.KindEventRevealed:
		if ev.Event == nil {
			return missing(ev, "event")
		}
		s.Events[ev.Event.ID] = *ev.Event

	case domain.KindPoolConfigured, domain.KindPoolHalted:
		if ev.Pool == nil {
			return missing(ev, "pool")
		}
		s.Pools[ev.Pool.Key()] = *ev.Pool

	case domain.KindStaked, domain.KindStakeWithdrawn:
		if ev.Stake == nil {
			return missing(ev, "stake")
		}
		s.Stakes[ev.Stake.ID] = *ev.Stake
		acct := s.rebate(key)
		if ev.Kind == domain.KindStaked {
			acct.SurplusCollected += ev.Stake.PlatformFee
		} else {
			acct.SurplusCollected -= ev.Stake.PlatformFee
		}
		s.Rebates[key] = acct

	case domain.KindWinnersMarked:
		if ev.Draw == nil {
			return missing(ev, "draw")
		}
		won := make(map[domain.StakeID]bool, len(ev.Draw.Winners))
		for _, id := range ev.Draw.Winners {
			won[id] = true
		}
		for id, st := range s.Stakes {
			if st.Key() != key || !st.Active() {
				continue
			}
			if won[id] {
				st.Outcome = domain.OutcomeWinner
			} else {
				st.Outcome = domain.OutcomeLoser
			}
			s.Stakes[id] = st
		}

	case domain.KindDrawRequested, domain.KindDrawReRequested, domain.KindDrawRevealed:
		if ev.Draw == nil {
			return missing(ev, "draw")
		}
		s.Draws[key] = *ev.Draw

	case domain.KindTicketMinted, domain.KindTicketTransferred:
		if ev.Ticket == nil {
			return missing(ev, "ticket")
		}
		s.Tickets[ev.Ticket.TokenID] = *ev.Ticket

	case domain.KindTicketClaimed:
		if ev.Stake == nil {
			return missing(ev, "stake")
		}
		s.Stakes[ev.Stake.ID] = *ev.Stake

	case domain.KindRefundClaimed:
		if ev.Stake == nil || ev.Payout == nil {
			return missing(ev, "stake and payout")
		}
		s.Stakes[ev.Stake.ID] = *ev.Stake
		s.Payouts = append(s.Payouts, *ev.Payout)
		acct := s.rebate(key)
		acct.Paid += ev.Payout.Rebate
		acct.Claims++
		s.Rebates[key] = acct

	case domain.KindRebateFixed, domain.KindRebateFunded, domain.KindRemainderSwept:
		if ev.Rebate == nil {
			return missing(ev, "rebate")
		}
		// Claim counters come from RefundClaimed, which may be journaled
		// before a concurrent snapshot; only the fields the event owns are
		// taken from it.
		acct := s.rebate(key)
		switch ev.Kind {
		case domain.KindRebateFunded:
			acct.ExternalFunding = ev.Rebate.ExternalFunding
		case domain.KindRemainderSwept:
			acct.Swept = ev.Rebate.Swept
		default:
			acct.Fixed = true
			acct.EligibleLosers = ev.Rebate.EligibleLosers
			acct.Distributable = ev.Rebate.Distributable
			acct.Budget = ev.Rebate.Budget
			acct.PerLoser = ev.Rebate.PerLoser
			acct.Capped = ev.Rebate.Capped
		}
		s.Rebates[key] = acct

	default:
		return fmt.Errorf("projection: seq %d: unknown kind %q", ev.Seq, ev.Kind)
	}
	s.LastSeq = ev.Seq
	return nil
}

func (s *State) rebate(key domain.PoolKey) domain.RebateAccount {
	acct, ok := s.Rebates[key]
	if !ok {
		acct = domain.RebateAccount{EventID: key.EventID, Class: key.Class}
	}
	return acct
}

func missing(ev domain.LedgerEvent, what string) error {
	return fmt.Errorf("projection: seq %d %s: missing %s snapshot", ev.Seq, ev.Kind, what)
}

// StakesByPool returns the pool's stakes in creation order.
func (s *State) StakesByPool(key domain.PoolKey) []domain.Stake {
	var out []domain.Stake
	for _, st := range s.Stakes {
		if st.Key() == key {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
