package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/projection"
)

// ErrProjectionDrift reports live state that the ledger event log does not
// reproduce.
var ErrProjectionDrift = errors.New("projection drift")

// VerifyProjection rebuilds state from the journal and compares it with the
// live components. Run it while no mutations are in flight.
func (p *Platform) VerifyProjection(ctx context.Context) (*projection.State, error) {
	st, err := projection.Rebuild(p.Outbox.Events())
	if err != nil {
		return nil, err
	}

	var drift []error
	mismatch := func(what string, live, rebuilt any) {
		if !reflect.DeepEqual(live, rebuilt) {
			drift = append(drift, fmt.Errorf("%s: live %+v, rebuilt %+v", what, live, rebuilt))
		}
	}

	events := p.Registry.ListEvents(ctx)
	if len(events) != len(st.Events) {
		drift = append(drift, fmt.Errorf("events: live %d, rebuilt %d", len(events), len(st.Events)))
	}
	for _, ev := range events {
		mismatch(fmt.Sprintf("event %d", ev.ID), ev, st.Events[ev.ID])

		pools, err := p.Registry.Pools(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		for _, pool := range pools {
			key := pool.Key()
			mismatch("pool "+key.String(), pool, st.Pools[key])

			stakes, err := p.Stakes.ByPool(ctx, key)
			if err != nil {
				return nil, err
			}
			mismatch("stakes "+key.String(), nonNil(stakes), nonNil(st.StakesByPool(key)))

			if d, err := p.Engine.DrawRequest(ctx, key); err == nil {
				mismatch("draw "+key.String(), d, st.Draws[key])
			} else if _, ok := st.Draws[key]; ok {
				drift = append(drift, fmt.Errorf("draw %s: rebuilt but not live", key))
			}

			rebuilt, ok := st.Rebates[key]
			if !ok {
				rebuilt = domain.RebateAccount{EventID: key.EventID, Class: key.Class}
			}
			mismatch("rebate "+key.String(), p.Ledger.Rebate(key), rebuilt)

			var minted uint32
			for _, t := range st.Tickets {
				if t.EventID == key.EventID && t.Class == key.Class {
					minted++
				}
			}
			mismatch("minted "+key.String(), p.Issuer.Minted(key), minted)
		}
	}
	for id, t := range st.Tickets {
		live, err := p.Issuer.Ticket(ctx, id)
		if err != nil {
			drift = append(drift, fmt.Errorf("ticket %d: %w", id, err))
			continue
		}
		mismatch(fmt.Sprintf("ticket %d", id), live, t)
	}

	if len(drift) > 0 {
		return st, fmt.Errorf("service: %w: %w", ErrProjectionDrift, errors.Join(drift...))
	}
	return st, nil
}

func nonNil(s []domain.Stake) []domain.Stake {
	if s == nil {
		return []domain.Stake{}
	}
	return s
}
