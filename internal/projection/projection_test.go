package projection

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/domain"
)

func TestRebuildResolvesStakesFromWinnersMarked(t *testing.T) {
	alice, bob := common.HexToAddress("0xa"), common.HexToAddress("0xb")
	stake := func(id domain.StakeID, u domain.Address) *domain.Stake {
		return &domain.Stake{ID: id, User: u, EventID: 1, Class: domain.PoolA, PlatformFee: 5, StakeAmount: 105}
	}
	withdrawn := stake(3, common.HexToAddress("0xc"))
	withdrawn.Withdrawn = true

	events := []domain.LedgerEvent{
		{Seq: 1, Kind: domain.KindEventCreated, EventID: 1, Event: &domain.Event{ID: 1, Name: "x"}},
		{Seq: 2, Kind: domain.KindPoolConfigured, EventID: 1, Pool: &domain.Pool{EventID: 1, Quantity: 1}},
		{Seq: 3, Kind: domain.KindStaked, EventID: 1, Stake: stake(1, alice)},
		{Seq: 4, Kind: domain.KindStaked, EventID: 1, Stake: stake(2, bob)},
		{Seq: 5, Kind: domain.KindStaked, EventID: 1, Stake: stake(3, common.HexToAddress("0xc"))},
		{Seq: 6, Kind: domain.KindStakeWithdrawn, EventID: 1, Stake: withdrawn},
		{Seq: 7, Kind: domain.KindWinnersMarked, EventID: 1, Draw: &domain.DrawRequest{EventID: 1, Winners: []domain.StakeID{2}}},
	}
	st, err := Rebuild(events)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeLoser, st.Stakes[1].Outcome)
	assert.Equal(t, domain.OutcomeWinner, st.Stakes[2].Outcome)
	assert.Equal(t, domain.OutcomeUnresolved, st.Stakes[3].Outcome)
	assert.Equal(t, domain.Amount(10), st.Rebates[domain.PoolKey{EventID: 1}].SurplusCollected)
	assert.Len(t, st.StakesByPool(domain.PoolKey{EventID: 1}), 3)
	assert.Equal(t, uint64(7), st.LastSeq)
}

func TestRebuildRejectsGapsAndMissingSnapshots(t *testing.T) {
	_, err := Rebuild([]domain.LedgerEvent{
		{Seq: 1, Kind: domain.KindEventCreated, Event: &domain.Event{ID: 1}},
		{Seq: 3, Kind: domain.KindEventCreated, Event: &domain.Event{ID: 2}},
	})
	require.Error(t, err)

	_, err = Rebuild([]domain.LedgerEvent{{Seq: 1, Kind: domain.KindStaked}})
	require.Error(t, err)
}
