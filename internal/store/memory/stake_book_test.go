package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/domain"
)

var poolA = domain.PoolKey{EventID: 1, Class: domain.PoolA}

func stakeFor(user string) domain.Stake {
	return domain.Stake{User: common.HexToAddress(user), EventID: poolA.EventID, Class: poolA.Class}
}

func TestInsertAssignsSequentialIDsAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	b := NewStakeBook()

	s1, err := b.Insert(ctx, stakeFor("0x1"))
	require.NoError(t, err)
	s2, err := b.Insert(ctx, stakeFor("0x2"))
	require.NoError(t, err)
	assert.Equal(t, domain.StakeID(1), s1.ID)
	assert.Equal(t, domain.StakeID(2), s2.ID)

	_, err = b.Insert(ctx, stakeFor("0x1"))
	require.ErrorIs(t, err, domain.ErrAlreadyStaked)

	other := stakeFor("0x1")
	other.Class = domain.PoolB
	_, err = b.Insert(ctx, other)
	require.NoError(t, err, "same user may stake in a different pool")
}

func TestConcurrentInsertOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	b := NewStakeBook()
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Insert(ctx, stakeFor("0xabc")); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestResolveIsTotalAndOnce(t *testing.T) {
	ctx := context.Background()
	b := NewStakeBook()
	for _, u := range []string{"0x1", "0x2", "0x3"} {
		_, err := b.Insert(ctx, stakeFor(u))
		require.NoError(t, err)
	}

	resolved, err := b.Resolve(ctx, poolA, map[domain.StakeID]bool{2: true})
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	assert.Equal(t, domain.OutcomeLoser, resolved[0].Outcome)
	assert.Equal(t, domain.OutcomeWinner, resolved[1].Outcome)
	assert.Equal(t, domain.OutcomeLoser, resolved[2].Outcome)

	_, err = b.Resolve(ctx, poolA, map[domain.StakeID]bool{1: true})
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestResolveRejectsForeignWinner(t *testing.T) {
	ctx := context.Background()
	b := NewStakeBook()
	_, err := b.Insert(ctx, stakeFor("0x1"))
	require.NoError(t, err)

	_, err = b.Resolve(ctx, poolA, map[domain.StakeID]bool{99: true})
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	s, err := b.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnresolved, s.Outcome, "failed resolve leaves state untouched")
}

func TestWithdrawKeepsSlotAndRecord(t *testing.T) {
	ctx := context.Background()
	b := NewStakeBook()
	s, err := b.Insert(ctx, stakeFor("0x1"))
	require.NoError(t, err)

	_, err = b.Withdraw(ctx, s.ID)
	require.NoError(t, err)
	_, err = b.Withdraw(ctx, s.ID)
	require.ErrorIs(t, err, domain.ErrWithdrawn)

	_, err = b.Insert(ctx, stakeFor("0x1"))
	require.ErrorIs(t, err, domain.ErrAlreadyStaked)

	found, err := b.Find(ctx, s.User, poolA)
	require.NoError(t, err)
	assert.Equal(t, s.ID, found.ID)
	assert.True(t, found.Withdrawn)

	all, err := b.ByPool(ctx, poolA)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMarkClaimedIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	b := NewStakeBook()
	s, err := b.Insert(ctx, stakeFor("0x1"))
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	_, err = b.MarkClaimed(ctx, s.ID, now)
	require.NoError(t, err)
	_, err = b.MarkClaimed(ctx, s.ID, now)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	require.NoError(t, b.UnmarkClaimed(ctx, s.ID))
	_, err = b.MarkClaimed(ctx, s.ID, now)
	require.NoError(t, err)
}
