package lottery

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/domain"
)

func seedFor(i int) domain.Hash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return ethcrypto.Keccak256Hash([]byte("selection-test"), b[:])
}

func ids(n int) []domain.StakeID {
	out := make([]domain.StakeID, n)
	for i := range out {
		out[i] = domain.StakeID(i + 1)
	}
	return out
}

func TestSelectIndicesDistinctAndBounded(t *testing.T) {
	for _, tc := range []struct{ n, k, want int }{
		{10, 3, 3},
		{10, 10, 10},
		{5, 9, 5},
		{1, 1, 1},
		{0, 4, 0},
	} {
		got := SelectIndices(seedFor(tc.n*100+tc.k), tc.n, tc.k)
		require.Len(t, got, tc.want)
		seen := map[int]bool{}
		for _, i := range got {
			assert.GreaterOrEqual(t, i, 0)
			assert.Less(t, i, tc.n)
			assert.False(t, seen[i], "index %d repeated", i)
			seen[i] = true
		}
	}
}

func TestSelectWinnersIsReproducible(t *testing.T) {
	cands := ids(50)
	a := SelectWinners(seedFor(1), cands, 7)
	b := SelectWinners(seedFor(1), cands, 7)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, SelectWinners(seedFor(2), cands, 7))
}

func TestSelectWinnersAllWinWhenUndersubscribed(t *testing.T) {
	cands := ids(3)
	assert.Equal(t, cands, SelectWinners(domain.Hash{}, cands, 3))
	assert.Equal(t, cands, SelectWinners(domain.Hash{}, cands, 10))
	assert.Empty(t, SelectWinners(domain.Hash{}, nil, 10))
}

func TestSelectionIsUniform(t *testing.T) {
	const (
		runs     = 10_000
		pool     = 100
		quantity = 10
	)
	cands := ids(pool)
	wins := make([]int, pool+1)
	for r := 0; r < runs; r++ {
		for _, id := range SelectWinners(seedFor(r), cands, quantity) {
			wins[id]++
		}
	}
	for id := 1; id <= pool; id++ {
		rate := float64(wins[id]) / runs
		assert.InDelta(t, 0.10, rate, 0.02, "candidate %d won %d times", id, wins[id])
	}
}

func TestCommitmentBindsEveryField(t *testing.T) {
	key := domain.PoolKey{EventID: 1, Class: domain.PoolA}
	base := Commitment(key, 10, 0)
	assert.Equal(t, base, Commitment(key, 10, 0))
	assert.NotEqual(t, base, Commitment(key, 11, 0))
	assert.NotEqual(t, base, Commitment(key, 10, 1))
	assert.NotEqual(t, base, Commitment(domain.PoolKey{EventID: 1, Class: domain.PoolB}, 10, 0))
	assert.NotEqual(t, base, Commitment(domain.PoolKey{EventID: 2, Class: domain.PoolA}, 10, 0))
	assert.NotEqual(t, common.Hash{}, base)
}
