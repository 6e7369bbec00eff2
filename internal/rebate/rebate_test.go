package rebate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/journal"
	"github.com/fairstake/tickets/internal/vault"
)

var key = domain.PoolKey{EventID: 1, Class: domain.PoolA}

func newPool(t *testing.T) (*Pool, *vault.Vault) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := vault.New(logger)
	return New(v, journal.NewOutbox(0, domain.SystemClock{}), logger), v
}

func TestFixMatchesExampleScenario(t *testing.T) {
	p, _ := newPool(t)
	fee := domain.Amount(12_500000)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Accumulate(key, fee))
	}

	acct, err := p.Fix(context.Background(), key, Resolution{AlphaBps: 3000, Losers: 1, WinnerFees: 2 * fee})
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(37_500000), acct.SurplusCollected)
	assert.Equal(t, domain.Amount(11_250000), acct.PerLoser)
	assert.False(t, acct.Capped)

	rem, err := p.Remainder(key)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(25_000000-11_250000), rem)
}

func TestFixIsMemoised(t *testing.T) {
	p, _ := newPool(t)
	require.NoError(t, p.Accumulate(key, 1_000))

	var wg sync.WaitGroup
	results := make([]domain.Amount, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct, err := p.Fix(context.Background(), key, Resolution{AlphaBps: 10_000, Losers: uint32(i + 1), WinnerFees: 1_000})
			if assert.NoError(t, err) {
				results[i] = acct.PerLoser
			}
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	require.Error(t, p.Accumulate(key, 1))
}

func TestFixCapsAtBudget(t *testing.T) {
	p, _ := newPool(t)
	require.NoError(t, p.Accumulate(key, 900))
	require.NoError(t, p.Accumulate(key, 100))

	// Nine losers and one winner: only the winner's fee is free to distribute.
	acct, err := p.Fix(context.Background(), key, Resolution{AlphaBps: 10_000, Losers: 9, WinnerFees: 100})
	require.NoError(t, err)
	assert.True(t, acct.Capped)
	assert.Equal(t, domain.Amount(1000), acct.Distributable)
	assert.Equal(t, domain.Amount(100), acct.Budget)
	assert.Equal(t, domain.Amount(11), acct.PerLoser)

	rem, err := p.Remainder(key)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1), rem)
}

func TestFundMovesTokensIntoEscrow(t *testing.T) {
	p, v := newPool(t)
	sponsor := common.HexToAddress("0x5")
	require.NoError(t, v.Mint(sponsor, 500))

	_, err := p.Fund(context.Background(), key, sponsor, 600)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	acct, err := p.Fund(context.Background(), key, sponsor, 500)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(500), acct.ExternalFunding)
	assert.Equal(t, domain.Amount(500), v.BalanceOf(vault.EscrowAccount(key)))

	_, err = p.Fix(context.Background(), key, Resolution{AlphaBps: 5000, Losers: 2})
	require.NoError(t, err)
	_, err = p.Fund(context.Background(), key, sponsor, 1)
	require.ErrorIs(t, err, domain.ErrWrongState)
}

func TestRecordPayoutBoundedByLosers(t *testing.T) {
	p, _ := newPool(t)
	_, err := p.Fix(context.Background(), key, Resolution{AlphaBps: 0, Losers: 1})
	require.NoError(t, err)
	require.NoError(t, p.RecordPayout(key, 0))
	require.ErrorIs(t, p.RecordPayout(key, 0), domain.ErrInvariantViolation)
}
