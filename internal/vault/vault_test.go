package vault

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/domain"
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	v := New(slog.Default())
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")

	require.NoError(t, v.Mint(alice, domain.Tokens(10)))

	require.NoError(t, v.Transfer(ctx, alice, bob, domain.Tokens(4)))
	assert.Equal(t, domain.Tokens(6), v.BalanceOf(alice))
	assert.Equal(t, domain.Tokens(4), v.BalanceOf(bob))

	err := v.Transfer(ctx, bob, alice, domain.Tokens(5))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.Tokens(4), v.BalanceOf(bob), "failed transfer must not move funds")
	assert.Equal(t, domain.Tokens(10), v.Supply())
}

func TestConcurrentTransfersConserveSupply(t *testing.T) {
	ctx := context.Background()
	v := New(slog.Default())
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	require.NoError(t, v.Mint(a, domain.Tokens(1000)))
	require.NoError(t, v.Mint(b, domain.Tokens(1000)))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = v.Transfer(ctx, a, b, domain.Unit) }()
		go func() { defer wg.Done(); _ = v.Transfer(ctx, b, a, domain.Unit) }()
	}
	wg.Wait()
	assert.Equal(t, domain.Tokens(2000), v.BalanceOf(a)+v.BalanceOf(b))
}

func TestEscrowAccountIsStablePerPool(t *testing.T) {
	k1 := domain.PoolKey{EventID: 1, Class: domain.PoolA}
	k2 := domain.PoolKey{EventID: 1, Class: domain.PoolB}
	assert.Equal(t, EscrowAccount(k1), EscrowAccount(k1))
	assert.NotEqual(t, EscrowAccount(k1), EscrowAccount(k2))
}
