package ticket

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/journal"
	"github.com/fairstake/tickets/internal/store/memory"
)

var (
	minter = common.HexToAddress("0x1ed")
	resale = common.HexToAddress("0x5a1e")
	key    = domain.PoolKey{EventID: 1, Class: domain.PoolB}
)

type fixedPools struct{ quantity uint32 }

func (f fixedPools) Pool(_ context.Context, k domain.PoolKey) (domain.Pool, error) {
	return domain.Pool{EventID: k.EventID, Class: k.Class, Quantity: f.quantity}, nil
}

func setup(t *testing.T, quantity uint32, winners ...domain.Address) (*Issuer, *memory.StakeBook) {
	t.Helper()
	ctx := context.Background()
	book := memory.NewStakeBook()
	set := map[domain.StakeID]bool{}
	for _, w := range winners {
		s, err := book.Insert(ctx, domain.Stake{User: w, EventID: key.EventID, Class: key.Class})
		require.NoError(t, err)
		set[s.ID] = true
	}
	_, err := book.Insert(ctx, domain.Stake{User: common.HexToAddress("0x105e"), EventID: key.EventID, Class: key.Class})
	require.NoError(t, err)
	_, err = book.Resolve(ctx, key, set)
	require.NoError(t, err)

	clock := domain.SystemClock{}
	iss := New(Config{Minters: []domain.Address{minter}, Resale: resale}, book, fixedPools{quantity: quantity},
		clock, journal.NewOutbox(0, clock), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return iss, book
}

func TestMint(t *testing.T) {
	ctx := context.Background()
	alice := common.HexToAddress("0xa11ce")
	iss, _ := setup(t, 2, alice)

	_, err := iss.Mint(ctx, alice, alice, key.EventID, key.Class, "uri")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	tk, err := iss.Mint(ctx, minter, alice, key.EventID, key.Class, "ipfs://t/1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenID(1), tk.TokenID)
	assert.Equal(t, alice, tk.OriginalOwner)

	_, err = iss.Mint(ctx, minter, alice, key.EventID, key.Class, "ipfs://t/1")
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = iss.Mint(ctx, minter, common.HexToAddress("0x105e"), key.EventID, key.Class, "x")
	require.ErrorIs(t, err, domain.ErrNotWinner)
	_, err = iss.Mint(ctx, minter, common.HexToAddress("0xbeef"), key.EventID, key.Class, "x")
	require.ErrorIs(t, err, domain.ErrNotWinner)

	got, err := iss.UserTicket(ctx, alice, key)
	require.NoError(t, err)
	assert.Equal(t, tk, got)
}

func TestMintNeverExceedsQuantity(t *testing.T) {
	ctx := context.Background()
	a, b := common.HexToAddress("0xa"), common.HexToAddress("0xb")
	iss, _ := setup(t, 1, a, b)

	_, err := iss.Mint(ctx, minter, a, key.EventID, key.Class, "")
	require.NoError(t, err)
	_, err = iss.Mint(ctx, minter, b, key.EventID, key.Class, "")
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Equal(t, uint32(1), iss.Minted(key))
}

func TestTicketsAreSoulbound(t *testing.T) {
	ctx := context.Background()
	alice, bob := common.HexToAddress("0xa11ce"), common.HexToAddress("0xb0b")
	iss, _ := setup(t, 1, alice)
	tk, err := iss.Mint(ctx, minter, alice, key.EventID, key.Class, "")
	require.NoError(t, err)

	_, err = iss.Transfer(ctx, alice, tk.TokenID, bob)
	require.ErrorIs(t, err, domain.ErrNonTransferable)

	moved, err := iss.Transfer(ctx, resale, tk.TokenID, bob)
	require.NoError(t, err)
	assert.Equal(t, bob, moved.Owner)
	assert.Equal(t, alice, moved.OriginalOwner)
}

func TestTransferMovesHolderIndex(t *testing.T) {
	ctx := context.Background()
	alice, bob, carol := common.HexToAddress("0xa11ce"), common.HexToAddress("0xb0b"), common.HexToAddress("0xca201")
	iss, _ := setup(t, 2, alice, carol)
	tk, err := iss.Mint(ctx, minter, alice, key.EventID, key.Class, "")
	require.NoError(t, err)
	other, err := iss.Mint(ctx, minter, carol, key.EventID, key.Class, "")
	require.NoError(t, err)

	_, err = iss.Transfer(ctx, resale, tk.TokenID, carol)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	_, err = iss.Transfer(ctx, resale, tk.TokenID, alice)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = iss.Transfer(ctx, resale, tk.TokenID, bob)
	require.NoError(t, err)

	_, err = iss.UserTicket(ctx, alice, key)
	require.ErrorIs(t, err, domain.ErrNotFound)
	held, err := iss.UserTicket(ctx, bob, key)
	require.NoError(t, err)
	assert.Equal(t, tk.TokenID, held.TokenID)
	held, err = iss.UserTicket(ctx, carol, key)
	require.NoError(t, err)
	assert.Equal(t, other.TokenID, held.TokenID)

	_, err = iss.Mint(ctx, minter, alice, key.EventID, key.Class, "")
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed, "the seller's stake already has its ticket")
}
