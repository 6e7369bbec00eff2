package oracle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/crypto"
	"github.com/fairstake/tickets/internal/domain"
)

func TestWhitelist(t *testing.T) {
	ctx := context.Background()
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")
	w := NewWhitelist(alice)

	ok, err := w.IsVerified(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = w.IsVerified(ctx, bob)
	assert.False(t, ok)

	require.NoError(t, w.Add(ctx, bob))
	require.NoError(t, w.Remove(ctx, alice))
	members, err := w.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Address{bob}, members)
}

func TestDeterministicManualReveal(t *testing.T) {
	ctx := context.Background()
	seed := common.HexToHash("0x5eed")
	o := NewDeterministic(seed, 0, true)

	id, err := o.RequestRandom(ctx, common.HexToHash("0xc0"))
	require.NoError(t, err)
	ready, _, err := o.GetRandom(ctx, id)
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, o.Reveal(id))
	ready, v1, err := o.GetRandom(ctx, id)
	require.NoError(t, err)
	assert.True(t, ready)

	again := NewDeterministic(seed, 0, false)
	id2, err := again.RequestRandom(ctx, common.HexToHash("0xc0"))
	require.NoError(t, err)
	_, v2, err := again.GetRandom(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, v1, v2, "same seed, commitment and id give the same value")

	_, _, err = o.GetRandom(ctx, 99)
	require.ErrorIs(t, err, domain.ErrUnknownRequest)
}

func TestVRFRevealsAfterDelayWithVerifiableProof(t *testing.T) {
	ctx := context.Background()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	clock := domain.NewManualClock(time.Unix(1_700_000_000, 0).UTC())
	v := NewVRF(crypto.NewProver(key), 10, time.Minute, clock, slog.New(slog.NewTextHandler(io.Discard, nil)))

	commitment := common.HexToHash("0xfeed")
	id, err := v.RequestRandom(ctx, commitment)
	require.NoError(t, err)

	ready, _, err := v.GetRandom(ctx, id)
	require.NoError(t, err)
	assert.False(t, ready)
	_, _, err = v.Proof(id)
	require.ErrorIs(t, err, domain.ErrNotYetRevealed)

	clock.Advance(time.Minute)
	ready, value, err := v.GetRandom(ctx, id)
	require.NoError(t, err)
	require.True(t, ready)

	proof, gotCommitment, err := v.Proof(id)
	require.NoError(t, err)
	assert.Equal(t, commitment, gotCommitment)
	assert.Equal(t, value, proof.Value)
	require.NoError(t, crypto.Verify(v.Address(), commitment, uint64(id), proof))
}
