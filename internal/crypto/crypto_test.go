package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptedKeyRoundTrip(t *testing.T) {
	kdfIterations = 1000
	t.Cleanup(func() { kdfIterations = 480_000 })

	key, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	blob, err := EncryptKey(key, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "oracle.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	loaded, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Zero(t, key.D.Cmp(loaded.D))

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	require.Error(t, err)
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	k, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	want, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(want.PublicKey), ethcrypto.PubkeyToAddress(k.PublicKey))

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}

func TestProveIsDeterministicAndVerifiable(t *testing.T) {
	key, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	p := NewProver(key)
	commitment := common.HexToHash("0x01")

	a, err := p.Prove(commitment, 7)
	require.NoError(t, err)
	b, err := p.Prove(commitment, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := p.Prove(commitment, 8)
	require.NoError(t, err)
	assert.NotEqual(t, a.Value, other.Value)

	require.NoError(t, Verify(p.Address(), commitment, 7, a))
	require.ErrorIs(t, Verify(p.Address(), commitment, 8, a), ErrBadProof)
	require.ErrorIs(t, Verify(common.HexToAddress("0x1"), commitment, 7, a), ErrBadProof)

	forged := a
	forged.Value = common.HexToHash("0x02")
	require.ErrorIs(t, Verify(p.Address(), commitment, 7, forged), ErrBadProof)
}
