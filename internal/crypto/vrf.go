package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadProof is returned when a proof does not verify.
var ErrBadProof = errors.New("crypto: vrf proof does not verify")

// Proof is the reveal of one request: the oracle's signature over the
// request digest and the random value derived from it.
type Proof struct {
	Signature []byte      `json:"signature"`
	Value     common.Hash `json:"value"`
}

// Prover signs request digests with the oracle key. secp256k1 signing in
// go-ethereum uses RFC 6979 nonces, so the signature and therefore the
// value are a deterministic function of key and request.
type Prover struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewProver wraps an oracle key.
func NewProver(key *ecdsa.PrivateKey) *Prover {
	return &Prover{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address identifies the oracle key.
func (p *Prover) Address() common.Address { return p.address }

// Digest is keccak256(commitment || requestID as 8 bytes big endian).
func Digest(commitment common.Hash, requestID uint64) common.Hash {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], requestID)
	return ethcrypto.Keccak256Hash(commitment[:], id[:])
}

// Prove signs the request digest and derives value = keccak256(signature).
func (p *Prover) Prove(commitment common.Hash, requestID uint64) (Proof, error) {
	digest := Digest(commitment, requestID)
	sig, err := ethcrypto.Sign(digest[:], p.key)
	if err != nil {
		return Proof{}, fmt.Errorf("crypto: signing request %d: %w", requestID, err)
	}
	return Proof{Signature: sig, Value: ethcrypto.Keccak256Hash(sig)}, nil
}

// Verify checks that proof was produced by oracle for the request.
func Verify(oracle common.Address, commitment common.Hash, requestID uint64, proof Proof) error {
	if len(proof.Signature) != ethcrypto.SignatureLength {
		return fmt.Errorf("%w: signature length %d", ErrBadProof, len(proof.Signature))
	}
	digest := Digest(commitment, requestID)
	pub, err := ethcrypto.SigToPub(digest[:], proof.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadProof, err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != oracle {
		return fmt.Errorf("%w: signer is not the oracle", ErrBadProof)
	}
	if !bytes.Equal(ethcrypto.Keccak256(proof.Signature), proof.Value[:]) {
		return fmt.Errorf("%w: value does not match signature", ErrBadProof)
	}
	return nil
}
