package lottery

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/fairstake/tickets/internal/domain"
)

var commitmentTag = []byte("fairstake.draw")

// Commitment binds a randomness request to the pool and its frozen
// candidate count. attempt distinguishes admin re-requests.
func Commitment(key domain.PoolKey, candidateCount, attempt uint32) domain.Hash {
	var buf [17]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(key.EventID))
	buf[8] = byte(key.Class)
	binary.BigEndian.PutUint32(buf[9:13], candidateCount)
	binary.BigEndian.PutUint32(buf[13:17], attempt)
	return ethcrypto.Keccak256Hash(commitmentTag, buf[:])
}

// indexStream derives unbiased indices from a seed by hashing
// (seed, counter) and rejecting values below 2^256 mod m.
type indexStream struct {
	seed    domain.Hash
	counter uint64
	buf     [40]byte
}

func newIndexStream(seed domain.Hash) *indexStream {
	s := &indexStream{seed: seed}
	copy(s.buf[:32], seed[:])
	return s
}

func (s *indexStream) next(m uint64) uint64 {
	bound := uint256.NewInt(m)
	threshold := new(uint256.Int).Neg(bound)
	threshold.Mod(threshold, bound)

	var x uint256.Int
	for {
		binary.BigEndian.PutUint64(s.buf[32:], s.counter)
		s.counter++
		x.SetBytes(ethcrypto.Keccak256(s.buf[:]))
		if !x.Lt(threshold) {
			return x.Mod(&x, bound).Uint64()
		}
	}
}

// SelectIndices returns k distinct indices of [0, n) by a partial
// Fisher-Yates shuffle driven by seed. k is clamped to n.
func SelectIndices(seed domain.Hash, n, k int) []int {
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	stream := newIndexStream(seed)
	for i := 0; i < k; i++ {
		j := i + int(stream.next(uint64(n-i)))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:k]
}

// SelectWinners picks min(quantity, len(candidates)) stake IDs. When every
// candidate wins no randomness is consumed and the candidates come back in
// their given order.
func SelectWinners(seed domain.Hash, candidates []domain.StakeID, quantity uint32) []domain.StakeID {
	if uint64(len(candidates)) <= uint64(quantity) {
		return append([]domain.StakeID(nil), candidates...)
	}
	idx := SelectIndices(seed, len(candidates), int(quantity))
	out := make([]domain.StakeID, len(idx))
	for i, j := range idx {
		out[i] = candidates[j]
	}
	return out
}
