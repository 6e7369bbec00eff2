package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBps(t *testing.T) {
	fee, err := ApplyBps(Tokens(500), 250)
	require.NoError(t, err)
	assert.Equal(t, Amount(12_500000), fee)
	assert.Equal(t, "12.500000", fee.String())
}

func TestMulDivLargeOperands(t *testing.T) {
	got, err := MulDiv(math.MaxUint64, 10_000, 10_000)
	require.NoError(t, err)
	assert.Equal(t, Amount(math.MaxUint64), got)

	_, err = MulDiv(math.MaxUint64, 2, 1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want Amount
		fail bool
	}{
		{"512.5", 512_500000, false},
		{"500", Tokens(500), false},
		{"0.000001", 1, false},
		{"1.0000001", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCategory(t *testing.T) {
	wrapped := fmt.Errorf("staking: enter pool: %w", ErrAlreadyStaked)
	assert.Equal(t, CategoryPrecondition, Category(wrapped))
	assert.Equal(t, CategoryAuthorization, Category(ErrNotVerified))
	assert.Equal(t, CategoryOracle, Category(ErrNotYetRevealed))
	assert.Equal(t, CategoryInvariant, Category(fmt.Errorf("x: %w", ErrInvariantViolation)))
	assert.Equal(t, CategoryValidation, Category(ErrInvalidTimestamps))
	assert.Equal(t, CategoryUnknown, Category(errors.New("boom")))
}

func TestParsePoolClass(t *testing.T) {
	c, err := ParsePoolClass("b")
	require.NoError(t, err)
	assert.Equal(t, PoolB, c)
	_, err = ParsePoolClass("Z")
	require.ErrorIs(t, err, ErrInvalidPoolClass)
}
