package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// TokenDecimals is the number of decimals of the settlement token.
const TokenDecimals = 6

// Unit is one whole token in base units.
const Unit Amount = 1_000_000

// BpsDenominator is the basis-point denominator.
const BpsDenominator = 10_000

// Amount is an integer quantity of the settlement token in base units.
type Amount uint64

// Tokens converts a whole-token count to base units.
func Tokens(n uint64) Amount { return Amount(n) * Unit }

// MulDiv returns a*b/d rounded down, computed in 256 bits so the product can
// never overflow. It fails if d is zero or the quotient exceeds 64 bits.
func MulDiv(a, b, d uint64) (Amount, error) {
	if d == 0 {
		return 0, fmt.Errorf("domain: muldiv by zero")
	}
	x := uint256.NewInt(a)
	x.Mul(x, uint256.NewInt(b))
	x.Div(x, uint256.NewInt(d))
	if !x.IsUint64() {
		return 0, fmt.Errorf("%w: amount overflow", ErrInvalidAmount)
	}
	return Amount(x.Uint64()), nil
}

// ApplyBps returns amount*bps/10000 rounded down.
func ApplyBps(amount Amount, bps uint16) (Amount, error) {
	return MulDiv(uint64(amount), uint64(bps), BpsDenominator)
}

// Add returns a+b or an error on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	s := a + b
	if s < a {
		return 0, fmt.Errorf("%w: amount overflow", ErrInvalidAmount)
	}
	return s, nil
}

// String formats the amount with TokenDecimals places, e.g. "512.500000".
func (a Amount) String() string {
	whole := uint64(a) / uint64(Unit)
	frac := uint64(a) % uint64(Unit)
	return fmt.Sprintf("%d.%06d", whole, frac)
}

// ParseAmount parses a decimal token string ("512.5") into base units.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > TokenDecimals {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, TokenDecimals)
	}
	frac += strings.Repeat("0", TokenDecimals-len(frac))
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	f, err := strconv.ParseUint(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	total, err := MulDiv(w, uint64(Unit), 1)
	if err != nil {
		return 0, err
	}
	return total.Add(Amount(f))
}
