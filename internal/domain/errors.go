package domain

import "errors"

// Validation errors: malformed input, no state change.
var (
	ErrInvalidTimestamps = errors.New("invalid timestamps")
	ErrInvalidBps        = errors.New("basis points exceed 10000")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidPoolClass  = errors.New("invalid pool class")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
)

// State-precondition errors: safe to retry once the precondition holds.
var (
	ErrWrongState        = errors.New("wrong lifecycle state")
	ErrTooEarly          = errors.New("too early")
	ErrTooLate           = errors.New("too late")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNoPools           = errors.New("event has no configured pools")
	ErrAlreadyStaked     = errors.New("already staked")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrNotWinner         = errors.New("not a winner")
	ErrNotLoser          = errors.New("not a loser")
	ErrNotResolved       = errors.New("stake not resolved")
	ErrAlreadyResolved   = errors.New("pool already resolved")
	ErrAlreadyRequested  = errors.New("draw already requested")
	ErrNotRequested      = errors.New("draw not requested")
	ErrAlreadyRevealed   = errors.New("draw already revealed")
	ErrDrawsIncomplete   = errors.New("pool draws incomplete")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientFee   = errors.New("oracle fee not covered")
	ErrWithdrawn         = errors.New("stake withdrawn")
	ErrNonTransferable   = errors.New("ticket is not transferable")
	ErrPoolHalted        = errors.New("pool halted")
	ErrLockHeld          = errors.New("lock already held")
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotVerified  = errors.New("identity not verified")
	ErrNotOwner     = errors.New("caller does not own stake")
)

// Oracle-dependency errors: the caller retries later.
var (
	ErrNotYetRevealed     = errors.New("randomness not yet revealed")
	ErrOracleUnavailable  = errors.New("randomness oracle unavailable")
	ErrUnknownRequest     = errors.New("unknown randomness request")
	ErrInvalidRandomProof = errors.New("invalid randomness proof")
)

// ErrInvariantViolation marks a bug; the affected pool is halted.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrorCategory classifies errors for callers and the HTTP layer.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryValidation
	CategoryPrecondition
	CategoryAuthorization
	CategoryOracle
	CategoryInvariant
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryPrecondition:
		return "precondition"
	case CategoryAuthorization:
		return "authorization"
	case CategoryOracle:
		return "oracle"
	case CategoryInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

var categories = []struct {
	cat  ErrorCategory
	errs []error
}{
	{CategoryInvariant, []error{ErrInvariantViolation}},
	{CategoryAuthorization, []error{ErrUnauthorized, ErrNotVerified, ErrNotOwner}},
	{CategoryOracle, []error{ErrNotYetRevealed, ErrOracleUnavailable, ErrUnknownRequest, ErrInvalidRandomProof}},
	{CategoryValidation, []error{ErrInvalidTimestamps, ErrInvalidBps, ErrInvalidAmount, ErrInvalidQuantity, ErrInvalidPoolClass, ErrNotFound, ErrInvalidInput}},
	{CategoryPrecondition, []error{
		ErrWrongState, ErrTooEarly, ErrTooLate, ErrAlreadyExists, ErrNoPools,
		ErrAlreadyStaked, ErrAlreadyClaimed, ErrNotWinner, ErrNotLoser, ErrNotResolved,
		ErrAlreadyResolved, ErrAlreadyRequested, ErrNotRequested, ErrAlreadyRevealed,
		ErrDrawsIncomplete, ErrInsufficientFunds, ErrInsufficientFee, ErrWithdrawn,
		ErrNonTransferable, ErrPoolHalted, ErrLockHeld,
	}},
}

// Category returns the category of err, checking the wrap chain.
func Category(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.cat
			}
		}
	}
	return CategoryUnknown
}
