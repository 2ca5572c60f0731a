package vault

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrNilState is returned when an engine runs before its persistence
	// layer is wired.
	ErrNilState = errors.New("vault engine: state not configured")
	// ErrInvalidAmount rejects zero or negative quantities.
	ErrInvalidAmount = errors.New("vault engine: amount must be positive")
	// ErrInvalidAddress rejects zero or missing identities.
	ErrInvalidAddress = errors.New("vault engine: address must be set")
	// ErrInvalidPercentage rejects percent parameters outside [1,100].
	ErrInvalidPercentage = errors.New("vault engine: percentage must be within [1,100]")
	// ErrSolvencyViolation rejects operations that would push the account's
	// health factor below 1.0.
	ErrSolvencyViolation = errors.New("vault engine: health factor below 1")
	// ErrInsufficientCollateral rejects withdrawals and seizures beyond the
	// recorded collateral balance.
	ErrInsufficientCollateral = errors.New("vault engine: insufficient collateral balance")
	// ErrRepayExceedsDebt guards the unsigned debt balance against underflow.
	ErrRepayExceedsDebt = errors.New("vault engine: repay amount exceeds outstanding debt")
	// ErrNotLiquidatable rejects liquidation of healthy accounts.
	ErrNotLiquidatable = errors.New("vault engine: account not eligible for liquidation")
	// ErrCloseFactorExceeded rejects liquidation repayments above the
	// permitted fraction of the account's debt.
	ErrCloseFactorExceeded = errors.New("vault engine: repay amount exceeds close factor ceiling")
	// ErrHealthNotImproved rejects liquidations that would leave the target
	// with a lower health factor than before.
	ErrHealthNotImproved = errors.New("vault engine: liquidation would not improve target health")
	// ErrUnauthorized rejects governance operations from any caller other
	// than the vault owner.
	ErrUnauthorized = errors.New("vault engine: caller lacks required authority")
	// ErrValueOverflow is returned when an intermediate valuation no longer
	// fits 256 bits. Amounts that large are outside the supported range.
	ErrValueOverflow = errors.New("vault engine: value exceeds 256-bit range")
)

// NotLiquidatableError carries the measured health factor so callers can see
// how far the target is from the liquidation boundary.
type NotLiquidatableError struct {
	HealthFactor *big.Int
}

func (e *NotLiquidatableError) Error() string {
	return fmt.Sprintf("%v (health factor %s)", ErrNotLiquidatable, e.HealthFactor)
}

func (e *NotLiquidatableError) Unwrap() error { return ErrNotLiquidatable }

// CloseFactorError carries the computed repayment ceiling for the attempted
// liquidation.
type CloseFactorError struct {
	Ceiling *big.Int
}

func (e *CloseFactorError) Error() string {
	return fmt.Sprintf("%v (ceiling %s)", ErrCloseFactorExceeded, e.Ceiling)
}

func (e *CloseFactorError) Unwrap() error { return ErrCloseFactorExceeded }

// SolvencyError carries the prospective health factor that triggered the
// rejection.
type SolvencyError struct {
	HealthFactor *big.Int
}

func (e *SolvencyError) Error() string {
	return fmt.Sprintf("%v (projected health factor %s)", ErrSolvencyViolation, e.HealthFactor)
}

func (e *SolvencyError) Unwrap() error { return ErrSolvencyViolation }
