package vault

import (
	"math/big"
	"strings"

	"pegvault/crypto"
)

// Position maintains the collateral and debt balances for a single account.
// Records are created lazily on first use and persist once written, even when
// both balances return to zero.
type Position struct {
	// Address is the account the position belongs to.
	Address crypto.Address
	// Collateral is the locked collateral-asset quantity in the asset's
	// native precision.
	Collateral *big.Int
	// Debt is the outstanding peg-currency debt in peg precision.
	Debt *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address}
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	return clone
}

// Params groups the governance-settable risk parameters of a vault. Percent
// values are whole percentages within [1,100].
type Params struct {
	// LiquidationThreshold discounts collateral value when computing the
	// health factor.
	LiquidationThreshold uint64
	// LiquidationSpread is the bonus applied to the collateral a liquidator
	// receives relative to the peg value repaid.
	LiquidationSpread uint64
	// CloseFactor caps the fraction of an account's debt a single
	// liquidation may repay.
	CloseFactor uint64
	// PriceFeedRef identifies the collateral price feed consumed by the
	// valuation engine.
	PriceFeedRef string
	// PriceFeedPrecision is the decimal precision the feed is expected to
	// report.
	PriceFeedPrecision uint8
}

// Clone returns a copy of the parameter record.
func (p Params) Clone() Params { return p }

// Validate checks the percent ranges and the feed reference.
func (p Params) Validate() error {
	for _, pct := range []uint64{p.LiquidationThreshold, p.LiquidationSpread, p.CloseFactor} {
		if pct == 0 || pct > 100 {
			return ErrInvalidPercentage
		}
	}
	if strings.TrimSpace(p.PriceFeedRef) == "" {
		return ErrInvalidAddress
	}
	return nil
}

// Config captures the immutable identity of a vault plus its initial risk
// parameters. Risk parameters remain mutable through governance after
// deployment; the identity fields never change.
type Config struct {
	// CollateralAssetID names the single collateral asset this vault
	// accounts for.
	CollateralAssetID string
	// CollateralPrecision is the decimal precision of collateral amounts.
	CollateralPrecision uint8
	// Initial risk parameters, validated at deployment.
	Params Params
}

// Validate rejects configs that cannot produce a working vault.
func (c Config) Validate() error {
	if strings.TrimSpace(c.CollateralAssetID) == "" {
		return ErrInvalidAddress
	}
	return c.Params.Validate()
}
