package vault

import (
	"fmt"
	"math/big"

	"pegvault/native/oracle"
)

// Valuer converts between collateral-asset units and peg-currency units using
// two fresh oracle reads per conversion. Both directions are computed
// independently rather than by reciprocal so rounding error never compounds;
// each call loses at most one unit of the target precision.
type Valuer struct {
	oracle       *oracle.Adapter
	pegFeedRef   string
	pegPrecision uint8
}

// NewValuer wires the oracle adapter together with the peg-currency reference
// feed and the peg's fixed precision.
func NewValuer(adapter *oracle.Adapter, pegFeedRef string, pegPrecision uint8) *Valuer {
	return &Valuer{oracle: adapter, pegFeedRef: pegFeedRef, pegPrecision: pegPrecision}
}

// PegPrecision returns the peg-currency precision conversions normalize to.
func (v *Valuer) PegPrecision() uint8 {
	if v == nil {
		return 0
	}
	return v.pegPrecision
}

// CollateralToPeg values a collateral amount in peg-currency units. Amount
// and both prices are normalized to the peg precision before a single
// multiply-then-divide on 256-bit intermediates.
func (v *Valuer) CollateralToPeg(feedRef string, collateralPrecision uint8, amount *big.Int) (*big.Int, error) {
	if v == nil || v.oracle == nil {
		return nil, fmt.Errorf("%w: valuer not configured", oracle.ErrOracleFault)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	collateralPrice, pegPrice, err := v.normalizedPrices(feedRef, v.pegPrecision)
	if err != nil {
		return nil, err
	}
	normalized, err := Rescale(amount, collateralPrecision, v.pegPrecision)
	if err != nil {
		return nil, err
	}
	return mulDiv(normalized, collateralPrice, pegPrice)
}

// PegToCollateral converts a peg-currency amount into collateral units,
// normalizing to the collateral asset's precision instead.
func (v *Valuer) PegToCollateral(feedRef string, collateralPrecision uint8, pegAmount *big.Int) (*big.Int, error) {
	if v == nil || v.oracle == nil {
		return nil, fmt.Errorf("%w: valuer not configured", oracle.ErrOracleFault)
	}
	if pegAmount == nil || pegAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	collateralPrice, pegPrice, err := v.normalizedPrices(feedRef, collateralPrecision)
	if err != nil {
		return nil, err
	}
	normalized, err := Rescale(pegAmount, v.pegPrecision, collateralPrecision)
	if err != nil {
		return nil, err
	}
	return mulDiv(normalized, pegPrice, collateralPrice)
}

// normalizedPrices reads both feeds and rescales the prices to the target
// precision. A price that truncates to zero during normalization is as
// unusable as a negative reading and is reported as an oracle fault.
func (v *Valuer) normalizedPrices(feedRef string, targetPrecision uint8) (*big.Int, *big.Int, error) {
	collateralQuote, err := v.oracle.Latest(feedRef)
	if err != nil {
		return nil, nil, err
	}
	pegQuote, err := v.oracle.Latest(v.pegFeedRef)
	if err != nil {
		return nil, nil, err
	}

	collateralPrice, err := Rescale(collateralQuote.Price, collateralQuote.Precision, targetPrecision)
	if err != nil {
		return nil, nil, err
	}
	pegPrice, err := Rescale(pegQuote.Price, pegQuote.Precision, targetPrecision)
	if err != nil {
		return nil, nil, err
	}
	if collateralPrice.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: %s price truncated to zero at precision %d", oracle.ErrOracleFault, feedRef, targetPrecision)
	}
	if pegPrice.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: %s price truncated to zero at precision %d", oracle.ErrOracleFault, v.pegFeedRef, targetPrecision)
	}
	return collateralPrice, pegPrice, nil
}
