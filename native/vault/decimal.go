package vault

import (
	"math/big"

	"github.com/holiman/uint256"
)

// maxRescalePrecision bounds the precision gap Rescale will bridge. 10^76 is
// the largest power of ten representable in 256 bits.
const maxRescalePrecision = 76

// Rescale converts an unsigned integer quantity between two fixed-point
// precisions. Downscaling integer-divides and truncates toward zero,
// upscaling multiplies, equal precisions are the identity. Both directions
// are supported unconditionally; a source precision above the target must
// never underflow.
func Rescale(value *big.Int, from, to uint8) (*big.Int, error) {
	if value == nil || value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if from == to {
		return new(big.Int).Set(value), nil
	}

	v, overflow := uint256.FromBig(value)
	if overflow {
		return nil, ErrValueOverflow
	}

	if from > to {
		scale, err := pow10(from - to)
		if err != nil {
			return nil, err
		}
		return new(uint256.Int).Div(v, scale).ToBig(), nil
	}

	scale, err := pow10(to - from)
	if err != nil {
		return nil, err
	}
	scaled, overflow := new(uint256.Int).MulOverflow(v, scale)
	if overflow {
		return nil, ErrValueOverflow
	}
	return scaled.ToBig(), nil
}

// mulDiv computes a*b/d on 256-bit intermediates, multiplying before dividing
// so precision is only lost once, at the final truncation.
func mulDiv(a, b, d *big.Int) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, ErrValueOverflow
	}
	x, overflow := uint256.FromBig(a)
	if overflow {
		return nil, ErrValueOverflow
	}
	y, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrValueOverflow
	}
	den, overflow := uint256.FromBig(d)
	if overflow {
		return nil, ErrValueOverflow
	}
	prod, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrValueOverflow
	}
	return new(uint256.Int).Div(prod, den).ToBig(), nil
}

func pow10(exp uint8) (*uint256.Int, error) {
	if exp > maxRescalePrecision {
		return nil, ErrValueOverflow
	}
	result := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < exp; i++ {
		result = new(uint256.Int).Mul(result, ten)
	}
	return result, nil
}
