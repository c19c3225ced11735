package fixedpoint

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// log2Unit is log2(1e18); a value with bit length b is at least
// 2^(b-1-log2Unit) once the 18 decimals are taken out.
const log2Unit = 59.794705707972522

// powPrecision is the number of fractional digits kept by the decimal
// fallback before the result is truncated back to 18 decimals.
const powPrecision = Decimals + 4

// Pow raises the fixed-point value x to the fixed-point exponent e, both at 18
// decimals: Pow(2e18, 2e18) == 4e18. Whole exponents use exact
// square-and-multiply; fractional exponents go through arbitrary precision
// decimals and are truncated to 18 decimals.
func Pow(x, e *uint256.Int) (*uint256.Int, error) {
	if e.IsZero() {
		return One(), nil
	}
	if x.IsZero() {
		return Zero(), nil
	}

	whole, frac := new(uint256.Int).DivMod(e, Unit, new(uint256.Int))
	if frac.IsZero() {
		return powWhole(x, whole)
	}
	return powFrac(x, e)
}

func powWhole(x, n *uint256.Int) (*uint256.Int, error) {
	if !n.IsUint64() {
		switch x.Cmp(Unit) {
		case 0:
			return One(), nil
		case -1:
			return Zero(), nil
		default:
			return nil, ErrOverflow
		}
	}

	k := n.Uint64()
	result := One()
	base := x.Clone()
	for k > 0 {
		var err error
		if k&1 == 1 {
			if result, err = Mul(result, base); err != nil {
				return nil, err
			}
		}
		k >>= 1
		if k > 0 {
			if base, err = Mul(base, base); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func powFrac(x, e *uint256.Int) (*uint256.Int, error) {
	base := decimal.NewFromBigInt(x.ToBig(), -Decimals)
	exp := decimal.NewFromBigInt(e.ToBig(), -Decimals)

	// Reject inputs whose result is certain to exceed 256 bits before doing
	// the expensive logarithm.
	if floorLog2 := float64(x.BitLen()-1) - log2Unit; floorLog2 > 0 {
		if floorLog2*exp.InexactFloat64()+log2Unit > 256 {
			return nil, ErrOverflow
		}
	}

	r, err := base.PowWithPrecision(exp, powPrecision)
	if err != nil {
		return nil, fmt.Errorf("fixedpoint: pow: %w", err)
	}
	z, overflow := uint256.FromBig(r.Shift(Decimals).BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}
