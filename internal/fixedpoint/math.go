// Package fixedpoint implements deterministic 18-decimal fixed-point arithmetic
// on 256-bit integers. Unsigned quantities are plain uint256 values; signed
// quantities (skew, price impact, realised PnL) are int256 values in two's
// complement, the same convention uint256's Sign/Neg/Abs/Slt operate on.
//
// Division truncates toward zero. Every operation that can exceed the
// representable range returns ErrOverflow instead of wrapping.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits carried by every value.
const Decimals = 18

var (
	ErrOverflow     = errors.New("fixed-point overflow")
	ErrDivideByZero = errors.New("fixed-point division by zero")
)

var (
	// Unit is 1.0 at 18 decimals.
	Unit = uint256.NewInt(1_000_000_000_000_000_000)

	bpsDenominator = uint256.NewInt(10_000)
	two            = uint256.NewInt(2)
)

// One returns a fresh copy of Unit so callers can mutate the result.
func One() *uint256.Int { return Unit.Clone() }

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Units converts an integer amount n to its fixed-point representation n * 1e18.
func Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Unit)
}

// OrZero returns x, or a fresh zero when x is nil. Stored values may be nil
// when a record was created without them.
func OrZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

// MulDiv returns floor(x * y / d) computed with a 512-bit intermediate.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Mul multiplies two fixed-point values: x * y / 1e18.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, y, Unit)
}

// Div divides two fixed-point values: x * 1e18 / y.
func Div(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, Unit, y)
}

// MulInt multiplies a fixed-point value by a plain integer (e.g. seconds).
func MulInt(x, n *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, n)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Add returns x + y.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns x - y and fails when y > x.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// SaturatingSub returns x - y, or zero when y > x.
func SaturatingSub(x, y *uint256.Int) *uint256.Int {
	if y.Gt(x) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

// Average returns the arithmetic mean of a and b rounded half up. It never
// overflows because the halves are summed separately.
func Average(a, b *uint256.Int) *uint256.Int {
	ha := new(uint256.Int).Div(a, two)
	hb := new(uint256.Int).Div(b, two)
	ra := new(uint256.Int).Mod(a, two)
	rb := new(uint256.Int).Mod(b, two)

	// (ra + rb + 1) / 2 is 1 whenever at least one operand is odd.
	carry := new(uint256.Int).Add(ra, rb)
	carry.AddUint64(carry, 1)
	carry.Div(carry, two)

	z := new(uint256.Int).Add(ha, hb)
	return z.Add(z, carry)
}

// Bps converts a basis-point tolerance into a fixed-point fraction.
func Bps(bps uint64) *uint256.Int {
	z := new(uint256.Int).Mul(uint256.NewInt(bps), Unit)
	return z.Div(z, bpsDenominator)
}

// Min returns the smaller of x and y.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return x
	}
	return y
}
