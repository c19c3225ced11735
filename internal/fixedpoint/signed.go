package fixedpoint

import "github.com/holiman/uint256"

// NewSigned builds an int256 from a magnitude and a sign. Magnitudes of 2^255
// or more cannot be represented.
func NewSigned(abs *uint256.Int, negative bool) (*uint256.Int, error) {
	if abs.BitLen() > 255 {
		return nil, ErrOverflow
	}
	z := abs.Clone()
	if negative {
		z.Neg(z)
	}
	return z, nil
}

// SignedDiff returns the int256 value a - b for two unsigned operands.
func SignedDiff(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return NewSigned(new(uint256.Int).Sub(b, a), true)
	}
	return NewSigned(new(uint256.Int).Sub(a, b), false)
}

// SignedAdd adds two int256 values and fails when the result leaves the
// int256 range.
func SignedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	z := new(uint256.Int).Add(a, b)
	sa, sb := a.Sign(), b.Sign()
	if sa != 0 && sa == sb && z.Sign() != sa {
		return nil, ErrOverflow
	}
	return z, nil
}

// SignedSub subtracts two int256 values and fails when the result leaves the
// int256 range.
func SignedSub(a, b *uint256.Int) (*uint256.Int, error) {
	if b.Sign() < 0 && new(uint256.Int).Neg(b).Sign() < 0 {
		// b is the minimum int256; its negation is not representable.
		return nil, ErrOverflow
	}
	return SignedAdd(a, new(uint256.Int).Neg(b))
}

// IsNegative reports whether the int256 value x is below zero.
func IsNegative(x *uint256.Int) bool {
	return x.Sign() < 0
}

// Abs returns the magnitude of the int256 value x.
func Abs(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Abs(x)
}

// FormatSigned renders an int256 value in base 10.
func FormatSigned(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	if IsNegative(x) {
		return "-" + Abs(x).Dec()
	}
	return x.Dec()
}

// ParseSigned parses the output of FormatSigned.
func ParseSigned(s string) (*uint256.Int, error) {
	negative := len(s) > 0 && s[0] == '-'
	if negative {
		s = s[1:]
	}
	abs, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	return NewSigned(abs, negative)
}
