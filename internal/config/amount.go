package config

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// amountDecimals is the fixed-point scale of every on-chain amount.
const amountDecimals = 18

// Amount is a non-negative decimal such as "0.001" or "50", held as an
// 18-decimal fixed-point integer.
type Amount struct {
	v *uint256.Int
}

// ParseAmount converts a decimal string to an Amount. It rejects negative
// values, more than 18 fractional digits and values beyond 256 bits.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("amount %q: must not be negative", s)
	}
	scaled := d.Shift(amountDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Amount{}, fmt.Errorf("amount %q: more than %d decimals", s, amountDecimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return Amount{}, fmt.Errorf("amount %q: exceeds 256 bits", s)
	}
	return Amount{v: v}, nil
}

// MustAmount is ParseAmount for constants; it panics on malformed input.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Value returns a copy of the fixed-point value; the zero Amount is 0.
func (a Amount) Value() *uint256.Int {
	if a.v == nil {
		return new(uint256.Int)
	}
	return a.v.Clone()
}

// String renders the amount as a decimal.
func (a Amount) String() string {
	return decimal.NewFromBigInt(a.Value().ToBig(), -amountDecimals).String()
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
