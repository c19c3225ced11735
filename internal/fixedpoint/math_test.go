package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func maxUint256() *uint256.Int { return new(uint256.Int).SetAllOne() }

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		x, y, d *uint256.Int
		want    *uint256.Int
	}{
		{"exact", u(6), u(7), u(2), u(21)},
		{"truncates toward zero", u(10), u(1), u(3), u(3)},
		{"wide intermediate", maxUint256(), u(2), u(4), new(uint256.Int).Rsh(maxUint256(), 1)},
		{"zero operand", u(0), u(7), u(3), u(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.x, tt.y, tt.d)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Dec(), got.Dec())
		})
	}

	t.Run("overflow", func(t *testing.T) {
		_, err := MulDiv(maxUint256(), u(2), u(1))
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("division by zero", func(t *testing.T) {
		_, err := MulDiv(u(1), u(1), u(0))
		assert.ErrorIs(t, err, ErrDivideByZero)
	})
}

func TestMulAndDiv(t *testing.T) {
	got, err := Mul(Units(3), Units(4))
	require.NoError(t, err)
	assert.Equal(t, Units(12).Dec(), got.Dec())

	got, err = Div(Units(50), Units(1))
	require.NoError(t, err)
	assert.Equal(t, Units(50).Dec(), got.Dec())

	_, err = Div(Units(1), Zero())
	assert.ErrorIs(t, err, ErrDivideByZero)
}

func TestAddSub(t *testing.T) {
	_, err := Add(maxUint256(), u(1))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Sub(u(1), u(2))
	assert.ErrorIs(t, err, ErrOverflow)

	got, err := Sub(u(5), u(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Uint64())

	assert.True(t, SaturatingSub(u(1), u(2)).IsZero())
	assert.Equal(t, uint64(1), SaturatingSub(u(3), u(2)).Uint64())
}

func TestAverage(t *testing.T) {
	tests := []struct {
		a, b, want uint64
	}{
		{2000, 2000, 2000},
		{2000, 2100, 2050},
		{1, 2, 2}, // half rounds up
		{3, 4, 4},
		{3, 5, 4},
		{0, 0, 0},
		{0, 1, 1},
	}
	for _, tt := range tests {
		got := Average(u(tt.a), u(tt.b))
		assert.Equal(t, tt.want, got.Uint64(), "average(%d, %d)", tt.a, tt.b)
	}

	t.Run("no overflow at the top of the range", func(t *testing.T) {
		got := Average(maxUint256(), maxUint256())
		assert.Equal(t, maxUint256().Dec(), got.Dec())
	})
}

func TestBps(t *testing.T) {
	assert.Equal(t, "10000000000000000", Bps(100).Dec()) // 1%
	assert.Equal(t, Unit.Dec(), Bps(10_000).Dec())
}

func TestSigned(t *testing.T) {
	d, err := SignedDiff(u(3), u(10))
	require.NoError(t, err)
	assert.True(t, IsNegative(d))
	assert.Equal(t, uint64(7), Abs(d).Uint64())
	assert.Equal(t, "-7", FormatSigned(d))

	sum, err := SignedAdd(d, u(10))
	require.NoError(t, err)
	assert.Equal(t, "3", FormatSigned(sum))

	diff, err := SignedSub(u(3), d)
	require.NoError(t, err)
	assert.Equal(t, "10", FormatSigned(diff))

	parsed, err := ParseSigned("-7")
	require.NoError(t, err)
	assert.True(t, parsed.Eq(d))

	_, err = NewSigned(maxUint256(), false)
	assert.ErrorIs(t, err, ErrOverflow)

	maxPos := new(uint256.Int).Rsh(maxUint256(), 1) // 2^255 - 1
	_, err = SignedAdd(maxPos, u(1))
	assert.ErrorIs(t, err, ErrOverflow)
}

func FuzzAverage(f *testing.F) {
	f.Add(uint64(0), uint64(0))
	f.Add(uint64(1), uint64(2))
	f.Add(uint64(1<<63), uint64(1<<63))
	f.Add(^uint64(0), uint64(1))

	f.Fuzz(func(t *testing.T, a, b uint64) {
		got := Average(u(a), u(b))
		sum := new(uint256.Int).Add(u(a), u(b))
		sum.AddUint64(sum, 1)
		want := sum.Div(sum, u(2))
		if !got.Eq(want) {
			t.Fatalf("Average(%d, %d) = %s, want %s", a, b, got.Dec(), want.Dec())
		}
	})
}

func FuzzMulDiv(f *testing.F) {
	f.Add(uint64(1), uint64(1), uint64(1))
	f.Add(uint64(10), uint64(3), uint64(7))
	f.Add(^uint64(0), ^uint64(0), uint64(1))

	f.Fuzz(func(t *testing.T, x, y, d uint64) {
		got, err := MulDiv(u(x), u(y), u(d))
		if d == 0 {
			if err == nil {
				t.Fatal("expected division by zero")
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := new(uint256.Int).Mul(u(x), u(y))
		want.Div(want, u(d))
		if !got.Eq(want) {
			t.Fatalf("MulDiv(%d, %d, %d) = %s, want %s", x, y, d, got.Dec(), want.Dec())
		}
	})
}
