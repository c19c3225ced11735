package impact

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

func signed(t *testing.T, abs *uint256.Int, negative bool) *uint256.Int {
	t.Helper()
	v, err := fixedpoint.NewSigned(abs, negative)
	require.NoError(t, err)
	return v
}

func TestCalculate(t *testing.T) {
	tenth := uint256.NewInt(1e17)

	tests := []struct {
		name  string
		p     Params
		want  *uint256.Int
		isNeg bool
	}{
		{
			name: "long worsens long skew",
			p: Params{
				LongOpenInterestUsd: fixedpoint.Units(1000),
				SizeDeltaUsd:        fixedpoint.Units(10),
				IsLong:              true,
				Exponent:            fixedpoint.One(),
				Factor:              tenth,
				ReferencePrice:      fixedpoint.Units(10),
			},
			want:  fixedpoint.One(),
			isNeg: true,
		},
		{
			name: "short rebalances long skew",
			p: Params{
				LongOpenInterestUsd: fixedpoint.Units(1000),
				SizeDeltaUsd:        fixedpoint.Units(10),
				Exponent:            fixedpoint.One(),
				Factor:              tenth,
				ReferencePrice:      fixedpoint.Units(10),
			},
			want: fixedpoint.One(),
		},
		{
			name: "quadratic",
			p: Params{
				LongOpenInterestUsd: fixedpoint.Units(10),
				SizeDeltaUsd:        fixedpoint.Units(2),
				IsLong:              true,
				Exponent:            fixedpoint.Units(2),
				Factor:              uint256.NewInt(1e16),
				ReferencePrice:      fixedpoint.Units(1000),
			},
			want:  uint256.NewInt(44e16),
			isNeg: true,
		},
		{
			name: "clamped to a third of price",
			p: Params{
				LongOpenInterestUsd: fixedpoint.Units(1000),
				SizeDeltaUsd:        fixedpoint.Units(10),
				IsLong:              true,
				Exponent:            fixedpoint.One(),
				Factor:              fixedpoint.Units(100),
				ReferencePrice:      fixedpoint.Units(10),
			},
			want:  uint256.NewInt(33e17),
			isNeg: true,
		},
		{
			name: "no skew no size",
			p: Params{
				Exponent:       fixedpoint.One(),
				Factor:         fixedpoint.One(),
				ReferencePrice: fixedpoint.Units(10),
			},
			want: new(uint256.Int),
		},
		{
			name: "unchanged skew",
			p: Params{
				LongOpenInterestUsd:  fixedpoint.Units(70),
				ShortOpenInterestUsd: fixedpoint.Units(20),
				Exponent:             uint256.NewInt(15e17),
				Factor:               fixedpoint.One(),
				ReferencePrice:       fixedpoint.Units(10),
			},
			want: new(uint256.Int),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.p)
			require.NoError(t, err)
			assert.Equal(t, signed(t, tt.want, tt.isNeg), got)
		})
	}
}

func TestCalculateNeverExceedsLimit(t *testing.T) {
	price := fixedpoint.Units(2000)
	limit, err := MaxImpact(price)
	require.NoError(t, err)

	for _, size := range []uint64{1, 100, 10_000, 1_000_000} {
		for _, isLong := range []bool{true, false} {
			got, err := Calculate(Params{
				LongOpenInterestUsd:  fixedpoint.Units(500_000),
				ShortOpenInterestUsd: fixedpoint.Units(100_000),
				SizeDeltaUsd:         fixedpoint.Units(size),
				IsLong:               isLong,
				Exponent:             uint256.NewInt(15e17),
				Factor:               fixedpoint.One(),
				ReferencePrice:       price,
			})
			require.NoError(t, err)
			assert.False(t, fixedpoint.Abs(got).Gt(limit), "size %d long %v", size, isLong)
		}
	}
}

func TestCalculateRejects(t *testing.T) {
	base := Params{
		LongOpenInterestUsd: fixedpoint.Units(1),
		Exponent:            fixedpoint.One(),
		Factor:              fixedpoint.One(),
		ReferencePrice:      fixedpoint.One(),
	}

	t.Run("zero exponent", func(t *testing.T) {
		p := base
		p.Exponent = new(uint256.Int)
		_, err := Calculate(p)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("zero price", func(t *testing.T) {
		p := base
		p.ReferencePrice = new(uint256.Int)
		_, err := Calculate(p)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("overflowing skew", func(t *testing.T) {
		p := base
		p.LongOpenInterestUsd = new(uint256.Int).Lsh(uint256.NewInt(1), 200)
		p.Exponent = fixedpoint.Units(2)
		_, err := Calculate(p)
		assert.ErrorIs(t, err, domain.ErrOverflow)
	})
}

type stubState struct {
	market   domain.Market
	long     *uint256.Int
	short    *uint256.Int
	oiErr    error
	indexArg common.Address
}

func (s *stubState) Market(context.Context, common.Hash) (domain.Market, error) {
	return s.market, nil
}

func (s *stubState) OpenInterestUsd(_ context.Context, indexToken common.Address, isLong bool) (*uint256.Int, error) {
	s.indexArg = indexToken
	if s.oiErr != nil {
		return nil, s.oiErr
	}
	if isLong {
		return s.long, nil
	}
	return s.short, nil
}

func TestEngineCalculateImpact(t *testing.T) {
	marketKey := common.HexToHash("0xaa")
	index := common.HexToAddress("0x1111")
	state := &stubState{
		market: domain.Market{
			PriceImpactExponent: fixedpoint.One(),
			PriceImpactFactor:   uint256.NewInt(1e17),
		},
		long:  fixedpoint.Units(1000),
		short: new(uint256.Int),
	}
	e := NewEngine(state, state)
	req := domain.PositionRequest{
		User:       common.HexToAddress("0xbeef"),
		IndexToken: index,
		IsLong:     true,
		SizeDelta:  fixedpoint.One(),
	}

	got, err := e.CalculateImpact(context.Background(), marketKey, req, fixedpoint.Units(10))
	require.NoError(t, err)
	assert.Equal(t, signed(t, fixedpoint.One(), true), got)
	assert.Equal(t, index, state.indexArg)

	t.Run("invalid inputs", func(t *testing.T) {
		_, err := e.CalculateImpact(context.Background(), common.Hash{}, req, fixedpoint.One())
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		anon := req
		anon.User = common.Address{}
		_, err = e.CalculateImpact(context.Background(), marketKey, anon, fixedpoint.One())
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = e.CalculateImpact(context.Background(), marketKey, req, new(uint256.Int))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("registry failure propagates", func(t *testing.T) {
		boom := errors.New("registry down")
		failing := &stubState{market: state.market, oiErr: boom}
		_, err := NewEngine(failing, failing).CalculateImpact(context.Background(), marketKey, req, fixedpoint.One())
		assert.ErrorIs(t, err, boom)
	})
}

func TestApplyImpact(t *testing.T) {
	p := fixedpoint.Units(2000)
	x := fixedpoint.Units(5)

	up, err := ApplyImpact(p, x)
	require.NoError(t, err)
	assert.Equal(t, x, new(uint256.Int).Sub(up, p))

	down, err := ApplyImpact(p, signed(t, x, true))
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Sub(p, x), down)

	_, err = ApplyImpact(new(uint256.Int), x)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ApplyImpact(p, signed(t, fixedpoint.Units(3000), true))
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestCheckSlippage(t *testing.T) {
	ref := fixedpoint.Units(100)

	tests := []struct {
		name    string
		exec    *uint256.Int
		maxBps  uint64
		wantErr bool
	}{
		{"better fill", fixedpoint.Units(101), 0, false},
		{"exact fill", fixedpoint.Units(100), 0, false},
		{"at tolerance", fixedpoint.Units(99), 100, false},
		{"beyond tolerance", fixedpoint.Units(99), 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSlippage(tt.exec, ref, tt.maxBps)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
				return
			}
			assert.NoError(t, err)
		})
	}
}
