package funding

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPendingFunding(t *testing.T) {
	m := domain.Market{
		ShortFundingRate:  uint256.NewInt(3),
		LastFundingUpdate: t0,
	}

	got, err := PendingFunding(m, false, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(30), got)

	got, err = PendingFunding(m, true, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "long side has no rate")

	got, err = PendingFunding(domain.Market{ShortFundingRate: uint256.NewInt(3)}, false, t0)
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "never updated")
}

func TestFeesSinceLastUpdate(t *testing.T) {
	m := domain.Market{
		LongCumulativeFunding: uint256.NewInt(3e16),
		LongFundingRate:       uint256.NewInt(1e13),
		LastFundingUpdate:     t0,
	}
	pos := domain.Position{
		IsLong:       true,
		PositionSize: fixedpoint.Units(2),
		Funding: domain.FundingParams{
			LastLongCumulativeFunding: uint256.NewInt(1e16),
			FeesOwed:                  uint256.NewInt(1),
		},
	}
	now := t0.Add(1000 * time.Second)

	since, err := FeesSinceLastUpdate(m, pos, now)
	require.NoError(t, err)
	// (3e16 + 1e16 - 1e16) * 2
	assert.Equal(t, uint256.NewInt(6e16), since)

	total, err := TotalFeesOwed(m, pos, now)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(6e16+1), total)

	pos.Funding.LastLongCumulativeFunding = uint256.NewInt(4e16)
	since, err = FeesSinceLastUpdate(m, pos, now)
	require.NoError(t, err)
	assert.True(t, since.IsZero())
}

func TestFeeForSizeChange(t *testing.T) {
	pos := domain.Position{
		CollateralAmount: fixedpoint.Units(8),
		Funding:          domain.FundingParams{FeesOwed: fixedpoint.Units(2)},
	}
	got, err := FeeForSizeChange(domain.Market{}, pos, fixedpoint.Units(2), t0)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(5e17), got)
}

func TestRates(t *testing.T) {
	factor := uint256.NewInt(1e10)

	tests := []struct {
		name      string
		long      uint64
		short     uint64
		wantLong  uint64
		wantShort uint64
	}{
		{"empty", 0, 0, 0, 0},
		{"balanced", 50, 50, 0, 0},
		{"long heavy", 75, 25, 5e9, 0},
		{"short heavy", 0, 40, 0, 1e10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, s, err := Rates(factor, fixedpoint.Units(tt.long), fixedpoint.Units(tt.short))
			require.NoError(t, err)
			assert.Equal(t, uint256.NewInt(tt.wantLong), l)
			assert.Equal(t, uint256.NewInt(tt.wantShort), s)
		})
	}
}
