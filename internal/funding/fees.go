// Package funding computes funding owed by positions on the dominant side of
// a skewed market. It uses the same lazy accrual as borrowing: a cumulative
// funding-per-size counter per side, extrapolated by the side's current rate
// since the market's last funding update.
package funding

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

// PendingFunding returns fundingRate(side) * (now - lastFundingUpdate).
func PendingFunding(m domain.Market, isLong bool, now time.Time) (*uint256.Int, error) {
	rate := m.FundingRate(isLong)
	if rate.IsZero() || m.LastFundingUpdate.IsZero() || !now.After(m.LastFundingUpdate) {
		return new(uint256.Int), nil
	}
	elapsed := uint256.NewInt(uint64(now.Unix() - m.LastFundingUpdate.Unix()))
	return fixedpoint.MulInt(rate, elapsed)
}

// CumulativeAt is the side's funding accumulator extrapolated to now.
func CumulativeAt(m domain.Market, isLong bool, now time.Time) (*uint256.Int, error) {
	pending, err := PendingFunding(m, isLong, now)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(m.CumulativeFunding(isLong), pending)
}

// FeesSinceLastUpdate returns funding in tokens accrued since pos was last
// touched.
func FeesSinceLastUpdate(m domain.Market, pos domain.Position, now time.Time) (*uint256.Int, error) {
	current, err := CumulativeAt(m, pos.IsLong, now)
	if err != nil {
		return nil, err
	}
	factor := fixedpoint.SaturatingSub(current, pos.Funding.LastCumulative(pos.IsLong))
	if factor.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.Mul(fixedpoint.OrZero(pos.PositionSize), factor)
}

// TotalFeesOwed returns accrued plus previously realised funding.
func TotalFeesOwed(m domain.Market, pos domain.Position, now time.Time) (*uint256.Int, error) {
	since, err := FeesSinceLastUpdate(m, pos, now)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(since, fixedpoint.OrZero(pos.Funding.FeesOwed))
}

// FeeForSizeChange prorates TotalFeesOwed by collateralDelta / collateral.
func FeeForSizeChange(m domain.Market, pos domain.Position, collateralDelta *uint256.Int, now time.Time) (*uint256.Int, error) {
	collateral := fixedpoint.OrZero(pos.CollateralAmount)
	if collateral.IsZero() {
		return nil, domain.ErrInvalidInput
	}
	total, err := TotalFeesOwed(m, pos, now)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(total, collateralDelta, collateral)
}

// Rates returns the per-second funding rates for a market with the given
// open interest. Only the side holding more open interest pays; a balanced or
// empty market pays nothing.
func Rates(factor, longUsd, shortUsd *uint256.Int) (longRate, shortRate *uint256.Int, err error) {
	longRate, shortRate = new(uint256.Int), new(uint256.Int)

	total, err := fixedpoint.Add(longUsd, shortUsd)
	if err != nil {
		return nil, nil, err
	}
	if total.IsZero() || longUsd.Eq(shortUsd) {
		return longRate, shortRate, nil
	}

	var skew *uint256.Int
	if longUsd.Gt(shortUsd) {
		skew = new(uint256.Int).Sub(longUsd, shortUsd)
	} else {
		skew = new(uint256.Int).Sub(shortUsd, longUsd)
	}
	rate, err := fixedpoint.MulDiv(factor, skew, total)
	if err != nil {
		return nil, nil, err
	}
	if longUsd.Gt(shortUsd) {
		return rate, shortRate, nil
	}
	return longRate, rate, nil
}
