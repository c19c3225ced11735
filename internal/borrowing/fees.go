// Package borrowing computes borrowing-fee accrual for positions. Fees accrue
// lazily: a market stores a cumulative fee-per-size counter per side that is
// folded forward only when the market is touched, and reads extrapolate the
// current rate over the time elapsed since the last fold.
package borrowing

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

// PendingRateFees returns rate * (now - lastBorrowUpdate) for one side; an
// accrual factor in fee-per-size, not an absolute fee.
func PendingRateFees(m domain.Market, isLong bool, now time.Time) (*uint256.Int, error) {
	rate := m.BorrowingRate(isLong)
	elapsed := elapsedSeconds(m.LastBorrowUpdate, now)
	if rate.IsZero() || elapsed.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.MulInt(rate, elapsed)
}

// CumulativeAt returns the side's accumulator extrapolated to now. It is the
// value a position snapshots on every touch.
func CumulativeAt(m domain.Market, isLong bool, now time.Time) (*uint256.Int, error) {
	pending, err := PendingRateFees(m, isLong, now)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(m.CumulativeBorrowFee(isLong), pending)
}

// FeesSinceLastUpdate returns the borrow fee in tokens accrued by pos since
// its last snapshot.
func FeesSinceLastUpdate(m domain.Market, pos domain.Position, now time.Time) (*uint256.Int, error) {
	current, err := CumulativeAt(m, pos.IsLong, now)
	if err != nil {
		return nil, err
	}
	factor := fixedpoint.SaturatingSub(current, pos.Borrow.LastCumulative(pos.IsLong))
	if factor.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.Mul(fixedpoint.OrZero(pos.PositionSize), factor)
}

// TotalFeesOwed adds previously realised but unsettled fees to the accrual.
func TotalFeesOwed(m domain.Market, pos domain.Position, now time.Time) (*uint256.Int, error) {
	since, err := FeesSinceLastUpdate(m, pos, now)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(since, fixedpoint.OrZero(pos.Borrow.FeesOwed))
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

func elapsedSeconds(since, now time.Time) *uint256.Int {
	if since.IsZero() || !now.After(since) {
		return new(uint256.Int)
	}
	return uint256.NewInt(uint64(now.Unix() - since.Unix()))
}
