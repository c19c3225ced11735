// Package valuation holds the stateless computations used when a position is
// built or mutated: leverage bounds, trading fees, average-price blending and
// the deterministic keys that address requests, markets and positions.
package valuation

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

var (
	// DefaultMinLeverage is 1x.
	DefaultMinLeverage = fixedpoint.Units(1)
	// DefaultMaxLeverage is 50x.
	DefaultMaxLeverage = fixedpoint.Units(50)
)

// LeverageBounds is an inclusive leverage range.
type LeverageBounds struct {
	Min *uint256.Int
	Max *uint256.Int
}

// DefaultLeverageBounds returns [1x, 50x].
func DefaultLeverageBounds() LeverageBounds {
	return LeverageBounds{Min: DefaultMinLeverage.Clone(), Max: DefaultMaxLeverage.Clone()}
}

// Leverage returns size / collateral as a fixed-point ratio.
func Leverage(size, collateral *uint256.Int) (*uint256.Int, error) {
	if collateral == nil || collateral.IsZero() {
		return nil, domain.ErrInvalidInput
	}
	return fixedpoint.Div(fixedpoint.OrZero(size), collateral)
}

// ValidateLeverage fails with ErrLeverageOutOfRange unless size/collateral
// lies within b.
func (b LeverageBounds) ValidateLeverage(size, collateral *uint256.Int) error {
	lev, err := Leverage(size, collateral)
	if err != nil {
		return err
	}
	if lev.Lt(b.Min) || lev.Gt(b.Max) {
		return fmt.Errorf("%w: %s not in [%s, %s]", domain.ErrLeverageOutOfRange, lev.Dec(), b.Min.Dec(), b.Max.Dec())
	}
	return nil
}

// TradingFee returns sizeDelta * feeRate.
func TradingFee(sizeDelta, feeRate *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.Mul(fixedpoint.OrZero(sizeDelta), fixedpoint.OrZero(feeRate))
}

// BlendedAveragePrice is the equal-weight mean of the previous average and
// the new execution price, rounded half up. It is not size weighted.
func BlendedAveragePrice(prevAverage, newPrice *uint256.Int) *uint256.Int {
	return fixedpoint.Average(fixedpoint.OrZero(prevAverage), fixedpoint.OrZero(newPrice))
}
