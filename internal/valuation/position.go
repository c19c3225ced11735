package valuation

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/borrowing"
	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
	"github.com/alanyoungcy/perpcore/internal/funding"
)

// Snapshot is the set of market accumulators a position records when it is
// touched, each extrapolated to the touch time.
type Snapshot struct {
	LongBorrow   *uint256.Int
	ShortBorrow  *uint256.Int
	LongFunding  *uint256.Int
	ShortFunding *uint256.Int
	At           time.Time
}

// TakeSnapshot reads the market accumulators of both sides as of now.
func TakeSnapshot(m domain.Market, now time.Time) (Snapshot, error) {
	var (
		s   = Snapshot{At: now}
		err error
	)
	if s.LongBorrow, err = borrowing.CumulativeAt(m, true, now); err != nil {
		return Snapshot{}, fmt.Errorf("valuation: long borrow: %w", err)
	}
	if s.ShortBorrow, err = borrowing.CumulativeAt(m, false, now); err != nil {
		return Snapshot{}, fmt.Errorf("valuation: short borrow: %w", err)
	}
	if s.LongFunding, err = funding.CumulativeAt(m, true, now); err != nil {
		return Snapshot{}, fmt.Errorf("valuation: long funding: %w", err)
	}
	if s.ShortFunding, err = funding.CumulativeAt(m, false, now); err != nil {
		return Snapshot{}, fmt.Errorf("valuation: short funding: %w", err)
	}
	return s, nil
}

// Apply stamps the snapshot onto pos without touching the owed amounts.
func (s Snapshot) Apply(pos *domain.Position) {
	pos.Borrow.LastLongCumulativeBorrowFee = s.LongBorrow.Clone()
	pos.Borrow.LastShortCumulativeBorrowFee = s.ShortBorrow.Clone()
	pos.Funding.LastLongCumulativeFunding = s.LongFunding.Clone()
	pos.Funding.LastShortCumulativeFunding = s.ShortFunding.Clone()
	pos.Funding.LastFundingUpdate = s.At
}

// BuildPosition materialises a new position from an increase request filled
// at executionPrice. PnL and owed fees start at zero and the accumulators of
// m are snapshotted at now.
func BuildPosition(req domain.PositionRequest, executionPrice *uint256.Int, nextIndex uint64, m domain.Market, now time.Time) (domain.Position, error) {
	if executionPrice == nil || executionPrice.IsZero() {
		return domain.Position{}, domain.ErrInvalidInput
	}
	snap, err := TakeSnapshot(m, now)
	if err != nil {
		return domain.Position{}, err
	}

	pos := domain.Position{
		Key:                  PositionKey(m.Key, req.User, req.IsLong),
		Index:                nextIndex,
		Market:               m.Key,
		IndexToken:           req.IndexToken,
		CollateralToken:      req.CollateralToken,
		User:                 req.User,
		CollateralAmount:     fixedpoint.OrZero(req.CollateralDelta).Clone(),
		PositionSize:         fixedpoint.OrZero(req.SizeDelta).Clone(),
		IsLong:               req.IsLong,
		AveragePricePerToken: executionPrice.Clone(),
		RealisedPnl:          new(uint256.Int),
		Borrow:               domain.BorrowParams{FeesOwed: new(uint256.Int)},
		Funding:              domain.FundingParams{FeesOwed: new(uint256.Int)},
		EntryTimestamp:       now,
	}
	snap.Apply(&pos)
	return pos, nil
}
