package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BorrowParams snapshots the market's borrow-fee accumulators at the
// position's last touch, plus fees realised but not yet settled.
type BorrowParams struct {
	FeesOwed                     *uint256.Int
	LastLongCumulativeBorrowFee  *uint256.Int
	LastShortCumulativeBorrowFee *uint256.Int
}

// LastCumulative returns the snapshot for the given side.
func (b BorrowParams) LastCumulative(isLong bool) *uint256.Int {
	if isLong {
		return clone(b.LastLongCumulativeBorrowFee)
	}
	return clone(b.LastShortCumulativeBorrowFee)
}

// FundingParams snapshots the market's funding accumulators at the position's
// last touch, plus funding realised but not yet settled.
type FundingParams struct {
	FeesOwed                   *uint256.Int
	LastLongCumulativeFunding  *uint256.Int
	LastShortCumulativeFunding *uint256.Int
	LastFundingUpdate          time.Time
}

// LastCumulative returns the snapshot for the given side.
func (f FundingParams) LastCumulative(isLong bool) *uint256.Int {
	if isLong {
		return clone(f.LastLongCumulativeFunding)
	}
	return clone(f.LastShortCumulativeFunding)
}

// Position is an open leveraged position. Amounts are 18-decimal fixed point;
// RealisedPnl is a signed int256.
type Position struct {
	Key             common.Hash
	Index           uint64
	Market          common.Hash
	IndexToken      common.Address
	CollateralToken common.Address
	User            common.Address

	CollateralAmount     *uint256.Int
	PositionSize         *uint256.Int
	IsLong               bool
	AveragePricePerToken *uint256.Int
	RealisedPnl          *uint256.Int

	Borrow  BorrowParams
	Funding FundingParams

	EntryTimestamp time.Time
}

// IsOpen reports whether the position still carries size.
func (p Position) IsOpen() bool {
	return p.PositionSize != nil && !p.PositionSize.IsZero()
}

// Clone returns a deep copy of the position.
func (p Position) Clone() Position {
	c := p
	c.CollateralAmount = clone(p.CollateralAmount)
	c.PositionSize = clone(p.PositionSize)
	c.AveragePricePerToken = clone(p.AveragePricePerToken)
	c.RealisedPnl = clone(p.RealisedPnl)
	c.Borrow = BorrowParams{
		FeesOwed:                     clone(p.Borrow.FeesOwed),
		LastLongCumulativeBorrowFee:  clone(p.Borrow.LastLongCumulativeBorrowFee),
		LastShortCumulativeBorrowFee: clone(p.Borrow.LastShortCumulativeBorrowFee),
	}
	c.Funding = FundingParams{
		FeesOwed:                   clone(p.Funding.FeesOwed),
		LastLongCumulativeFunding:  clone(p.Funding.LastLongCumulativeFunding),
		LastShortCumulativeFunding: clone(p.Funding.LastShortCumulativeFunding),
		LastFundingUpdate:          p.Funding.LastFundingUpdate,
	}
	return c
}
