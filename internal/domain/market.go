package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

// OpenInterest is the aggregate exposure of a market, per side. Token amounts
// are in index-token units; USD amounts are valued at execution time.
type OpenInterest struct {
	LongTokens      *uint256.Int
	ShortTokens     *uint256.Int
	LongUsd         *uint256.Int
	ShortUsd        *uint256.Int
	LongCollateral  *uint256.Int
	ShortCollateral *uint256.Int
}

// Market is a snapshot of one index/collateral market. All amounts and rates
// are 18-decimal fixed point. Rates are per second.
type Market struct {
	Key             common.Hash
	IndexToken      common.Address
	CollateralToken common.Address

	LongCumulativeBorrowFee  *uint256.Int
	ShortCumulativeBorrowFee *uint256.Int
	LongBorrowingRate        *uint256.Int
	ShortBorrowingRate       *uint256.Int
	LastBorrowUpdate         time.Time

	LongCumulativeFunding  *uint256.Int
	ShortCumulativeFunding *uint256.Int
	LongFundingRate        *uint256.Int
	ShortFundingRate       *uint256.Int
	LastFundingUpdate      time.Time

	PriceImpactExponent *uint256.Int
	PriceImpactFactor   *uint256.Int
	BorrowingFactor     *uint256.Int
	FundingFactor       *uint256.Int

	OpenInterest OpenInterest

	LongAverageEntryPrice  *uint256.Int
	ShortAverageEntryPrice *uint256.Int

	UpdatedAt time.Time
}

// CumulativeBorrowFee returns the borrow-fee accumulator for one side.
func (m Market) CumulativeBorrowFee(isLong bool) *uint256.Int {
	if isLong {
		return fixedpoint.OrZero(m.LongCumulativeBorrowFee)
	}
	return fixedpoint.OrZero(m.ShortCumulativeBorrowFee)
}

// BorrowingRate returns the per-second borrowing rate for one side.
func (m Market) BorrowingRate(isLong bool) *uint256.Int {
	if isLong {
		return fixedpoint.OrZero(m.LongBorrowingRate)
	}
	return fixedpoint.OrZero(m.ShortBorrowingRate)
}

// CumulativeFunding returns the funding accumulator for one side.
func (m Market) CumulativeFunding(isLong bool) *uint256.Int {
	if isLong {
		return fixedpoint.OrZero(m.LongCumulativeFunding)
	}
	return fixedpoint.OrZero(m.ShortCumulativeFunding)
}

// FundingRate returns the per-second funding rate paid by one side.
func (m Market) FundingRate(isLong bool) *uint256.Int {
	if isLong {
		return fixedpoint.OrZero(m.LongFundingRate)
	}
	return fixedpoint.OrZero(m.ShortFundingRate)
}

// OpenInterestUsd returns the USD open interest of one side.
func (m Market) OpenInterestUsd(isLong bool) *uint256.Int {
	if isLong {
		return fixedpoint.OrZero(m.OpenInterest.LongUsd)
	}
	return fixedpoint.OrZero(m.OpenInterest.ShortUsd)
}

// AverageEntryPrice returns the market-wide weighted average entry of a side.
func (m Market) AverageEntryPrice(isLong bool) *uint256.Int {
	if isLong {
		return fixedpoint.OrZero(m.LongAverageEntryPrice)
	}
	return fixedpoint.OrZero(m.ShortAverageEntryPrice)
}

// Clone returns a deep copy so a snapshot can be mutated without affecting
// the original. Nil amounts come back as zero.
func (m Market) Clone() Market {
	c := m
	c.LongCumulativeBorrowFee = clone(m.LongCumulativeBorrowFee)
	c.ShortCumulativeBorrowFee = clone(m.ShortCumulativeBorrowFee)
	c.LongBorrowingRate = clone(m.LongBorrowingRate)
	c.ShortBorrowingRate = clone(m.ShortBorrowingRate)
	c.LongCumulativeFunding = clone(m.LongCumulativeFunding)
	c.ShortCumulativeFunding = clone(m.ShortCumulativeFunding)
	c.LongFundingRate = clone(m.LongFundingRate)
	c.ShortFundingRate = clone(m.ShortFundingRate)
	c.PriceImpactExponent = clone(m.PriceImpactExponent)
	c.PriceImpactFactor = clone(m.PriceImpactFactor)
	c.BorrowingFactor = clone(m.BorrowingFactor)
	c.FundingFactor = clone(m.FundingFactor)
	c.LongAverageEntryPrice = clone(m.LongAverageEntryPrice)
	c.ShortAverageEntryPrice = clone(m.ShortAverageEntryPrice)
	c.OpenInterest = OpenInterest{
		LongTokens:      clone(m.OpenInterest.LongTokens),
		ShortTokens:     clone(m.OpenInterest.ShortTokens),
		LongUsd:         clone(m.OpenInterest.LongUsd),
		ShortUsd:        clone(m.OpenInterest.ShortUsd),
		LongCollateral:  clone(m.OpenInterest.LongCollateral),
		ShortCollateral: clone(m.OpenInterest.ShortCollateral),
	}
	return c
}

// OpenInterestDelta describes one trade's change to a side of a market.
type OpenInterestDelta struct {
	CollateralDelta *uint256.Int
	SizeDelta       *uint256.Int // index-token units
	SizeDeltaUsd    *uint256.Int
	IsLong          bool
	IsIncrease      bool
}

func clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}
