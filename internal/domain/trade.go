package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TradeParams is everything the trade store needs to apply an executed
// request in one step: the resulting position state and the fill details.
type TradeParams struct {
	Request PositionRequest

	// Position is the post-trade state. When Closed is set the position is
	// removed from the open set instead of written.
	Position Position
	Closed   bool
	IsNew    bool

	ReferencePrice *uint256.Int
	ExecutionPrice *uint256.Int
	SizeDeltaUsd   *uint256.Int
	TradingFee     *uint256.Int
	BorrowFee      *uint256.Int
	FundingFee     *uint256.Int

	ExecutedAt time.Time
}

// Trade is one row of the append-only execution log.
type Trade struct {
	ID              string
	RequestKey      common.Hash
	PositionKey     common.Hash
	Market          common.Hash
	User            common.Address
	IsLong          bool
	IsIncrease      bool
	SizeDelta       *uint256.Int
	CollateralDelta *uint256.Int
	ReferencePrice  *uint256.Int
	ExecutionPrice  *uint256.Int
	PriceImpact     *uint256.Int
	TradingFee      *uint256.Int
	BorrowFee       *uint256.Int
	FundingFee      *uint256.Int
	Closed          bool
	ExecutedAt      time.Time
}
