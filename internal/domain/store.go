package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MarketRepository persists market snapshots.
type MarketRepository interface {
	GetMarket(ctx context.Context, key common.Hash) (Market, error)
	SaveMarket(ctx context.Context, m Market) error
	MarketsByIndexToken(ctx context.Context, indexToken common.Address) ([]Market, error)
	MarketKeyForPair(ctx context.Context, indexToken, collateralToken common.Address) (common.Hash, error)
}

// TradeStore persists pending requests, open positions and the execution log.
type TradeStore interface {
	// SubmitRequest stores a new pending request. It returns ErrAlreadyExists
	// while another request with the same key is outstanding.
	SubmitRequest(ctx context.Context, req PositionRequest) error
	PendingRequest(ctx context.Context, isLimit bool, key common.Hash) (PositionRequest, error)
	// ListPendingRequests returns up to limit requests of one kind that sort
	// after the cursor, in (CreatedAt, Key) order. A non-positive limit
	// returns all of them.
	ListPendingRequests(ctx context.Context, isLimit bool, after PendingCursor, limit int) ([]PositionRequest, error)
	CancelRequest(ctx context.Context, key common.Hash, isLimit bool) error

	OpenPosition(ctx context.Context, key common.Hash) (Position, error)
	NextPositionIndex(ctx context.Context, marketKey common.Hash, isLong bool) (uint64, error)

	// ExecuteTrade writes the post-trade position (or removes it when
	// closed), consumes the pending request and appends to the trade log.
	ExecuteTrade(ctx context.Context, params TradeParams) (Position, error)
	ListTrades(ctx context.Context, positionKey common.Hash) ([]Trade, error)
}

// Tx is the set of stores bound to one transaction.
type Tx interface {
	Markets() MarketRepository
	Trades() TradeStore
}

// Transactor runs fn inside a transaction. Any error returned by fn rolls
// back every write made through tx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// MarketState exposes a market snapshot and the market-level mutators run
// after every execution.
type MarketState interface {
	Market(ctx context.Context, key common.Hash) (Market, error)
	UpdateFundingRate(ctx context.Context, key common.Hash, sizeDeltaUsd *uint256.Int, isLong bool) error
	UpdateBorrowingRate(ctx context.Context, key common.Hash, isLong bool) error
	UpdateTotalWeightedAverageEntryPrice(ctx context.Context, key common.Hash, price, sizeDeltaUsd *uint256.Int, isLong, isIncrease bool) error
}

// MarketRegistry resolves markets and tracks open interest.
type MarketRegistry interface {
	OpenInterestUsd(ctx context.Context, indexToken common.Address, isLong bool) (*uint256.Int, error)
	MarketForPair(ctx context.Context, indexToken, collateralToken common.Address) (common.Hash, error)
	UpdateOpenInterest(ctx context.Context, key common.Hash, delta OpenInterestDelta) error
}

// PriceFeed returns the reference price of a market at a block. A zero price
// or ErrNotFound means no price is available.
type PriceFeed interface {
	ReferencePrice(ctx context.Context, marketKey common.Hash, block uint64) (*uint256.Int, error)
}
