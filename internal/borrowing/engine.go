package borrowing

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// MarketReader returns the current snapshot of a market.
type MarketReader interface {
	Market(ctx context.Context, key common.Hash) (domain.Market, error)
}

// Engine reads a fresh market snapshot for every call and evaluates the fee
// functions of this package against it. Nothing is cached between calls.
type Engine struct {
	markets MarketReader
	now     func() time.Time
}

// NewEngine creates an Engine. A nil clock defaults to time.Now.
func NewEngine(markets MarketReader, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{markets: markets, now: now}
}

// PendingRateFees returns the extrapolated accrual factor of a market side.
func (e *Engine) PendingRateFees(ctx context.Context, marketKey common.Hash, isLong bool) (*uint256.Int, error) {
	m, err := e.market(ctx, marketKey)
	if err != nil {
		return nil, err
	}
	return PendingRateFees(m, isLong, e.now())
}

// FeesSinceLastUpdate returns the fee accrued by pos since its snapshot.
func (e *Engine) FeesSinceLastUpdate(ctx context.Context, pos domain.Position) (*uint256.Int, error) {
	m, err := e.market(ctx, pos.Market)
	if err != nil {
		return nil, err
	}
	return FeesSinceLastUpdate(m, pos, e.now())
}

// TotalFeesOwed returns everything pos owes in borrow fees right now.
func (e *Engine) TotalFeesOwed(ctx context.Context, pos domain.Position) (*uint256.Int, error) {
	m, err := e.market(ctx, pos.Market)
	if err != nil {
		return nil, err
	}
	return TotalFeesOwed(m, pos, e.now())
}

// FeeForSizeChange returns the share of owed fees attributable to
// collateralDelta.
func (e *Engine) FeeForSizeChange(ctx context.Context, pos domain.Position, collateralDelta *uint256.Int) (*uint256.Int, error) {
	m, err := e.market(ctx, pos.Market)
	if err != nil {
		return nil, err
	}
	return FeeForSizeChange(m, pos, collateralDelta, e.now())
}

func (e *Engine) market(ctx context.Context, key common.Hash) (domain.Market, error) {
	m, err := e.markets.Market(ctx, key)
	if err != nil {
		return domain.Market{}, fmt.Errorf("borrowing: market %s: %w", key.Hex(), err)
	}
	return m, nil
}
