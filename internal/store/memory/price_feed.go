package memory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// PriceFeed serves reference prices recorded with SetReferencePrice.
type PriceFeed struct {
	mu     sync.RWMutex
	prices map[common.Hash]map[uint64]*uint256.Int
}

var _ domain.PriceFeed = (*PriceFeed)(nil)

// NewPriceFeed creates an empty PriceFeed.
func NewPriceFeed() *PriceFeed {
	return &PriceFeed{prices: make(map[common.Hash]map[uint64]*uint256.Int)}
}

// SetReferencePrice records the price of a market at block.
func (f *PriceFeed) SetReferencePrice(_ context.Context, marketKey common.Hash, block uint64, price *uint256.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	byBlock, ok := f.prices[marketKey]
	if !ok {
		byBlock = make(map[uint64]*uint256.Int)
		f.prices[marketKey] = byBlock
	}
	byBlock[block] = clone(price)
	return nil
}

// ReferencePrice returns the price recorded for block, or ErrNotFound.
func (f *PriceFeed) ReferencePrice(_ context.Context, marketKey common.Hash, block uint64) (*uint256.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[marketKey][block]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}
