package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// PriceFeed implements domain.PriceFeed over Redis hashes. Each market has a
// hash "refprice:{market}" whose fields are block numbers and whose values
// are 18-decimal prices in base 10. An external signer writes them.
type PriceFeed struct {
	c *Client
}

var _ domain.PriceFeed = (*PriceFeed)(nil)

// NewPriceFeed creates a PriceFeed backed by the given Client.
func NewPriceFeed(c *Client) *PriceFeed {
	return &PriceFeed{c: c}
}

func (pf *PriceFeed) key(marketKey common.Hash) string {
	return pf.c.Key("refprice", marketKey.Hex())
}

// SetReferencePrice records price for a market at block.
func (pf *PriceFeed) SetReferencePrice(ctx context.Context, marketKey common.Hash, block uint64, price *uint256.Int) error {
	field := strconv.FormatUint(block, 10)
	if err := pf.c.rdb.HSet(ctx, pf.key(marketKey), field, price.Dec()).Err(); err != nil {
		return fmt.Errorf("redis: set reference price %s@%d: %w", marketKey.Hex(), block, err)
	}
	return nil
}

// ReferencePrice returns the price of a market at block, or
// domain.ErrNotFound when none was recorded.
func (pf *PriceFeed) ReferencePrice(ctx context.Context, marketKey common.Hash, block uint64) (*uint256.Int, error) {
	raw, err := pf.c.rdb.HGet(ctx, pf.key(marketKey), strconv.FormatUint(block, 10)).Result()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get reference price %s@%d: %w", marketKey.Hex(), block, err)
	}
	price, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("redis: parse reference price %q: %w", raw, err)
	}
	return price, nil
}

// PruneBefore drops prices recorded for blocks below block.
func (pf *PriceFeed) PruneBefore(ctx context.Context, marketKey common.Hash, block uint64) (int, error) {
	fields, err := pf.c.rdb.HKeys(ctx, pf.key(marketKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: list reference prices %s: %w", marketKey.Hex(), err)
	}
	var stale []string
	for _, f := range fields {
		if b, err := strconv.ParseUint(f, 10, 64); err == nil && b < block {
			stale = append(stale, f)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := pf.c.rdb.HDel(ctx, pf.key(marketKey), stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: prune reference prices %s: %w", marketKey.Hex(), err)
	}
	return int(n), nil
}
