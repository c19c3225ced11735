package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perpcore/internal/config"
	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/valuation"
)

// SeedMarkets creates every configured market that does not exist yet and
// returns how many were created. Existing markets are left untouched so
// their accumulators survive restarts.
func SeedMarkets(ctx context.Context, store domain.Transactor, markets []config.MarketConfig, now time.Time) (int, error) {
	created := 0
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, mc := range markets {
			index := common.HexToAddress(mc.IndexToken)
			collateral := common.HexToAddress(mc.CollateralToken)
			key := valuation.MarketKey(index, collateral)

			_, err := tx.Markets().GetMarket(ctx, key)
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("market %s: %w", key.Hex(), err)
			}

			m := domain.Market{
				Key:                 key,
				IndexToken:          index,
				CollateralToken:     collateral,
				PriceImpactExponent: mc.PriceImpactExponent.Value(),
				PriceImpactFactor:   mc.PriceImpactFactor.Value(),
				BorrowingFactor:     mc.BorrowingFactor.Value(),
				FundingFactor:       mc.FundingFactor.Value(),
				LastBorrowUpdate:    now,
				LastFundingUpdate:   now,
				UpdatedAt:           now,
			}
			if err := tx.Markets().SaveMarket(ctx, m.Clone()); err != nil {
				return fmt.Errorf("market %s: %w", key.Hex(), err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}
