// Package market implements the market state provider and open-interest
// registry over a MarketRepository. Every mutator reads the current
// snapshot, folds pending accrual where rates are about to change and writes
// the market back.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/borrowing"
	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
	"github.com/alanyoungcy/perpcore/internal/funding"
)

// Service implements domain.MarketState and domain.MarketRegistry.
type Service struct {
	repo   domain.MarketRepository
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ domain.MarketState    = (*Service)(nil)
	_ domain.MarketRegistry = (*Service)(nil)
)

// NewService creates a Service. A nil clock defaults to time.Now.
func NewService(repo domain.MarketRepository, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		now:    now,
		logger: logger.With(slog.String("component", "market")),
	}
}

// Market returns the current snapshot of a market.
func (s *Service) Market(ctx context.Context, key common.Hash) (domain.Market, error) {
	m, err := s.repo.GetMarket(ctx, key)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market: get %s: %w", key.Hex(), err)
	}
	return m, nil
}

// MarketForPair resolves the market key of an index/collateral pair.
func (s *Service) MarketForPair(ctx context.Context, indexToken, collateralToken common.Address) (common.Hash, error) {
	key, err := s.repo.MarketKeyForPair(ctx, indexToken, collateralToken)
	if err != nil {
		return common.Hash{}, fmt.Errorf("market: pair %s/%s: %w", indexToken.Hex(), collateralToken.Hex(), err)
	}
	return key, nil
}

// OpenInterestUsd sums one side's USD open interest over every market of
// indexToken.
func (s *Service) OpenInterestUsd(ctx context.Context, indexToken common.Address, isLong bool) (*uint256.Int, error) {
	markets, err := s.repo.MarketsByIndexToken(ctx, indexToken)
	if err != nil {
		return nil, fmt.Errorf("market: markets for %s: %w", indexToken.Hex(), err)
	}
	total := new(uint256.Int)
	for _, m := range markets {
		if total, err = fixedpoint.Add(total, m.OpenInterestUsd(isLong)); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// UpdateOpenInterest applies one trade to a side's token, USD and collateral
// open interest. Decreases saturate at zero.
func (s *Service) UpdateOpenInterest(ctx context.Context, key common.Hash, delta domain.OpenInterestDelta) error {
	m, err := s.Market(ctx, key)
	if err != nil {
		return err
	}
	m = m.Clone()

	oi := &m.OpenInterest
	tokens, usd, collateral := &oi.ShortTokens, &oi.ShortUsd, &oi.ShortCollateral
	if delta.IsLong {
		tokens, usd, collateral = &oi.LongTokens, &oi.LongUsd, &oi.LongCollateral
	}

	if delta.IsIncrease {
		if *tokens, err = fixedpoint.Add(*tokens, fixedpoint.OrZero(delta.SizeDelta)); err != nil {
			return fmt.Errorf("market: open interest tokens: %w", err)
		}
		if *usd, err = fixedpoint.Add(*usd, fixedpoint.OrZero(delta.SizeDeltaUsd)); err != nil {
			return fmt.Errorf("market: open interest usd: %w", err)
		}
		if *collateral, err = fixedpoint.Add(*collateral, fixedpoint.OrZero(delta.CollateralDelta)); err != nil {
			return fmt.Errorf("market: open interest collateral: %w", err)
		}
	} else {
		*tokens = fixedpoint.SaturatingSub(*tokens, fixedpoint.OrZero(delta.SizeDelta))
		*usd = fixedpoint.SaturatingSub(*usd, fixedpoint.OrZero(delta.SizeDeltaUsd))
		*collateral = fixedpoint.SaturatingSub(*collateral, fixedpoint.OrZero(delta.CollateralDelta))
	}

	return s.save(ctx, m)
}

// UpdateBorrowingRate folds pending borrow fees of both sides into the
// accumulators, then reprices both sides as
// borrowingFactor * sideOpenInterest / totalOpenInterest. isLong names the
// side that traded.
func (s *Service) UpdateBorrowingRate(ctx context.Context, key common.Hash, isLong bool) error {
	m, err := s.Market(ctx, key)
	if err != nil {
		return err
	}
	m = m.Clone()
	now := s.now()

	if m.LongCumulativeBorrowFee, err = borrowing.CumulativeAt(m, true, now); err != nil {
		return fmt.Errorf("market: fold long borrow: %w", err)
	}
	if m.ShortCumulativeBorrowFee, err = borrowing.CumulativeAt(m, false, now); err != nil {
		return fmt.Errorf("market: fold short borrow: %w", err)
	}
	m.LastBorrowUpdate = now

	longUsd, shortUsd := m.OpenInterestUsd(true), m.OpenInterestUsd(false)
	total, err := fixedpoint.Add(longUsd, shortUsd)
	if err != nil {
		return err
	}
	if total.IsZero() {
		m.LongBorrowingRate, m.ShortBorrowingRate = new(uint256.Int), new(uint256.Int)
	} else {
		factor := fixedpoint.OrZero(m.BorrowingFactor)
		if m.LongBorrowingRate, err = fixedpoint.MulDiv(factor, longUsd, total); err != nil {
			return err
		}
		if m.ShortBorrowingRate, err = fixedpoint.MulDiv(factor, shortUsd, total); err != nil {
			return err
		}
	}

	s.logger.DebugContext(ctx, "borrowing rate updated",
		slog.String("market", key.Hex()),
		slog.Bool("is_long", isLong),
		slog.String("long_rate", m.LongBorrowingRate.Dec()),
		slog.String("short_rate", m.ShortBorrowingRate.Dec()),
	)
	return s.save(ctx, m)
}

// UpdateFundingRate folds pending funding into the accumulators and reprices
// funding from the current skew. sizeDeltaUsd and isLong describe the trade
// that triggered the update; the rate depends only on open interest.
func (s *Service) UpdateFundingRate(ctx context.Context, key common.Hash, sizeDeltaUsd *uint256.Int, isLong bool) error {
	m, err := s.Market(ctx, key)
	if err != nil {
		return err
	}
	m = m.Clone()
	now := s.now()

	if m.LongCumulativeFunding, err = funding.CumulativeAt(m, true, now); err != nil {
		return fmt.Errorf("market: fold long funding: %w", err)
	}
	if m.ShortCumulativeFunding, err = funding.CumulativeAt(m, false, now); err != nil {
		return fmt.Errorf("market: fold short funding: %w", err)
	}
	m.LastFundingUpdate = now

	m.LongFundingRate, m.ShortFundingRate, err = funding.Rates(
		fixedpoint.OrZero(m.FundingFactor), m.OpenInterestUsd(true), m.OpenInterestUsd(false))
	if err != nil {
		return fmt.Errorf("market: funding rates: %w", err)
	}

	s.logger.DebugContext(ctx, "funding rate updated",
		slog.String("market", key.Hex()),
		slog.String("size_delta_usd", fixedpoint.OrZero(sizeDeltaUsd).Dec()),
		slog.Bool("is_long", isLong),
		slog.String("long_rate", m.LongFundingRate.Dec()),
		slog.String("short_rate", m.ShortFundingRate.Dec()),
	)
	return s.save(ctx, m)
}

// UpdateTotalWeightedAverageEntryPrice maintains the size-weighted average
// entry of one side across all positions. It runs after the open interest
// update, so the side's USD open interest already includes sizeDeltaUsd.
func (s *Service) UpdateTotalWeightedAverageEntryPrice(ctx context.Context, key common.Hash, price, sizeDeltaUsd *uint256.Int, isLong, isIncrease bool) error {
	m, err := s.Market(ctx, key)
	if err != nil {
		return err
	}
	m = m.Clone()

	oi := m.OpenInterestUsd(isLong)
	avg := m.AverageEntryPrice(isLong)

	switch {
	case oi.IsZero():
		avg = new(uint256.Int)
	case !isIncrease:
		// Closing size does not move the average of what remains.
	default:
		delta := fixedpoint.OrZero(sizeDeltaUsd)
		prevOi := fixedpoint.SaturatingSub(oi, delta)
		if prevOi.IsZero() || avg.IsZero() {
			avg = fixedpoint.OrZero(price).Clone()
			break
		}
		weighted, err := fixedpoint.MulInt(avg, prevOi)
		if err != nil {
			return fmt.Errorf("market: weighted average: %w", err)
		}
		incoming, err := fixedpoint.MulInt(fixedpoint.OrZero(price), delta)
		if err != nil {
			return fmt.Errorf("market: weighted average: %w", err)
		}
		sum, err := fixedpoint.Add(weighted, incoming)
		if err != nil {
			return fmt.Errorf("market: weighted average: %w", err)
		}
		avg = new(uint256.Int).Div(sum, oi)
	}

	if isLong {
		m.LongAverageEntryPrice = avg
	} else {
		m.ShortAverageEntryPrice = avg
	}
	return s.save(ctx, m)
}

func (s *Service) save(ctx context.Context, m domain.Market) error {
	m.UpdatedAt = s.now()
	if err := s.repo.SaveMarket(ctx, m); err != nil {
		return fmt.Errorf("market: save %s: %w", m.Key.Hex(), err)
	}
	return nil
}
