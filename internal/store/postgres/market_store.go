package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// MarketStore implements domain.MarketRepository using PostgreSQL. Inside a
// transaction reads take a row lock so concurrent executions on the same
// market serialise.
type MarketStore struct {
	q         querier
	forUpdate bool
}

var _ domain.MarketRepository = (*MarketStore)(nil)

// NewMarketStore creates a new MarketStore backed by the given querier.
func NewMarketStore(q querier) *MarketStore {
	return &MarketStore{q: q}
}

const marketCols = `key, index_token, collateral_token,
	long_cumulative_borrow_fee::text, short_cumulative_borrow_fee::text,
	long_borrowing_rate::text, short_borrowing_rate::text, last_borrow_update,
	long_cumulative_funding::text, short_cumulative_funding::text,
	long_funding_rate::text, short_funding_rate::text, last_funding_update,
	price_impact_exponent::text, price_impact_factor::text,
	borrowing_factor::text, funding_factor::text,
	long_open_interest_tokens::text, short_open_interest_tokens::text,
	long_open_interest_usd::text, short_open_interest_usd::text,
	long_collateral::text, short_collateral::text,
	long_average_entry_price::text, short_average_entry_price::text,
	updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		key, index, collateral []byte
		n                      [22]string
		lastBorrow, lastFund   *time.Time
		updatedAt              time.Time
	)
	err := row.Scan(
		&key, &index, &collateral,
		&n[0], &n[1], &n[2], &n[3], &lastBorrow,
		&n[4], &n[5], &n[6], &n[7], &lastFund,
		&n[8], &n[9], &n[10], &n[11],
		&n[12], &n[13], &n[14], &n[15], &n[16], &n[17],
		&n[18], &n[19],
		&updatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	var d decoder
	m := domain.Market{
		Key:                      hashOf(key),
		IndexToken:               addressOf(index),
		CollateralToken:          addressOf(collateral),
		LongCumulativeBorrowFee:  d.num(n[0]),
		ShortCumulativeBorrowFee: d.num(n[1]),
		LongBorrowingRate:        d.num(n[2]),
		ShortBorrowingRate:       d.num(n[3]),
		LastBorrowUpdate:         fromNullTime(lastBorrow),
		LongCumulativeFunding:    d.num(n[4]),
		ShortCumulativeFunding:   d.num(n[5]),
		LongFundingRate:          d.num(n[6]),
		ShortFundingRate:         d.num(n[7]),
		LastFundingUpdate:        fromNullTime(lastFund),
		PriceImpactExponent:      d.num(n[8]),
		PriceImpactFactor:        d.num(n[9]),
		BorrowingFactor:          d.num(n[10]),
		FundingFactor:            d.num(n[11]),
		OpenInterest: domain.OpenInterest{
			LongTokens:      d.num(n[12]),
			ShortTokens:     d.num(n[13]),
			LongUsd:         d.num(n[14]),
			ShortUsd:        d.num(n[15]),
			LongCollateral:  d.num(n[16]),
			ShortCollateral: d.num(n[17]),
		},
		LongAverageEntryPrice:  d.num(n[18]),
		ShortAverageEntryPrice: d.num(n[19]),
		UpdatedAt:              updatedAt.UTC(),
	}
	return m, d.err
}

// GetMarket retrieves a market by key.
func (s *MarketStore) GetMarket(ctx context.Context, key common.Hash) (domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE key = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMarket(s.q.QueryRow(ctx, query, key.Bytes()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", key.Hex(), err)
	}
	return m, nil
}

// SaveMarket inserts or fully overwrites a market.
func (s *MarketStore) SaveMarket(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			key, index_token, collateral_token,
			long_cumulative_borrow_fee, short_cumulative_borrow_fee,
			long_borrowing_rate, short_borrowing_rate, last_borrow_update,
			long_cumulative_funding, short_cumulative_funding,
			long_funding_rate, short_funding_rate, last_funding_update,
			price_impact_exponent, price_impact_factor,
			borrowing_factor, funding_factor,
			long_open_interest_tokens, short_open_interest_tokens,
			long_open_interest_usd, short_open_interest_usd,
			long_collateral, short_collateral,
			long_average_entry_price, short_average_entry_price,
			updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23,
			$24, $25,
			COALESCE($26, NOW())
		)
		ON CONFLICT (key) DO UPDATE SET
			long_cumulative_borrow_fee  = EXCLUDED.long_cumulative_borrow_fee,
			short_cumulative_borrow_fee = EXCLUDED.short_cumulative_borrow_fee,
			long_borrowing_rate         = EXCLUDED.long_borrowing_rate,
			short_borrowing_rate        = EXCLUDED.short_borrowing_rate,
			last_borrow_update          = EXCLUDED.last_borrow_update,
			long_cumulative_funding     = EXCLUDED.long_cumulative_funding,
			short_cumulative_funding    = EXCLUDED.short_cumulative_funding,
			long_funding_rate           = EXCLUDED.long_funding_rate,
			short_funding_rate          = EXCLUDED.short_funding_rate,
			last_funding_update         = EXCLUDED.last_funding_update,
			price_impact_exponent       = EXCLUDED.price_impact_exponent,
			price_impact_factor         = EXCLUDED.price_impact_factor,
			borrowing_factor            = EXCLUDED.borrowing_factor,
			funding_factor              = EXCLUDED.funding_factor,
			long_open_interest_tokens   = EXCLUDED.long_open_interest_tokens,
			short_open_interest_tokens  = EXCLUDED.short_open_interest_tokens,
			long_open_interest_usd      = EXCLUDED.long_open_interest_usd,
			short_open_interest_usd     = EXCLUDED.short_open_interest_usd,
			long_collateral             = EXCLUDED.long_collateral,
			short_collateral            = EXCLUDED.short_collateral,
			long_average_entry_price    = EXCLUDED.long_average_entry_price,
			short_average_entry_price   = EXCLUDED.short_average_entry_price,
			updated_at                  = EXCLUDED.updated_at`

	oi := m.OpenInterest
	_, err := s.q.Exec(ctx, query,
		m.Key.Bytes(), m.IndexToken.Bytes(), m.CollateralToken.Bytes(),
		num(m.LongCumulativeBorrowFee), num(m.ShortCumulativeBorrowFee),
		num(m.LongBorrowingRate), num(m.ShortBorrowingRate), nullTime(m.LastBorrowUpdate),
		num(m.LongCumulativeFunding), num(m.ShortCumulativeFunding),
		num(m.LongFundingRate), num(m.ShortFundingRate), nullTime(m.LastFundingUpdate),
		num(m.PriceImpactExponent), num(m.PriceImpactFactor),
		num(m.BorrowingFactor), num(m.FundingFactor),
		num(oi.LongTokens), num(oi.ShortTokens),
		num(oi.LongUsd), num(oi.ShortUsd),
		num(oi.LongCollateral), num(oi.ShortCollateral),
		num(m.LongAverageEntryPrice), num(m.ShortAverageEntryPrice),
		nullTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: %w", m.Key.Hex(), err)
	}
	return nil
}

// MarketsByIndexToken lists every market quoting indexToken, ordered by key.
func (s *MarketStore) MarketsByIndexToken(ctx context.Context, indexToken common.Address) ([]domain.Market, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE index_token = $1 ORDER BY key`,
		indexToken.Bytes())
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets for %s: %w", indexToken.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarketKeyForPair resolves the market registered for an index/collateral
// pair.
func (s *MarketStore) MarketKeyForPair(ctx context.Context, indexToken, collateralToken common.Address) (common.Hash, error) {
	var key []byte
	err := s.q.QueryRow(ctx,
		`SELECT key FROM markets WHERE index_token = $1 AND collateral_token = $2`,
		indexToken.Bytes(), collateralToken.Bytes(),
	).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Hash{}, domain.ErrNotFound
		}
		return common.Hash{}, fmt.Errorf("postgres: market for pair %s/%s: %w",
			indexToken.Hex(), collateralToken.Hex(), err)
	}
	return hashOf(key), nil
}
