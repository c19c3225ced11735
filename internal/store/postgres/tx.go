package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// Store bundles the PostgreSQL repositories and runs them transactionally.
type Store struct {
	pool    *pgxpool.Pool
	markets *MarketStore
	trades  *TradeStore
}

var _ domain.Transactor = (*Store)(nil)

// NewStore creates a Store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:    pool,
		markets: NewMarketStore(pool),
		trades:  NewTradeStore(pool),
	}
}

// Markets returns the non-transactional market repository.
func (s *Store) Markets() domain.MarketRepository { return s.markets }

// Trades returns the non-transactional trade store.
func (s *Store) Trades() domain.TradeStore { return s.trades }

// WithinTx runs fn in a transaction that commits when fn returns nil. Reads
// through tx lock the rows they return until the transaction ends.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(t pgx.Tx) error {
		return fn(ctx, txView{
			markets: &MarketStore{q: t, forUpdate: true},
			trades:  &TradeStore{q: t, forUpdate: true},
		})
	})
}

type txView struct {
	markets *MarketStore
	trades  *TradeStore
}

func (v txView) Markets() domain.MarketRepository { return v.markets }
func (v txView) Trades() domain.TradeStore        { return v.trades }
