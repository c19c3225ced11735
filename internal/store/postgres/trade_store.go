package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	q         querier
	forUpdate bool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given querier.
func NewTradeStore(q querier) *TradeStore {
	return &TradeStore{q: q}
}

func (s *TradeStore) lockClause() string {
	if s.forUpdate {
		return ` FOR UPDATE`
	}
	return ""
}

// --- requests ---

const requestCols = `key, is_limit, user_addr, index_token, collateral_token,
	is_long, is_increase, size_delta::text, collateral_delta::text,
	acceptable_price::text, request_block, price_impact::text, created_at`

func scanRequest(row pgx.Row) (domain.PositionRequest, error) {
	var (
		key, user, index, collateral []byte
		size, coll, acceptable, pi   string
		block                        int64
		r                            domain.PositionRequest
	)
	err := row.Scan(
		&key, &r.IsLimit, &user, &index, &collateral,
		&r.IsLong, &r.IsIncrease, &size, &coll,
		&acceptable, &block, &pi, &r.CreatedAt,
	)
	if err != nil {
		return domain.PositionRequest{}, err
	}

	var d decoder
	r.Key = hashOf(key)
	r.User = addressOf(user)
	r.IndexToken = addressOf(index)
	r.CollateralToken = addressOf(collateral)
	r.SizeDelta = d.num(size)
	r.CollateralDelta = d.num(coll)
	r.AcceptablePrice = d.num(acceptable)
	r.RequestBlock = uint64(block)
	r.PriceImpact = d.signed(pi)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, d.err
}

// SubmitRequest stores a pending request. The key is unique across market
// and limit requests.
func (s *TradeStore) SubmitRequest(ctx context.Context, req domain.PositionRequest) error {
	const query = `
		INSERT INTO position_requests (
			key, is_limit, user_addr, index_token, collateral_token,
			is_long, is_increase, size_delta, collateral_delta,
			acceptable_price, request_block, price_impact, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, COALESCE($13, NOW())
		)`

	_, err := s.q.Exec(ctx, query,
		req.Key.Bytes(), req.IsLimit, req.User.Bytes(),
		req.IndexToken.Bytes(), req.CollateralToken.Bytes(),
		req.IsLong, req.IsIncrease, num(req.SizeDelta), num(req.CollateralDelta),
		num(req.AcceptablePrice), int64(req.RequestBlock), signed(req.PriceImpact),
		nullTime(req.CreatedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: submit request %s: %w", req.Key.Hex(), err)
	}
	return nil
}

// PendingRequest retrieves an outstanding request.
func (s *TradeStore) PendingRequest(ctx context.Context, isLimit bool, key common.Hash) (domain.PositionRequest, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+requestCols+` FROM position_requests WHERE key = $1 AND is_limit = $2`+s.lockClause(),
		key.Bytes(), isLimit)
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionRequest{}, domain.ErrNotFound
		}
		return domain.PositionRequest{}, fmt.Errorf("postgres: get request %s: %w", key.Hex(), err)
	}
	return r, nil
}

// ListPendingRequests returns outstanding requests of one kind after the
// cursor, oldest first. A non-positive limit returns all of them.
func (s *TradeStore) ListPendingRequests(ctx context.Context, isLimit bool, after domain.PendingCursor, limit int) ([]domain.PositionRequest, error) {
	query := `SELECT ` + requestCols + ` FROM position_requests WHERE is_limit = $1`
	args := []any{isLimit}
	if !after.IsZero() {
		query += ` AND (created_at, key) > ($2, $3)`
		args = append(args, after.CreatedAt, after.Key.Bytes())
	}
	query += ` ORDER BY created_at, key`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending requests: %w", err)
	}
	defer rows.Close()

	var out []domain.PositionRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CancelRequest deletes an outstanding request.
func (s *TradeStore) CancelRequest(ctx context.Context, key common.Hash, isLimit bool) error {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM position_requests WHERE key = $1 AND is_limit = $2`,
		key.Bytes(), isLimit)
	if err != nil {
		return fmt.Errorf("postgres: cancel request %s: %w", key.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// --- positions ---

const positionCols = `key, idx, market, index_token, collateral_token, user_addr,
	collateral_amount::text, position_size::text, is_long, average_price::text,
	realised_pnl::text,
	borrow_fees_owed::text, last_long_cumulative_borrow::text, last_short_cumulative_borrow::text,
	funding_fees_owed::text, last_long_cumulative_funding::text, last_short_cumulative_funding::text,
	last_funding_update, entry_timestamp`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		key, market, index, collateral, user []byte
		idx                                  int64
		n                                    [10]string
		lastFunding                          *time.Time
		p                                    domain.Position
	)
	err := row.Scan(
		&key, &idx, &market, &index, &collateral, &user,
		&n[0], &n[1], &p.IsLong, &n[2],
		&n[3],
		&n[4], &n[5], &n[6],
		&n[7], &n[8], &n[9],
		&lastFunding, &p.EntryTimestamp,
	)
	if err != nil {
		return domain.Position{}, err
	}

	var d decoder
	p.Key = hashOf(key)
	p.Index = uint64(idx)
	p.Market = hashOf(market)
	p.IndexToken = addressOf(index)
	p.CollateralToken = addressOf(collateral)
	p.User = addressOf(user)
	p.CollateralAmount = d.num(n[0])
	p.PositionSize = d.num(n[1])
	p.AveragePricePerToken = d.num(n[2])
	p.RealisedPnl = d.signed(n[3])
	p.Borrow = domain.BorrowParams{
		FeesOwed:                     d.num(n[4]),
		LastLongCumulativeBorrowFee:  d.num(n[5]),
		LastShortCumulativeBorrowFee: d.num(n[6]),
	}
	p.Funding = domain.FundingParams{
		FeesOwed:                   d.num(n[7]),
		LastLongCumulativeFunding:  d.num(n[8]),
		LastShortCumulativeFunding: d.num(n[9]),
		LastFundingUpdate:          fromNullTime(lastFunding),
	}
	p.EntryTimestamp = p.EntryTimestamp.UTC()
	return p, d.err
}

// OpenPosition retrieves an open position by key.
func (s *TradeStore) OpenPosition(ctx context.Context, key common.Hash) (domain.Position, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE key = $1`+s.lockClause(),
		key.Bytes())
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", key.Hex(), err)
	}
	return p, nil
}

// NextPositionIndex returns the index the next new position on a market side
// will get.
func (s *TradeStore) NextPositionIndex(ctx context.Context, marketKey common.Hash, isLong bool) (uint64, error) {
	var next int64
	err := s.q.QueryRow(ctx,
		`SELECT next_index FROM position_sequences WHERE market = $1 AND is_long = $2`+s.lockClause(),
		marketKey.Bytes(), isLong,
	).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: next position index %s: %w", marketKey.Hex(), err)
	}
	return uint64(next), nil
}

func upsertPosition(ctx context.Context, q querier, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			key, idx, market, index_token, collateral_token, user_addr,
			collateral_amount, position_size, is_long, average_price, realised_pnl,
			borrow_fees_owed, last_long_cumulative_borrow, last_short_cumulative_borrow,
			funding_fees_owed, last_long_cumulative_funding, last_short_cumulative_funding,
			last_funding_update, entry_timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17,
			$18, $19
		)
		ON CONFLICT (key) DO UPDATE SET
			collateral_amount             = EXCLUDED.collateral_amount,
			position_size                 = EXCLUDED.position_size,
			average_price                 = EXCLUDED.average_price,
			realised_pnl                  = EXCLUDED.realised_pnl,
			borrow_fees_owed              = EXCLUDED.borrow_fees_owed,
			last_long_cumulative_borrow   = EXCLUDED.last_long_cumulative_borrow,
			last_short_cumulative_borrow  = EXCLUDED.last_short_cumulative_borrow,
			funding_fees_owed             = EXCLUDED.funding_fees_owed,
			last_long_cumulative_funding  = EXCLUDED.last_long_cumulative_funding,
			last_short_cumulative_funding = EXCLUDED.last_short_cumulative_funding,
			last_funding_update           = EXCLUDED.last_funding_update`

	_, err := q.Exec(ctx, query,
		p.Key.Bytes(), int64(p.Index), p.Market.Bytes(),
		p.IndexToken.Bytes(), p.CollateralToken.Bytes(), p.User.Bytes(),
		num(p.CollateralAmount), num(p.PositionSize), p.IsLong,
		num(p.AveragePricePerToken), signed(p.RealisedPnl),
		num(p.Borrow.FeesOwed), num(p.Borrow.LastLongCumulativeBorrowFee), num(p.Borrow.LastShortCumulativeBorrowFee),
		num(p.Funding.FeesOwed), num(p.Funding.LastLongCumulativeFunding), num(p.Funding.LastShortCumulativeFunding),
		nullTime(p.Funding.LastFundingUpdate), p.EntryTimestamp,
	)
	return err
}

// ExecuteTrade consumes the request, writes or removes the position, bumps
// the side's index for new positions and appends to the trade log. All of it
// happens in one transaction, nested as a savepoint when already inside one.
func (s *TradeStore) ExecuteTrade(ctx context.Context, p domain.TradeParams) (domain.Position, error) {
	pos := p.Position.Clone()
	err := pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM position_requests WHERE key = $1 AND is_limit = $2`,
			p.Request.Key.Bytes(), p.Request.IsLimit)
		if err != nil {
			return fmt.Errorf("consume request: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}

		if p.Closed {
			if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE key = $1`, pos.Key.Bytes()); err != nil {
				return fmt.Errorf("delete position: %w", err)
			}
		} else if err := upsertPosition(ctx, tx, pos); err != nil {
			return fmt.Errorf("write position: %w", err)
		}

		if p.IsNew {
			if _, err := tx.Exec(ctx, `
				INSERT INTO position_sequences (market, is_long, next_index)
				VALUES ($1, $2, 1)
				ON CONFLICT (market, is_long) DO UPDATE
				SET next_index = position_sequences.next_index + 1`,
				pos.Market.Bytes(), pos.IsLong,
			); err != nil {
				return fmt.Errorf("bump position index: %w", err)
			}
		}

		if err := insertTrade(ctx, tx, uuid.NewString(), p); err != nil {
			return fmt.Errorf("append trade: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, err
		}
		return domain.Position{}, fmt.Errorf("postgres: execute trade %s: %w", p.Request.Key.Hex(), err)
	}
	return pos, nil
}

// --- trades ---

func insertTrade(ctx context.Context, q querier, id string, p domain.TradeParams) error {
	const query = `
		INSERT INTO trades (
			id, request_key, position_key, market, user_addr,
			is_long, is_increase, size_delta, collateral_delta,
			reference_price, execution_price, price_impact,
			trading_fee, borrow_fee, funding_fee, closed, executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16, $17
		)`

	req := p.Request
	_, err := q.Exec(ctx, query,
		id, req.Key.Bytes(), p.Position.Key.Bytes(), p.Position.Market.Bytes(), req.User.Bytes(),
		req.IsLong, req.IsIncrease, num(req.SizeDelta), num(req.CollateralDelta),
		num(p.ReferencePrice), num(p.ExecutionPrice), signed(req.PriceImpact),
		num(p.TradingFee), num(p.BorrowFee), num(p.FundingFee), p.Closed, p.ExecutedAt,
	)
	return err
}

const tradeCols = `id::text, request_key, position_key, market, user_addr,
	is_long, is_increase, size_delta::text, collateral_delta::text,
	reference_price::text, execution_price::text, price_impact::text,
	trading_fee::text, borrow_fee::text, funding_fee::text, closed, executed_at`

// ListTrades returns the execution log of a position, oldest first.
func (s *TradeStore) ListTrades(ctx context.Context, positionKey common.Hash) ([]domain.Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE position_key = $1 ORDER BY executed_at, id`,
		positionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", positionKey.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t                            domain.Trade
			reqKey, posKey, market, user []byte
			n                            [8]string
		)
		if err := rows.Scan(
			&t.ID, &reqKey, &posKey, &market, &user,
			&t.IsLong, &t.IsIncrease, &n[0], &n[1],
			&n[2], &n[3], &n[4],
			&n[5], &n[6], &n[7], &t.Closed, &t.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}

		var d decoder
		t.RequestKey = hashOf(reqKey)
		t.PositionKey = hashOf(posKey)
		t.Market = hashOf(market)
		t.User = addressOf(user)
		t.SizeDelta = d.num(n[0])
		t.CollateralDelta = d.num(n[1])
		t.ReferencePrice = d.num(n[2])
		t.ExecutionPrice = d.num(n[3])
		t.PriceImpact = d.signed(n[4])
		t.TradingFee = d.num(n[5])
		t.BorrowFee = d.num(n[6])
		t.FundingFee = d.num(n[7])
		t.ExecutedAt = t.ExecutedAt.UTC()
		if d.err != nil {
			return nil, fmt.Errorf("postgres: scan trade %s: %w", t.ID, d.err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
