// Package memory provides mutex-guarded in-process implementations of the
// storage collaborators. It backs the memory storage mode and the execution
// tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

type pair struct {
	index      common.Address
	collateral common.Address
}

type requestSlot struct {
	isLimit bool
	key     common.Hash
}

type sequence struct {
	market common.Hash
	isLong bool
}

// data is the full state of the store. Its methods assume the caller holds
// the store mutex.
type data struct {
	markets   map[common.Hash]domain.Market
	pairs     map[pair]common.Hash
	requests  map[requestSlot]domain.PositionRequest
	positions map[common.Hash]domain.Position
	sequences map[sequence]uint64
	trades    []domain.Trade
}

func newData() *data {
	return &data{
		markets:   make(map[common.Hash]domain.Market),
		pairs:     make(map[pair]common.Hash),
		requests:  make(map[requestSlot]domain.PositionRequest),
		positions: make(map[common.Hash]domain.Position),
		sequences: make(map[sequence]uint64),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.markets {
		c.markets[k] = v.Clone()
	}
	for k, v := range d.pairs {
		c.pairs[k] = v
	}
	for k, v := range d.requests {
		c.requests[k] = v.Clone()
	}
	for k, v := range d.positions {
		c.positions[k] = v.Clone()
	}
	for k, v := range d.sequences {
		c.sequences[k] = v
	}
	c.trades = append([]domain.Trade(nil), d.trades...)
	return c
}

// Store holds markets, requests, positions and the trade log in memory.
type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
}

var (
	_ domain.MarketRepository = (*Store)(nil)
	_ domain.TradeStore       = (*Store)(nil)
	_ domain.Transactor       = (*Store)(nil)
)

// New creates an empty Store. A nil clock defaults to time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{d: newData(), now: now}
}

// WithinTx runs fn with exclusive access to the store. If fn returns an
// error every write it made is discarded.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(ctx, view{d: s.d, now: s.now}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

func (s *Store) locked() (view, func()) {
	s.mu.Lock()
	return view{d: s.d, now: s.now}, s.mu.Unlock
}

// GetMarket implements domain.MarketRepository.
func (s *Store) GetMarket(ctx context.Context, key common.Hash) (domain.Market, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.GetMarket(ctx, key)
}

// SaveMarket implements domain.MarketRepository.
func (s *Store) SaveMarket(ctx context.Context, m domain.Market) error {
	v, unlock := s.locked()
	defer unlock()
	return v.SaveMarket(ctx, m)
}

// MarketsByIndexToken implements domain.MarketRepository.
func (s *Store) MarketsByIndexToken(ctx context.Context, indexToken common.Address) ([]domain.Market, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.MarketsByIndexToken(ctx, indexToken)
}

// MarketKeyForPair implements domain.MarketRepository.
func (s *Store) MarketKeyForPair(ctx context.Context, indexToken, collateralToken common.Address) (common.Hash, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.MarketKeyForPair(ctx, indexToken, collateralToken)
}

// SubmitRequest implements domain.TradeStore.
func (s *Store) SubmitRequest(ctx context.Context, req domain.PositionRequest) error {
	v, unlock := s.locked()
	defer unlock()
	return v.SubmitRequest(ctx, req)
}

// PendingRequest implements domain.TradeStore.
func (s *Store) PendingRequest(ctx context.Context, isLimit bool, key common.Hash) (domain.PositionRequest, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.PendingRequest(ctx, isLimit, key)
}

// ListPendingRequests implements domain.TradeStore.
func (s *Store) ListPendingRequests(ctx context.Context, isLimit bool, after domain.PendingCursor, limit int) ([]domain.PositionRequest, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.ListPendingRequests(ctx, isLimit, after, limit)
}

// CancelRequest implements domain.TradeStore.
func (s *Store) CancelRequest(ctx context.Context, key common.Hash, isLimit bool) error {
	v, unlock := s.locked()
	defer unlock()
	return v.CancelRequest(ctx, key, isLimit)
}

// OpenPosition implements domain.TradeStore.
func (s *Store) OpenPosition(ctx context.Context, key common.Hash) (domain.Position, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.OpenPosition(ctx, key)
}

// NextPositionIndex implements domain.TradeStore.
func (s *Store) NextPositionIndex(ctx context.Context, marketKey common.Hash, isLong bool) (uint64, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.NextPositionIndex(ctx, marketKey, isLong)
}

// ExecuteTrade implements domain.TradeStore.
func (s *Store) ExecuteTrade(ctx context.Context, params domain.TradeParams) (domain.Position, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.ExecuteTrade(ctx, params)
}

// ListTrades implements domain.TradeStore.
func (s *Store) ListTrades(ctx context.Context, positionKey common.Hash) ([]domain.Trade, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.ListTrades(ctx, positionKey)
}

// view implements the repositories directly over data without locking. It
// is what a transaction sees.
type view struct {
	d   *data
	now func() time.Time
}

func (v view) Markets() domain.MarketRepository { return v }
func (v view) Trades() domain.TradeStore        { return v }

func (v view) GetMarket(_ context.Context, key common.Hash) (domain.Market, error) {
	m, ok := v.d.markets[key]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (v view) SaveMarket(_ context.Context, m domain.Market) error {
	v.d.markets[m.Key] = m.Clone()
	v.d.pairs[pair{index: m.IndexToken, collateral: m.CollateralToken}] = m.Key
	return nil
}

func (v view) MarketsByIndexToken(_ context.Context, indexToken common.Address) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range v.d.markets {
		if m.IndexToken == indexToken {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Cmp(out[j].Key) < 0 })
	return out, nil
}

func (v view) MarketKeyForPair(_ context.Context, indexToken, collateralToken common.Address) (common.Hash, error) {
	key, ok := v.d.pairs[pair{index: indexToken, collateral: collateralToken}]
	if !ok {
		return common.Hash{}, domain.ErrNotFound
	}
	return key, nil
}

func (v view) SubmitRequest(_ context.Context, req domain.PositionRequest) error {
	for _, isLimit := range []bool{false, true} {
		if _, ok := v.d.requests[requestSlot{isLimit: isLimit, key: req.Key}]; ok {
			return domain.ErrAlreadyExists
		}
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = v.now()
	}
	v.d.requests[requestSlot{isLimit: req.IsLimit, key: req.Key}] = req.Clone()
	return nil
}

func (v view) PendingRequest(_ context.Context, isLimit bool, key common.Hash) (domain.PositionRequest, error) {
	req, ok := v.d.requests[requestSlot{isLimit: isLimit, key: key}]
	if !ok {
		return domain.PositionRequest{}, domain.ErrNotFound
	}
	return req.Clone(), nil
}

func (v view) ListPendingRequests(_ context.Context, isLimit bool, after domain.PendingCursor, limit int) ([]domain.PositionRequest, error) {
	var out []domain.PositionRequest
	for slot, req := range v.d.requests {
		if slot.isLimit != isLimit {
			continue
		}
		if !after.IsZero() && !after.Before(req.Cursor()) {
			continue
		}
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cursor().Before(out[j].Cursor())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v view) CancelRequest(_ context.Context, key common.Hash, isLimit bool) error {
	slot := requestSlot{isLimit: isLimit, key: key}
	if _, ok := v.d.requests[slot]; !ok {
		return domain.ErrNotFound
	}
	delete(v.d.requests, slot)
	return nil
}

func (v view) OpenPosition(_ context.Context, key common.Hash) (domain.Position, error) {
	pos, ok := v.d.positions[key]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos.Clone(), nil
}

func (v view) NextPositionIndex(_ context.Context, marketKey common.Hash, isLong bool) (uint64, error) {
	return v.d.sequences[sequence{market: marketKey, isLong: isLong}], nil
}

func (v view) ExecuteTrade(_ context.Context, p domain.TradeParams) (domain.Position, error) {
	slot := requestSlot{isLimit: p.Request.IsLimit, key: p.Request.Key}
	if _, ok := v.d.requests[slot]; !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	delete(v.d.requests, slot)

	pos := p.Position.Clone()
	if p.Closed {
		delete(v.d.positions, pos.Key)
	} else {
		v.d.positions[pos.Key] = pos.Clone()
	}
	if p.IsNew {
		v.d.sequences[sequence{market: pos.Market, isLong: pos.IsLong}]++
	}

	v.d.trades = append(v.d.trades, tradeFromParams(uuid.NewString(), p))
	return pos, nil
}

func (v view) ListTrades(_ context.Context, positionKey common.Hash) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range v.d.trades {
		if t.PositionKey == positionKey {
			out = append(out, t)
		}
	}
	return out, nil
}

func tradeFromParams(id string, p domain.TradeParams) domain.Trade {
	req := p.Request.Clone()
	return domain.Trade{
		ID:              id,
		RequestKey:      req.Key,
		PositionKey:     p.Position.Key,
		Market:          p.Position.Market,
		User:            req.User,
		IsLong:          req.IsLong,
		IsIncrease:      req.IsIncrease,
		SizeDelta:       req.SizeDelta,
		CollateralDelta: req.CollateralDelta,
		ReferencePrice:  clone(p.ReferencePrice),
		ExecutionPrice:  clone(p.ExecutionPrice),
		PriceImpact:     req.PriceImpact,
		TradingFee:      clone(p.TradingFee),
		BorrowFee:       clone(p.BorrowFee),
		FundingFee:      clone(p.FundingFee),
		Closed:          p.Closed,
		ExecutedAt:      p.ExecutedAt,
	}
}
