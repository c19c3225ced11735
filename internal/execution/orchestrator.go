// Package execution turns pending position requests into executed position
// updates. The Orchestrator runs one request through the state machine
// Pending -> {Executed, Cancelled, Rejected}; the batch driver and Keeper run
// many requests with per-key isolation.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpcore/internal/borrowing"
	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
	"github.com/alanyoungcy/perpcore/internal/funding"
	"github.com/alanyoungcy/perpcore/internal/impact"
	"github.com/alanyoungcy/perpcore/internal/market"
	"github.com/alanyoungcy/perpcore/internal/valuation"
)

const (
	// EventChannel is the pub/sub channel execution events are published on.
	EventChannel = "executions"
	// EventStream is the durable stream execution events are appended to.
	EventStream = "executions:log"
)

// Recorder receives execution measurements. internal/metrics implements it.
type Recorder interface {
	ObserveExecution(status domain.RequestStatus, elapsed time.Duration)
	ObserveImpact(ratio float64)
	ObserveBatch(size int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveExecution(domain.RequestStatus, time.Duration) {}
func (nopRecorder) ObserveImpact(float64)                                {}
func (nopRecorder) ObserveBatch(int)                                     {}

// Config holds the trading parameters applied at execution time.
type Config struct {
	TradingFeeRate *uint256.Int
	Leverage       valuation.LeverageBounds
	// MaxSlippageBps disables the slippage guard when zero.
	MaxSlippageBps uint64
}

// DefaultConfig returns a zero fee, the [1x, 50x] leverage range and no
// slippage guard.
func DefaultConfig() Config {
	return Config{
		TradingFeeRate: new(uint256.Int),
		Leverage:       valuation.DefaultLeverageBounds(),
	}
}

// Outcome describes how one execution attempt ended.
type Outcome struct {
	Status   domain.RequestStatus
	Request  domain.PositionRequest
	Position domain.Position
	Closed   bool

	ReferencePrice *uint256.Int
	ExecutionPrice *uint256.Int
	TradingFee     *uint256.Int
	BorrowFee      *uint256.Int
	FundingFee     *uint256.Int
}

// Orchestrator executes pending requests against the storage collaborators.
type Orchestrator struct {
	tx       domain.Transactor
	prices   domain.PriceFeed
	events   domain.EventPublisher
	archive  domain.PositionArchiver
	recorder Recorder
	cfg      Config
	now      func() time.Time
	marshal  func(any) ([]byte, error)
	logger   *slog.Logger
}

// Option configures optional collaborators of an Orchestrator.
type Option func(*Orchestrator)

// WithEvents publishes an event for every executed request.
func WithEvents(p domain.EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithArchive hands closed positions to a.
func WithArchive(a domain.PositionArchiver) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithRecorder reports execution metrics to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(tx domain.Transactor, prices domain.PriceFeed, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TradingFeeRate == nil {
		cfg.TradingFeeRate = new(uint256.Int)
	}
	if cfg.Leverage.Min == nil || cfg.Leverage.Max == nil {
		cfg.Leverage = valuation.DefaultLeverageBounds()
	}
	o := &Orchestrator{
		tx:       tx,
		prices:   prices,
		recorder: nopRecorder{},
		cfg:      cfg,
		now:      time.Now,
		marshal:  json.Marshal,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the pending request stored under key. A request whose price is
// unavailable is cancelled and reported with a nil error. Any returned error
// leaves storage unchanged; Outcome.Status then tells whether the request
// stays pending or was rejected, as decided by domain.Classify.
func (o *Orchestrator) Execute(ctx context.Context, key common.Hash, isLimit bool) (Outcome, error) {
	start := o.now()
	out, err := o.execute(ctx, key, isLimit)
	if err != nil {
		out.Status = domain.Classify(err)
	}
	o.recorder.ObserveExecution(out.Status, o.now().Sub(start))

	if err != nil {
		o.logger.DebugContext(ctx, "execution failed",
			slog.String("request", key.Hex()),
			slog.String("status", string(out.Status)),
			slog.String("error", err.Error()),
		)
		return out, err
	}

	switch out.Status {
	case domain.RequestStatusExecuted:
		o.afterExecute(ctx, out)
	case domain.RequestStatusCancelled:
		o.logger.InfoContext(ctx, "request cancelled, no reference price",
			slog.String("request", key.Hex()),
			slog.Uint64("block", out.Request.RequestBlock),
		)
	}
	return out, nil
}

// Discard removes a rejected request so it is not polled again. A request
// that is already gone is not an error.
func (o *Orchestrator) Discard(ctx context.Context, key common.Hash, isLimit bool) error {
	err := o.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Trades().CancelRequest(ctx, key, isLimit)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("execution: discard %s: %w", key.Hex(), err)
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, key common.Hash, isLimit bool) (Outcome, error) {
	var out Outcome
	err := o.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = o.executeTx(ctx, tx, key, isLimit)
		return err
	})
	return out, err
}

func (o *Orchestrator) executeTx(ctx context.Context, tx domain.Tx, key common.Hash, isLimit bool) (Outcome, error) {
	now := o.now().UTC()
	trades := tx.Trades()
	markets := market.NewService(tx.Markets(), func() time.Time { return now }, o.logger)

	// 1. Look up the request.
	req, err := trades.PendingRequest(ctx, isLimit, key)
	if errors.Is(err, domain.ErrNotFound) {
		return Outcome{}, fmt.Errorf("%w: %s", domain.ErrRequestNotFound, key.Hex())
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("execution: pending request: %w", err)
	}
	out := Outcome{Request: req}

	marketKey, err := markets.MarketForPair(ctx, req.IndexToken, req.CollateralToken)
	if errors.Is(err, domain.ErrNotFound) {
		return out, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err != nil {
		return out, fmt.Errorf("execution: %w", err)
	}

	// 2. Reference price at the request block; none means the pricing
	// window expired.
	refPrice, err := o.prices.ReferencePrice(ctx, marketKey, req.RequestBlock)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return out, fmt.Errorf("execution: reference price: %w", err)
	}
	if refPrice == nil || refPrice.IsZero() {
		if err := trades.CancelRequest(ctx, req.Key, req.IsLimit); err != nil {
			return out, fmt.Errorf("execution: cancel request: %w", err)
		}
		out.Status = domain.RequestStatusCancelled
		return out, nil
	}
	out.ReferencePrice = refPrice

	// 3. Limit orders only fill at or better than the acceptable price.
	if req.IsLimit {
		if err := checkLimit(req, refPrice); err != nil {
			return out, err
		}
	}

	// 4. Impact and execution price.
	signedImpact, err := impact.NewEngine(markets, markets).CalculateImpact(ctx, marketKey, req, refPrice)
	if err != nil {
		return out, fmt.Errorf("execution: price impact: %w", err)
	}
	execPrice, err := impact.ApplyImpact(refPrice, signedImpact)
	if err != nil {
		return out, fmt.Errorf("execution: apply impact: %w", err)
	}
	req.PriceImpact = signedImpact
	out.Request = req
	out.ExecutionPrice = execPrice

	if o.cfg.MaxSlippageBps > 0 {
		if err := o.checkSlippage(req, refPrice, execPrice); err != nil {
			return out, err
		}
	}

	m, err := markets.Market(ctx, marketKey)
	if err != nil {
		return out, fmt.Errorf("execution: %w", err)
	}
	posKey := valuation.PositionKey(marketKey, req.User, req.IsLong)
	existing, err := trades.OpenPosition(ctx, posKey)
	hasPosition := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return out, fmt.Errorf("execution: open position: %w", err)
	}

	// 5 and 6. Build or mutate the position.
	var result fill
	if req.IsIncrease {
		result, err = o.increase(ctx, trades, markets, m, req, existing, hasPosition, execPrice, now)
	} else {
		if !hasPosition || fixedpoint.OrZero(existing.PositionSize).Lt(fixedpoint.OrZero(req.SizeDelta)) {
			return out, fmt.Errorf("%w: have %s, want %s", domain.ErrInsufficientPositionSize,
				fixedpoint.OrZero(existing.PositionSize).Dec(), fixedpoint.OrZero(req.SizeDelta).Dec())
		}
		result, err = o.decrease(ctx, markets, m, req, existing, execPrice, now)
	}
	if err != nil {
		return out, err
	}
	req.CollateralDelta = result.collateralDelta
	out.Request = req

	pos, err := trades.ExecuteTrade(ctx, domain.TradeParams{
		Request:        req,
		Position:       result.position,
		Closed:         result.closed,
		IsNew:          result.isNew,
		ReferencePrice: refPrice,
		ExecutionPrice: execPrice,
		SizeDeltaUsd:   result.sizeDeltaUsd,
		TradingFee:     result.tradingFee,
		BorrowFee:      result.borrowFee,
		FundingFee:     result.fundingFee,
		ExecutedAt:     now,
	})
	if err != nil {
		return out, fmt.Errorf("execution: execute trade: %w", err)
	}

	// 7. Market updates, in order, inside the same transaction.
	if err := markets.UpdateOpenInterest(ctx, marketKey, domain.OpenInterestDelta{
		CollateralDelta: result.collateralDelta,
		SizeDelta:       fixedpoint.OrZero(req.SizeDelta),
		SizeDeltaUsd:    result.sizeDeltaUsd,
		IsLong:          req.IsLong,
		IsIncrease:      req.IsIncrease,
	}); err != nil {
		return out, fmt.Errorf("execution: open interest: %w", err)
	}
	if err := markets.UpdateFundingRate(ctx, marketKey, result.sizeDeltaUsd, req.IsLong); err != nil {
		return out, fmt.Errorf("execution: funding rate: %w", err)
	}
	if err := markets.UpdateBorrowingRate(ctx, marketKey, req.IsLong); err != nil {
		return out, fmt.Errorf("execution: borrowing rate: %w", err)
	}
	if err := markets.UpdateTotalWeightedAverageEntryPrice(ctx, marketKey, execPrice, result.sizeDeltaUsd, req.IsLong, req.IsIncrease); err != nil {
		return out, fmt.Errorf("execution: average entry price: %w", err)
	}

	out.Status = domain.RequestStatusExecuted
	out.Position = pos
	out.Closed = result.closed
	out.TradingFee = result.tradingFee
	out.BorrowFee = result.borrowFee
	out.FundingFee = result.fundingFee
	return out, nil
}

// fill is the position state produced by one request.
type fill struct {
	position        domain.Position
	isNew           bool
	closed          bool
	collateralDelta *uint256.Int
	sizeDeltaUsd    *uint256.Int
	tradingFee      *uint256.Int
	borrowFee       *uint256.Int
	fundingFee      *uint256.Int
}

func (o *Orchestrator) increase(
	ctx context.Context,
	trades domain.TradeStore,
	markets *market.Service,
	m domain.Market,
	req domain.PositionRequest,
	pos domain.Position,
	hasPosition bool,
	execPrice *uint256.Int,
	now time.Time,
) (fill, error) {
	f := fill{
		collateralDelta: fixedpoint.OrZero(req.CollateralDelta).Clone(),
		borrowFee:       new(uint256.Int),
		fundingFee:      new(uint256.Int),
	}
	var err error

	if !hasPosition {
		idx, err := trades.NextPositionIndex(ctx, m.Key, req.IsLong)
		if err != nil {
			return fill{}, fmt.Errorf("execution: next position index: %w", err)
		}
		if pos, err = valuation.BuildPosition(req, execPrice, idx, m, now); err != nil {
			return fill{}, fmt.Errorf("execution: build position: %w", err)
		}
		f.isNew = true
	} else {
		// Realise what accrued since the last touch, then re-snapshot so the
		// added size does not inherit past accrual.
		accrued, err := borrowing.NewEngine(markets, func() time.Time { return now }).FeesSinceLastUpdate(ctx, pos)
		if err != nil {
			return fill{}, fmt.Errorf("execution: borrow fees: %w", err)
		}
		if pos.Borrow.FeesOwed, err = fixedpoint.Add(fixedpoint.OrZero(pos.Borrow.FeesOwed), accrued); err != nil {
			return fill{}, err
		}
		funded, err := funding.FeesSinceLastUpdate(m, pos, now)
		if err != nil {
			return fill{}, fmt.Errorf("execution: funding fees: %w", err)
		}
		if pos.Funding.FeesOwed, err = fixedpoint.Add(fixedpoint.OrZero(pos.Funding.FeesOwed), funded); err != nil {
			return fill{}, err
		}
		snap, err := valuation.TakeSnapshot(m, now)
		if err != nil {
			return fill{}, err
		}
		snap.Apply(&pos)

		if pos.PositionSize, err = fixedpoint.Add(fixedpoint.OrZero(pos.PositionSize), fixedpoint.OrZero(req.SizeDelta)); err != nil {
			return fill{}, err
		}
		if pos.CollateralAmount, err = fixedpoint.Add(fixedpoint.OrZero(pos.CollateralAmount), fixedpoint.OrZero(req.CollateralDelta)); err != nil {
			return fill{}, err
		}
		pos.AveragePricePerToken = valuation.BlendedAveragePrice(pos.AveragePricePerToken, execPrice)
	}

	if err := o.cfg.Leverage.ValidateLeverage(pos.PositionSize, pos.CollateralAmount); err != nil {
		return fill{}, err
	}

	if f.tradingFee, err = valuation.TradingFee(req.SizeDelta, o.cfg.TradingFeeRate); err != nil {
		return fill{}, err
	}
	if pos.RealisedPnl, err = chargeFees(pos.RealisedPnl, execPrice, f.tradingFee); err != nil {
		return fill{}, err
	}
	if f.sizeDeltaUsd, err = fixedpoint.Mul(fixedpoint.OrZero(req.SizeDelta), execPrice); err != nil {
		return fill{}, err
	}
	f.position = pos
	return f, nil
}

func (o *Orchestrator) decrease(
	ctx context.Context,
	markets *market.Service,
	m domain.Market,
	req domain.PositionRequest,
	pos domain.Position,
	execPrice *uint256.Int,
	now time.Time,
) (fill, error) {
	var (
		f   fill
		err error
	)
	size := fixedpoint.OrZero(pos.PositionSize)
	sizeDelta := fixedpoint.OrZero(req.SizeDelta)
	collateral := fixedpoint.OrZero(pos.CollateralAmount)
	collateralDelta := fixedpoint.OrZero(req.CollateralDelta)
	if collateralDelta.Gt(collateral) {
		return fill{}, fmt.Errorf("%w: collateral delta %s exceeds collateral %s",
			domain.ErrInvalidInput, collateralDelta.Dec(), collateral.Dec())
	}
	f.closed = sizeDelta.Eq(size)
	if f.closed {
		// A close releases all remaining collateral.
		collateralDelta = collateral
	}
	f.collateralDelta = collateralDelta.Clone()

	// Open interest leaves at the price it entered with.
	if f.sizeDeltaUsd, err = fixedpoint.Mul(sizeDelta, fixedpoint.OrZero(pos.AveragePricePerToken)); err != nil {
		return fill{}, err
	}

	borrow := borrowing.NewEngine(markets, func() time.Time { return now })
	borrowOwed, err := borrow.TotalFeesOwed(ctx, pos)
	if err != nil {
		return fill{}, fmt.Errorf("execution: borrow fees: %w", err)
	}
	fundingOwed, err := funding.TotalFeesOwed(m, pos, now)
	if err != nil {
		return fill{}, fmt.Errorf("execution: funding fees: %w", err)
	}
	if f.closed {
		f.borrowFee, f.fundingFee = borrowOwed, fundingOwed
	} else {
		if f.borrowFee, err = borrow.FeeForSizeChange(ctx, pos, collateralDelta); err != nil {
			return fill{}, fmt.Errorf("execution: borrow fees: %w", err)
		}
		if f.fundingFee, err = funding.FeeForSizeChange(m, pos, collateralDelta, now); err != nil {
			return fill{}, fmt.Errorf("execution: funding fees: %w", err)
		}
	}
	pos.Borrow.FeesOwed = fixedpoint.SaturatingSub(borrowOwed, f.borrowFee)
	pos.Funding.FeesOwed = fixedpoint.SaturatingSub(fundingOwed, f.fundingFee)
	snap, err := valuation.TakeSnapshot(m, now)
	if err != nil {
		return fill{}, err
	}
	snap.Apply(&pos)

	if f.tradingFee, err = valuation.TradingFee(sizeDelta, o.cfg.TradingFeeRate); err != nil {
		return fill{}, err
	}

	pnl, err := grossPnl(pos.IsLong, fixedpoint.OrZero(pos.AveragePricePerToken), execPrice, sizeDelta)
	if err != nil {
		return fill{}, err
	}
	if pnl, err = fixedpoint.SignedAdd(fixedpoint.OrZero(pos.RealisedPnl), pnl); err != nil {
		return fill{}, err
	}
	if pos.RealisedPnl, err = chargeFees(pnl, execPrice, f.tradingFee, f.borrowFee, f.fundingFee); err != nil {
		return fill{}, err
	}

	pos.PositionSize = new(uint256.Int).Sub(size, sizeDelta)
	pos.CollateralAmount = new(uint256.Int).Sub(collateral, collateralDelta)
	if !f.closed {
		if err := o.cfg.Leverage.ValidateLeverage(pos.PositionSize, pos.CollateralAmount); err != nil {
			return fill{}, err
		}
	}
	f.position = pos
	return f, nil
}

// grossPnl is (exit - entry) * size for longs and the reverse for shorts, as
// a signed value.
func grossPnl(isLong bool, entry, exit, size *uint256.Int) (*uint256.Int, error) {
	move, err := fixedpoint.SignedDiff(exit, entry)
	if err != nil {
		return nil, err
	}
	negative := fixedpoint.IsNegative(move)
	if !isLong {
		negative = !negative
	}
	magnitude, err := fixedpoint.Mul(fixedpoint.Abs(move), size)
	if err != nil {
		return nil, err
	}
	return fixedpoint.NewSigned(magnitude, negative && !magnitude.IsZero())
}

// chargeFees subtracts token-denominated fees, valued at price, from a signed
// PnL.
func chargeFees(pnl, price *uint256.Int, fees ...*uint256.Int) (*uint256.Int, error) {
	total := new(uint256.Int)
	var err error
	for _, fee := range fees {
		if total, err = fixedpoint.Add(total, fixedpoint.OrZero(fee)); err != nil {
			return nil, err
		}
	}
	if total.IsZero() {
		return fixedpoint.OrZero(pnl), nil
	}
	usd, err := fixedpoint.Mul(total, price)
	if err != nil {
		return nil, err
	}
	signedUsd, err := fixedpoint.NewSigned(usd, false)
	if err != nil {
		return nil, err
	}
	return fixedpoint.SignedSub(fixedpoint.OrZero(pnl), signedUsd)
}

func checkLimit(req domain.PositionRequest, refPrice *uint256.Int) error {
	acceptable := fixedpoint.OrZero(req.AcceptablePrice)
	if req.IsLong && refPrice.Gt(acceptable) {
		return fmt.Errorf("%w: long at %s above %s", domain.ErrLimitNotMet, refPrice.Dec(), acceptable.Dec())
	}
	if !req.IsLong && refPrice.Lt(acceptable) {
		return fmt.Errorf("%w: short at %s below %s", domain.ErrLimitNotMet, refPrice.Dec(), acceptable.Dec())
	}
	return nil
}

// checkSlippage orients the comparison so that paying more on a buy, or
// receiving less on a sell, counts as slippage.
func (o *Orchestrator) checkSlippage(req domain.PositionRequest, refPrice, execPrice *uint256.Int) error {
	if req.IsLong == req.IsIncrease {
		return impact.CheckSlippage(refPrice, execPrice, o.cfg.MaxSlippageBps)
	}
	return impact.CheckSlippage(execPrice, refPrice, o.cfg.MaxSlippageBps)
}

func (o *Orchestrator) afterExecute(ctx context.Context, out Outcome) {
	req := out.Request

	if out.ReferencePrice != nil && !out.ReferencePrice.IsZero() {
		ratio := decimal.NewFromBigInt(fixedpoint.Abs(fixedpoint.OrZero(req.PriceImpact)).ToBig(), 0).
			Div(decimal.NewFromBigInt(out.ReferencePrice.ToBig(), 0))
		o.recorder.ObserveImpact(ratio.InexactFloat64())
	}

	o.logger.InfoContext(ctx, "request executed",
		slog.String("request", req.Key.Hex()),
		slog.String("position", out.Position.Key.Hex()),
		slog.Bool("is_long", req.IsLong),
		slog.Bool("is_increase", req.IsIncrease),
		slog.String("execution_price", out.ExecutionPrice.Dec()),
		slog.String("price_impact", fixedpoint.FormatSigned(req.PriceImpact)),
		slog.Bool("closed", out.Closed),
	)

	if o.events != nil {
		o.publish(ctx, req, out)
	}

	if out.Closed && o.archive != nil {
		if err := o.archive.ArchivePosition(ctx, out.Position, o.now().UTC()); err != nil {
			o.logger.WarnContext(ctx, "archive closed position failed",
				slog.String("position", out.Position.Key.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// publish sends the execution event to the channel and the capped stream.
func (o *Orchestrator) publish(ctx context.Context, req domain.PositionRequest, out Outcome) {
	evt, err := o.marshal(map[string]any{
		"event":           "request_executed",
		"request":         req.Key.Hex(),
		"position":        out.Position.Key.Hex(),
		"user":            req.User.Hex(),
		"is_long":         req.IsLong,
		"is_increase":     req.IsIncrease,
		"size_delta":      fixedpoint.OrZero(req.SizeDelta).Dec(),
		"reference_price": out.ReferencePrice.Dec(),
		"execution_price": out.ExecutionPrice.Dec(),
		"price_impact":    fixedpoint.FormatSigned(req.PriceImpact),
		"closed":          out.Closed,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "marshal execution event failed",
			slog.String("request", req.Key.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := o.events.Publish(ctx, EventChannel, evt); err != nil {
		o.logger.WarnContext(ctx, "publish execution event failed",
			slog.String("request", req.Key.Hex()),
			slog.String("error", err.Error()),
		)
	}
	if err := o.events.StreamAppend(ctx, EventStream, evt); err != nil {
		o.logger.WarnContext(ctx, "append execution event failed",
			slog.String("request", req.Key.Hex()),
			slog.String("error", err.Error()),
		)
	}
}
