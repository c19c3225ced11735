// Package impact prices the effect of a trade on market skew. Impact follows
// a power law over the absolute long/short open-interest skew before and
// after the trade and is clamped to a fixed share of the reference price.
package impact

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

var (
	maxImpactNumerator   = uint256.NewInt(33)
	maxImpactDenominator = uint256.NewInt(100)
)

// OpenInterestReader returns the aggregate USD open interest of an index
// token on one side.
type OpenInterestReader interface {
	OpenInterestUsd(ctx context.Context, indexToken common.Address, isLong bool) (*uint256.Int, error)
}

// MarketReader returns the market snapshot holding the impact parameters.
type MarketReader interface {
	Market(ctx context.Context, key common.Hash) (domain.Market, error)
}

// Engine computes signed price impact from live open interest.
type Engine struct {
	markets  MarketReader
	interest OpenInterestReader
}

// NewEngine creates an Engine.
func NewEngine(markets MarketReader, interest OpenInterestReader) *Engine {
	return &Engine{markets: markets, interest: interest}
}

// CalculateImpact returns the signed (int256) impact of req on the market at
// referencePrice, in price units.
func (e *Engine) CalculateImpact(ctx context.Context, marketKey common.Hash, req domain.PositionRequest, referencePrice *uint256.Int) (*uint256.Int, error) {
	if referencePrice == nil || referencePrice.IsZero() || marketKey == (common.Hash{}) || req.User == (common.Address{}) {
		return nil, domain.ErrInvalidInput
	}

	m, err := e.markets.Market(ctx, marketKey)
	if err != nil {
		return nil, fmt.Errorf("impact: market %s: %w", marketKey.Hex(), err)
	}
	longUsd, err := e.interest.OpenInterestUsd(ctx, req.IndexToken, true)
	if err != nil {
		return nil, fmt.Errorf("impact: long open interest: %w", err)
	}
	shortUsd, err := e.interest.OpenInterestUsd(ctx, req.IndexToken, false)
	if err != nil {
		return nil, fmt.Errorf("impact: short open interest: %w", err)
	}

	sizeDeltaUsd, err := fixedpoint.Mul(fixedpoint.OrZero(req.SizeDelta), referencePrice)
	if err != nil {
		return nil, err
	}

	return Calculate(Params{
		LongOpenInterestUsd:  longUsd,
		ShortOpenInterestUsd: shortUsd,
		SizeDeltaUsd:         sizeDeltaUsd,
		IsLong:               req.IsLong,
		Exponent:             m.PriceImpactExponent,
		Factor:               m.PriceImpactFactor,
		ReferencePrice:       referencePrice,
	})
}

// Params are the inputs of the impact model.
type Params struct {
	LongOpenInterestUsd  *uint256.Int
	ShortOpenInterestUsd *uint256.Int
	SizeDeltaUsd         *uint256.Int
	IsLong               bool
	Exponent             *uint256.Int
	Factor               *uint256.Int
	ReferencePrice       *uint256.Int
}

// Calculate evaluates
//
//	impact = factor * (|skewBefore|^exponent - |skewAfter|^exponent)
//
// clamped to ±33% of the reference price. Long requests push skew up and
// short requests push it down whether the trade increases or decreases a
// position.
func Calculate(p Params) (*uint256.Int, error) {
	exponent := fixedpoint.OrZero(p.Exponent)
	if exponent.IsZero() || p.ReferencePrice == nil || p.ReferencePrice.IsZero() {
		return nil, domain.ErrInvalidInput
	}

	before, err := fixedpoint.SignedDiff(fixedpoint.OrZero(p.LongOpenInterestUsd), fixedpoint.OrZero(p.ShortOpenInterestUsd))
	if err != nil {
		return nil, err
	}
	delta, err := fixedpoint.NewSigned(fixedpoint.OrZero(p.SizeDeltaUsd), false)
	if err != nil {
		return nil, err
	}
	var after *uint256.Int
	if p.IsLong {
		after, err = fixedpoint.SignedAdd(before, delta)
	} else {
		after, err = fixedpoint.SignedSub(before, delta)
	}
	if err != nil {
		return nil, err
	}

	a, err := fixedpoint.Pow(fixedpoint.Abs(before), exponent)
	if err != nil {
		return nil, fmt.Errorf("impact: skew before: %w", err)
	}
	b, err := fixedpoint.Pow(fixedpoint.Abs(after), exponent)
	if err != nil {
		return nil, fmt.Errorf("impact: skew after: %w", err)
	}

	negative := b.Gt(a)
	var diff *uint256.Int
	if negative {
		diff = new(uint256.Int).Sub(b, a)
	} else {
		diff = new(uint256.Int).Sub(a, b)
	}
	magnitude, err := fixedpoint.Mul(fixedpoint.OrZero(p.Factor), diff)
	if err != nil {
		return nil, err
	}

	limit, err := MaxImpact(p.ReferencePrice)
	if err != nil {
		return nil, err
	}
	magnitude = fixedpoint.Min(magnitude, limit)

	return fixedpoint.NewSigned(magnitude, negative)
}

// MaxImpact returns the largest impact magnitude allowed at price.
func MaxImpact(price *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.MulDiv(price, maxImpactNumerator, maxImpactDenominator)
}

// ApplyImpact returns the execution price for a signed impact.
func ApplyImpact(referencePrice, signedImpact *uint256.Int) (*uint256.Int, error) {
	if referencePrice == nil || referencePrice.IsZero() {
		return nil, domain.ErrInvalidInput
	}
	x := fixedpoint.OrZero(signedImpact)
	if !fixedpoint.IsNegative(x) {
		return fixedpoint.Add(referencePrice, x)
	}
	p, err := fixedpoint.Sub(referencePrice, fixedpoint.Abs(x))
	if err != nil {
		return nil, fmt.Errorf("impact: execution price below zero: %w", err)
	}
	return p, nil
}

// CheckSlippage fails with ErrSlippageExceeded when 1 - executionPrice /
// referencePrice exceeds maxBps basis points. Only degradation in that
// direction is measured, so callers orient the arguments so that a worse
// fill is positive.
func CheckSlippage(executionPrice, referencePrice *uint256.Int, maxBps uint64) error {
	if referencePrice == nil || referencePrice.IsZero() {
		return domain.ErrInvalidInput
	}
	ratio, err := fixedpoint.Div(fixedpoint.OrZero(executionPrice), referencePrice)
	if err != nil {
		return err
	}
	if !ratio.Lt(fixedpoint.Unit) {
		return nil
	}
	slippage := new(uint256.Int).Sub(fixedpoint.Unit, ratio)
	if slippage.Gt(fixedpoint.Bps(maxBps)) {
		return fmt.Errorf("%w: %s > %d bps", domain.ErrSlippageExceeded, slippage.Dec(), maxBps)
	}
	return nil
}
