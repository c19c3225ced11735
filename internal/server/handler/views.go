package handler

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

// Amounts are rendered as base-10 strings of 18-decimal fixed point values.

func dec(x *uint256.Int) string { return fixedpoint.OrZero(x).Dec() }

type sideView struct {
	CumulativeBorrowFee string `json:"cumulative_borrow_fee"`
	BorrowingRate       string `json:"borrowing_rate"`
	CumulativeFunding   string `json:"cumulative_funding"`
	FundingRate         string `json:"funding_rate"`
	OpenInterestTokens  string `json:"open_interest_tokens"`
	OpenInterestUsd     string `json:"open_interest_usd"`
	Collateral          string `json:"collateral"`
	AverageEntryPrice   string `json:"average_entry_price"`
}

type marketView struct {
	Key                 string    `json:"key"`
	IndexToken          string    `json:"index_token"`
	CollateralToken     string    `json:"collateral_token"`
	Long                sideView  `json:"long"`
	Short               sideView  `json:"short"`
	PriceImpactExponent string    `json:"price_impact_exponent"`
	PriceImpactFactor   string    `json:"price_impact_factor"`
	BorrowingFactor     string    `json:"borrowing_factor"`
	FundingFactor       string    `json:"funding_factor"`
	LastBorrowUpdate    time.Time `json:"last_borrow_update"`
	LastFundingUpdate   time.Time `json:"last_funding_update"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func newMarketView(m domain.Market) marketView {
	side := func(isLong bool) sideView {
		oi := m.OpenInterest
		tokens, collateral := oi.ShortTokens, oi.ShortCollateral
		if isLong {
			tokens, collateral = oi.LongTokens, oi.LongCollateral
		}
		return sideView{
			CumulativeBorrowFee: dec(m.CumulativeBorrowFee(isLong)),
			BorrowingRate:       dec(m.BorrowingRate(isLong)),
			CumulativeFunding:   dec(m.CumulativeFunding(isLong)),
			FundingRate:         dec(m.FundingRate(isLong)),
			OpenInterestTokens:  dec(tokens),
			OpenInterestUsd:     dec(m.OpenInterestUsd(isLong)),
			Collateral:          dec(collateral),
			AverageEntryPrice:   dec(m.AverageEntryPrice(isLong)),
		}
	}
	return marketView{
		Key:                 m.Key.Hex(),
		IndexToken:          m.IndexToken.Hex(),
		CollateralToken:     m.CollateralToken.Hex(),
		Long:                side(true),
		Short:               side(false),
		PriceImpactExponent: dec(m.PriceImpactExponent),
		PriceImpactFactor:   dec(m.PriceImpactFactor),
		BorrowingFactor:     dec(m.BorrowingFactor),
		FundingFactor:       dec(m.FundingFactor),
		LastBorrowUpdate:    m.LastBorrowUpdate,
		LastFundingUpdate:   m.LastFundingUpdate,
		UpdatedAt:           m.UpdatedAt,
	}
}

type positionView struct {
	Key                  string    `json:"key"`
	Index                uint64    `json:"index"`
	Market               string    `json:"market"`
	User                 string    `json:"user"`
	IsLong               bool      `json:"is_long"`
	CollateralAmount     string    `json:"collateral_amount"`
	PositionSize         string    `json:"position_size"`
	AveragePricePerToken string    `json:"average_price_per_token"`
	RealisedPnl          string    `json:"realised_pnl"`
	BorrowFeesOwed       string    `json:"borrow_fees_owed"`
	FundingFeesOwed      string    `json:"funding_fees_owed"`
	EntryTimestamp       time.Time `json:"entry_timestamp"`
}

func newPositionView(p domain.Position) positionView {
	return positionView{
		Key:                  p.Key.Hex(),
		Index:                p.Index,
		Market:               p.Market.Hex(),
		User:                 p.User.Hex(),
		IsLong:               p.IsLong,
		CollateralAmount:     dec(p.CollateralAmount),
		PositionSize:         dec(p.PositionSize),
		AveragePricePerToken: dec(p.AveragePricePerToken),
		RealisedPnl:          fixedpoint.FormatSigned(p.RealisedPnl),
		BorrowFeesOwed:       dec(p.Borrow.FeesOwed),
		FundingFeesOwed:      dec(p.Funding.FeesOwed),
		EntryTimestamp:       p.EntryTimestamp,
	}
}

type tradeView struct {
	ID             string    `json:"id"`
	RequestKey     string    `json:"request_key"`
	IsIncrease     bool      `json:"is_increase"`
	SizeDelta      string    `json:"size_delta"`
	ExecutionPrice string    `json:"execution_price"`
	PriceImpact    string    `json:"price_impact"`
	TradingFee     string    `json:"trading_fee"`
	BorrowFee      string    `json:"borrow_fee"`
	FundingFee     string    `json:"funding_fee"`
	Closed         bool      `json:"closed"`
	ExecutedAt     time.Time `json:"executed_at"`
}

func newTradeView(t domain.Trade) tradeView {
	return tradeView{
		ID:             t.ID,
		RequestKey:     t.RequestKey.Hex(),
		IsIncrease:     t.IsIncrease,
		SizeDelta:      dec(t.SizeDelta),
		ExecutionPrice: dec(t.ExecutionPrice),
		PriceImpact:    fixedpoint.FormatSigned(t.PriceImpact),
		TradingFee:     dec(t.TradingFee),
		BorrowFee:      dec(t.BorrowFee),
		FundingFee:     dec(t.FundingFee),
		Closed:         t.Closed,
		ExecutedAt:     t.ExecutedAt,
	}
}
