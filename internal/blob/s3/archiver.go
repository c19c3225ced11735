package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

// TradeLister reads a position's execution log.
type TradeLister interface {
	ListTrades(ctx context.Context, positionKey common.Hash) ([]domain.Trade, error)
}

// multipartWriter is implemented by Writer. Large trade logs go through it
// when available.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// Archiver implements domain.PositionArchiver. Each closed position becomes
// one JSON document, and its trade log one JSONL file next to it:
//
//	positions/closed/2026/04/01/0xabc....json
//	trades/closed/2026/04/01/0xabc....jsonl
type Archiver struct {
	writer domain.BlobWriter
	trades TradeLister
}

var _ domain.PositionArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. trades may be nil, in which case only the
// position document is written.
func NewArchiver(writer domain.BlobWriter, trades TradeLister) *Archiver {
	return &Archiver{writer: writer, trades: trades}
}

// ArchivePosition uploads the final state of pos and, when a trade lister is
// configured, its trade log.
func (a *Archiver) ArchivePosition(ctx context.Context, pos domain.Position, closedAt time.Time) error {
	buf, err := json.Marshal(newClosedPosition(pos, closedAt))
	if err != nil {
		return fmt.Errorf("s3blob: archive position marshal: %w", err)
	}

	path := archivePath("positions", pos.Key, closedAt, "json")
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive position upload: %w", err)
	}

	if a.trades == nil {
		return nil
	}
	trades, err := a.trades.ListTrades(ctx, pos.Key)
	if err != nil {
		return fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	records := make([]tradeRecord, len(trades))
	for i, t := range trades {
		records[i] = newTradeRecord(t)
	}
	lines, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path = archivePath("trades", pos.Key, closedAt, "jsonl")
	if mw, ok := a.writer.(multipartWriter); ok && int64(len(lines)) > minPartSize {
		err = mw.PutMultipart(ctx, path, bytes.NewReader(lines), "application/x-ndjson", minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(lines), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return nil
}

// archivePath partitions archives by the UTC day the position closed.
func archivePath(kind string, key common.Hash, closedAt time.Time, ext string) string {
	return fmt.Sprintf("%s/closed/%s/%s.%s", kind, closedAt.UTC().Format("2006/01/02"), key.Hex(), ext)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// closedPosition is the archived form of a position. Amounts are base-10
// 18-decimal fixed point; realised_pnl carries a sign.
type closedPosition struct {
	Key                  string    `json:"key"`
	Index                uint64    `json:"index"`
	Market               string    `json:"market"`
	IndexToken           string    `json:"index_token"`
	CollateralToken      string    `json:"collateral_token"`
	User                 string    `json:"user"`
	IsLong               bool      `json:"is_long"`
	CollateralAmount     string    `json:"collateral_amount"`
	AveragePricePerToken string    `json:"average_price_per_token"`
	RealisedPnl          string    `json:"realised_pnl"`
	BorrowFeesOwed       string    `json:"borrow_fees_owed"`
	FundingFeesOwed      string    `json:"funding_fees_owed"`
	EntryTimestamp       time.Time `json:"entry_timestamp"`
	ClosedAt             time.Time `json:"closed_at"`
}

func newClosedPosition(p domain.Position, closedAt time.Time) closedPosition {
	return closedPosition{
		Key:                  p.Key.Hex(),
		Index:                p.Index,
		Market:               p.Market.Hex(),
		IndexToken:           p.IndexToken.Hex(),
		CollateralToken:      p.CollateralToken.Hex(),
		User:                 p.User.Hex(),
		IsLong:               p.IsLong,
		CollateralAmount:     fixedpoint.OrZero(p.CollateralAmount).Dec(),
		AveragePricePerToken: fixedpoint.OrZero(p.AveragePricePerToken).Dec(),
		RealisedPnl:          fixedpoint.FormatSigned(p.RealisedPnl),
		BorrowFeesOwed:       fixedpoint.OrZero(p.Borrow.FeesOwed).Dec(),
		FundingFeesOwed:      fixedpoint.OrZero(p.Funding.FeesOwed).Dec(),
		EntryTimestamp:       p.EntryTimestamp.UTC(),
		ClosedAt:             closedAt.UTC(),
	}
}

type tradeRecord struct {
	ID             string    `json:"id"`
	RequestKey     string    `json:"request_key"`
	IsIncrease     bool      `json:"is_increase"`
	SizeDelta      string    `json:"size_delta"`
	ReferencePrice string    `json:"reference_price"`
	ExecutionPrice string    `json:"execution_price"`
	PriceImpact    string    `json:"price_impact"`
	TradingFee     string    `json:"trading_fee"`
	BorrowFee      string    `json:"borrow_fee"`
	FundingFee     string    `json:"funding_fee"`
	Closed         bool      `json:"closed"`
	ExecutedAt     time.Time `json:"executed_at"`
}

func newTradeRecord(t domain.Trade) tradeRecord {
	return tradeRecord{
		ID:             t.ID,
		RequestKey:     t.RequestKey.Hex(),
		IsIncrease:     t.IsIncrease,
		SizeDelta:      fixedpoint.OrZero(t.SizeDelta).Dec(),
		ReferencePrice: fixedpoint.OrZero(t.ReferencePrice).Dec(),
		ExecutionPrice: fixedpoint.OrZero(t.ExecutionPrice).Dec(),
		PriceImpact:    fixedpoint.FormatSigned(t.PriceImpact),
		TradingFee:     fixedpoint.OrZero(t.TradingFee).Dec(),
		BorrowFee:      fixedpoint.OrZero(t.BorrowFee).Dec(),
		FundingFee:     fixedpoint.OrZero(t.FundingFee).Dec(),
		Closed:         t.Closed,
		ExecutedAt:     t.ExecutedAt.UTC(),
	}
}
