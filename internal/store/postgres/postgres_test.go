package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit", ClientConfig{DSN: "postgres://x"}, "postgres://x"},
		{"defaults", ClientConfig{Host: "db", User: "u", Password: "p", Database: "perp"},
			"postgres://u:p@db:5432/perp?sslmode=disable"},
		{"custom port and ssl", ClientConfig{Host: "db", Port: 6432, User: "u", Password: "p", Database: "perp", SSLMode: "require"},
			"postgres://u:p@db:6432/perp?sslmode=require"},
		{"escaped password", ClientConfig{Host: "db", User: "u", Password: "p@ss", Database: "perp"},
			"postgres://u:p%40ss@db:5432/perp?sslmode=disable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}

func TestDecoder(t *testing.T) {
	var d decoder
	assert.Equal(t, uint256.NewInt(42), d.num("42"))
	neg := d.signed("-5")
	assert.True(t, fixedpoint.IsNegative(neg))
	assert.Equal(t, "-5", signed(neg))
	require.NoError(t, d.err)

	d.num("nope")
	assert.Error(t, d.err)
	assert.Equal(t, new(uint256.Int), d.num("7"), "decoder short-circuits after the first error")
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, now, fromNullTime(nullTime(now)))
	assert.True(t, fromNullTime(nil).IsZero())
}

// newTestStore connects to PERPCORE_TEST_POSTGRES_DSN, migrates and empties
// the schema, or skips.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PERPCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PERPCORE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	_, err = c.Pool().Exec(ctx, `TRUNCATE trades, position_sequences, positions, position_requests, markets`)
	require.NoError(t, err)
	return NewStore(c.Pool())
}

var (
	weth = common.HexToAddress("0x01")
	usdc = common.HexToAddress("0x02")
	user = common.HexToAddress("0xa11ce")
)

func testMarket() domain.Market {
	return domain.Market{
		Key:                 common.HexToHash("0xe7"),
		IndexToken:          weth,
		CollateralToken:     usdc,
		PriceImpactExponent: fixedpoint.One(),
		PriceImpactFactor:   fixedpoint.Zero(),
		BorrowingFactor:     uint256.NewInt(1e10),
		FundingFactor:       uint256.NewInt(1e10),
		LastBorrowUpdate:    time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMarket()
	require.NoError(t, s.Markets().SaveMarket(ctx, m))

	got, err := s.Markets().GetMarket(ctx, m.Key)
	require.NoError(t, err)
	assert.Equal(t, m.BorrowingFactor, got.BorrowingFactor)
	assert.True(t, got.LastFundingUpdate.IsZero())
	assert.True(t, m.LastBorrowUpdate.Equal(got.LastBorrowUpdate))

	key, err := s.Markets().MarketKeyForPair(ctx, weth, usdc)
	require.NoError(t, err)
	assert.Equal(t, m.Key, key)

	req := domain.PositionRequest{
		Key:             common.HexToHash("0x77"),
		User:            user,
		IndexToken:      weth,
		CollateralToken: usdc,
		IsLong:          true,
		IsIncrease:      true,
		SizeDelta:       fixedpoint.Units(1),
		CollateralDelta: fixedpoint.Units(100),
		AcceptablePrice: fixedpoint.Units(2100),
		RequestBlock:    10,
	}
	require.NoError(t, s.Trades().SubmitRequest(ctx, req))
	assert.ErrorIs(t, s.Trades().SubmitRequest(ctx, req), domain.ErrAlreadyExists)

	pending, err := s.Trades().ListPendingRequests(ctx, false, domain.PendingCursor{}, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	after, err := s.Trades().ListPendingRequests(ctx, false, pending[0].Cursor(), 0)
	require.NoError(t, err)
	assert.Empty(t, after)

	pnl, err := fixedpoint.NewSigned(fixedpoint.Units(3), true)
	require.NoError(t, err)
	pos := domain.Position{
		Key:                  common.HexToHash("0x99"),
		Market:               m.Key,
		IndexToken:           weth,
		CollateralToken:      usdc,
		User:                 user,
		CollateralAmount:     fixedpoint.Units(100),
		PositionSize:         fixedpoint.Units(1),
		IsLong:               true,
		AveragePricePerToken: fixedpoint.Units(2000),
		RealisedPnl:          pnl,
		EntryTimestamp:       m.LastBorrowUpdate,
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Trades().ExecuteTrade(ctx, domain.TradeParams{
			Request: req, Position: pos, IsNew: true,
			ReferencePrice: fixedpoint.Units(2000), ExecutionPrice: fixedpoint.Units(2000),
			ExecutedAt: m.LastBorrowUpdate,
		})
		return err
	})
	require.NoError(t, err)

	stored, err := s.Trades().OpenPosition(ctx, pos.Key)
	require.NoError(t, err)
	assert.Equal(t, pnl, stored.RealisedPnl)

	next, err := s.Trades().NextPositionIndex(ctx, m.Key, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	trades, err := s.Trades().ListTrades(ctx, pos.Key)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, req.Key, trades[0].RequestKey)

	_, err = s.Trades().PendingRequest(ctx, false, req.Key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithinTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Markets().SaveMarket(ctx, testMarket()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Markets().GetMarket(ctx, testMarket().Key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
