package execution

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
	"github.com/alanyoungcy/perpcore/internal/store/memory"
	"github.com/alanyoungcy/perpcore/internal/valuation"
)

var (
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	ethMkt   = valuation.MarketKey(weth, usdc)
	startsAt = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type publisher struct {
	mu       sync.Mutex
	channels []string
	streams  []string
}

func (p *publisher) Publish(_ context.Context, channel string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	return nil
}

func (p *publisher) StreamAppend(_ context.Context, stream string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, stream)
	return nil
}

type archiver struct {
	mu       sync.Mutex
	archived []domain.Position
}

func (a *archiver) ArchivePosition(_ context.Context, pos domain.Position, _ time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, pos)
	return nil
}

type harness struct {
	store   *memory.Store
	prices  *memory.PriceFeed
	clock   *clock
	events  *publisher
	archive *archiver
	orch    *Orchestrator
}

type marketParams struct {
	impactFactor    *uint256.Int
	borrowingFactor *uint256.Int
	fundingFactor   *uint256.Int
}

func newHarness(t *testing.T, cfg Config, mp marketParams) *harness {
	t.Helper()
	h := &harness{
		prices:  memory.NewPriceFeed(),
		clock:   &clock{t: startsAt},
		events:  &publisher{},
		archive: &archiver{},
	}
	h.store = memory.New(h.clock.now)
	require.NoError(t, h.store.SaveMarket(context.Background(), domain.Market{
		Key:                 ethMkt,
		IndexToken:          weth,
		CollateralToken:     usdc,
		PriceImpactExponent: fixedpoint.One(),
		PriceImpactFactor:   fixedpoint.OrZero(mp.impactFactor),
		BorrowingFactor:     fixedpoint.OrZero(mp.borrowingFactor),
		FundingFactor:       fixedpoint.OrZero(mp.fundingFactor),
	}))
	h.orch = NewOrchestrator(h.store, h.prices, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(h.clock.now),
		WithEvents(h.events),
		WithArchive(h.archive),
	)
	return h
}

type reqParams struct {
	user       common.Address
	isLong     bool
	isIncrease bool
	isLimit    bool
	size       uint64
	collateral uint64
	acceptable uint64
	block      uint64
}

// submit stores a request and returns its key.
func (h *harness) submit(t *testing.T, rs reqParams) common.Hash {
	t.Helper()
	if rs.user == (common.Address{}) {
		rs.user = alice
	}
	key := valuation.RequestKey(weth, rs.user, rs.isLong)
	require.NoError(t, h.store.SubmitRequest(context.Background(), domain.PositionRequest{
		Key:             key,
		User:            rs.user,
		IndexToken:      weth,
		CollateralToken: usdc,
		IsLong:          rs.isLong,
		IsIncrease:      rs.isIncrease,
		IsLimit:         rs.isLimit,
		SizeDelta:       fixedpoint.Units(rs.size),
		CollateralDelta: fixedpoint.Units(rs.collateral),
		AcceptablePrice: fixedpoint.Units(rs.acceptable),
		RequestBlock:    rs.block,
	}))
	return key
}

func (h *harness) price(t *testing.T, block, usd uint64) {
	t.Helper()
	require.NoError(t, h.prices.SetReferencePrice(context.Background(), ethMkt, block, fixedpoint.Units(usd)))
}

func (h *harness) market(t *testing.T) domain.Market {
	t.Helper()
	m, err := h.store.GetMarket(context.Background(), ethMkt)
	require.NoError(t, err)
	return m
}

// open executes an increase and requires success.
func (h *harness) open(t *testing.T, rs reqParams, usd uint64) Outcome {
	t.Helper()
	rs.isIncrease = true
	h.price(t, rs.block, usd)
	key := h.submit(t, rs)
	out, err := h.orch.Execute(context.Background(), key, rs.isLimit)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusExecuted, out.Status)
	return out
}
