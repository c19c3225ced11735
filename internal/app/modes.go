package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpcore/internal/execution"
	"github.com/alanyoungcy/perpcore/internal/server"
	"github.com/alanyoungcy/perpcore/internal/server/handler"
	"github.com/alanyoungcy/perpcore/internal/valuation"
)

// KeeperMode runs the keeper loop, plus the HTTP server when enabled.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	keeper := a.newKeeper(deps)
	g.Go(func() error { return keeper.Run(ctx) })
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, keeper)
	}
	return g.Wait()
}

// ServerMode serves the operational API without executing requests.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode runs the keeper and the HTTP server together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	keeper := a.newKeeper(deps)
	g.Go(func() error { return keeper.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, keeper)
	return g.Wait()
}

// newKeeper assembles orchestrator, batch driver and polling loop from
// config.
func (a *App) newKeeper(deps *Dependencies) *execution.Keeper {
	trading := a.cfg.Trading
	cfg := execution.Config{
		TradingFeeRate: trading.TradingFeeRate.Value(),
		Leverage: valuation.LeverageBounds{
			Min: trading.MinLeverage.Value(),
			Max: trading.MaxLeverage.Value(),
		},
		MaxSlippageBps: uint64(a.cfg.Keeper.MaxSlippageBps),
	}

	opts := []execution.Option{execution.WithRecorder(deps.Metrics)}
	if deps.Publisher != nil {
		opts = append(opts, execution.WithEvents(deps.Publisher))
	}
	if deps.Archive != nil {
		opts = append(opts, execution.WithArchive(deps.Archive))
	}
	orch := execution.NewOrchestrator(deps.Transactor, deps.Prices, cfg, a.logger, opts...)

	kc := a.cfg.Keeper
	batch := execution.NewBatch(orch, deps.Locks, execution.BatchConfig{
		Concurrency: kc.Concurrency,
		LockTTL:     kc.LockTTL.Duration,
	}, a.logger)

	return execution.NewKeeper(deps.Trades, batch, execution.KeeperConfig{
		Interval:           kc.Interval.Duration,
		BatchSize:          kc.BatchSize,
		ProcessLimitOrders: kc.ProcessLimitOrders,
	}, a.logger)
}

// startHTTPServer adds the HTTP server to the errgroup. It is shut down
// gracefully when the context is cancelled. keeper is nil in server mode.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, keeper *execution.Keeper) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Markets:   handler.NewMarketHandler(deps.Markets, a.logger),
		Positions: handler.NewPositionHandler(deps.Trades, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}
	var stats handler.KeeperStats
	if keeper != nil {
		stats = keeper
	}
	handlers.Status = handler.NewStatusHandler(a.cfg.Mode, deps.Backend, stats)
	if deps.Events != nil {
		handlers.Events = handler.NewEventsHandler(deps.Events, execution.EventStream, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down", slog.Int("port", a.cfg.Server.Port))
		return srv.Shutdown(shutCtx)
	})
}
