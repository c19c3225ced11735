// Package app assembles the keeper process: it wires storage, locks, prices,
// events, the archive and metrics from config, then runs the goroutines of
// the configured mode until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/perpcore/internal/config"
)

// App owns the configuration, the logger and the cleanup functions of
// everything Wire opened.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// mode returns the runner for the configured mode.
func (a *App) mode() (func(context.Context, *Dependencies) error, error) {
	switch strings.ToLower(a.cfg.Mode) {
	case "keeper":
		return a.KeeperMode, nil
	case "server":
		return a.ServerMode, nil
	case "full":
		return a.FullMode, nil
	default:
		return nil, fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a component fails. Resources stay open until Close.
func (a *App) Run(ctx context.Context) error {
	run, err := a.mode()
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("backend", a.cfg.Storage.Backend),
		slog.Int("markets", len(a.cfg.Markets)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return run(ctx, deps)
}

// Close releases resources in reverse order. Later calls are no-ops.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
