package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// PendingLister lists pending requests of one kind after a cursor.
type PendingLister interface {
	ListPendingRequests(ctx context.Context, isLimit bool, after domain.PendingCursor, limit int) ([]domain.PositionRequest, error)
}

// KeeperConfig controls the polling loop.
type KeeperConfig struct {
	Interval           time.Duration
	BatchSize          int
	ProcessLimitOrders bool
}

// Keeper polls pending requests and drives them through a Batch on every
// tick until its context is cancelled.
type Keeper struct {
	pending PendingLister
	batch   *Batch
	cfg     KeeperConfig
	logger  *slog.Logger

	// cleanup, when set, runs once per tick.
	cleanup func()

	// cursors resume each kind of pass after the last request the previous
	// tick listed, so requests that stay pending cannot starve newer ones.
	tickMu  sync.Mutex
	cursors map[bool]domain.PendingCursor

	mu    sync.Mutex
	stats KeeperStats
}

// KeeperStats summarises the passes a Keeper has run.
type KeeperStats struct {
	Ticks    uint64                          `json:"ticks"`
	LastTick time.Time                       `json:"last_tick"`
	LastErr  string                          `json:"last_error,omitempty"`
	Statuses map[domain.RequestStatus]uint64 `json:"statuses"`
}

// NewKeeper creates a Keeper.
func NewKeeper(pending PendingLister, batch *Batch, cfg KeeperConfig, logger *slog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	k := &Keeper{
		pending: pending,
		batch:   batch,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "keeper")),
		cursors: make(map[bool]domain.PendingCursor, 2),
		stats:   KeeperStats{Statuses: make(map[domain.RequestStatus]uint64)},
	}
	if inflight, ok := batch.locks.(*InFlight); ok {
		k.cleanup = inflight.Cleanup
	}
	return k
}

// Run blocks until ctx is cancelled. Failures of a single pass are logged and
// the next tick tries again.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started",
		slog.Duration("interval", k.cfg.Interval),
		slog.Int("batch_size", k.cfg.BatchSize),
		slog.Bool("limit_orders", k.cfg.ProcessLimitOrders),
	)

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.InfoContext(ctx, "keeper stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := k.Tick(ctx); err != nil {
				k.logger.ErrorContext(ctx, "keeper pass failed", slog.String("error", err.Error()))
			}
			if k.cleanup != nil {
				k.cleanup()
			}
		}
	}
}

// Tick runs one pass over pending market requests and, when enabled, limit
// requests.
func (k *Keeper) Tick(ctx context.Context) ([]BatchResult, error) {
	k.tickMu.Lock()
	defer k.tickMu.Unlock()
	results, err := k.tick(ctx)
	k.record(results, err)
	return results, err
}

func (k *Keeper) tick(ctx context.Context) ([]BatchResult, error) {
	results, err := k.pass(ctx, false)
	if err != nil {
		return results, err
	}
	if !k.cfg.ProcessLimitOrders {
		return results, nil
	}
	limit, err := k.pass(ctx, true)
	return append(results, limit...), err
}

func (k *Keeper) record(results []BatchResult, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stats.Ticks++
	k.stats.LastTick = time.Now().UTC()
	k.stats.LastErr = ""
	if err != nil {
		k.stats.LastErr = err.Error()
	}
	for _, r := range results {
		k.stats.Statuses[r.Status]++
	}
}

// Stats returns a copy of the keeper's running totals.
func (k *Keeper) Stats() KeeperStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := k.stats
	out.Statuses = make(map[domain.RequestStatus]uint64, len(k.stats.Statuses))
	for s, n := range k.stats.Statuses {
		out.Statuses[s] = n
	}
	return out
}

func (k *Keeper) pass(ctx context.Context, isLimit bool) ([]BatchResult, error) {
	reqs, err := k.page(ctx, isLimit)
	if err != nil {
		return nil, fmt.Errorf("keeper: list pending: %w", err)
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	keys := make([]common.Hash, len(reqs))
	for i, r := range reqs {
		keys[i] = r.Key
	}
	return k.batch.ExecuteBatch(ctx, isLimit, keys), nil
}

// page returns up to BatchSize requests after the stored cursor. A short
// tail is topped up from the start of the order, and the cursor moves to the
// last request returned.
func (k *Keeper) page(ctx context.Context, isLimit bool) ([]domain.PositionRequest, error) {
	after := k.cursors[isLimit]
	reqs, err := k.pending.ListPendingRequests(ctx, isLimit, after, k.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	if len(reqs) < k.cfg.BatchSize && !after.IsZero() {
		head, err := k.pending.ListPendingRequests(ctx, isLimit, domain.PendingCursor{}, k.cfg.BatchSize-len(reqs))
		if err != nil {
			return nil, err
		}
		for _, r := range head {
			if after.Before(r.Cursor()) {
				break // already in reqs
			}
			reqs = append(reqs, r)
		}
	}

	k.cursors[isLimit] = domain.PendingCursor{}
	if len(reqs) > 0 {
		k.cursors[isLimit] = reqs[len(reqs)-1].Cursor()
	}
	return reqs, nil
}
