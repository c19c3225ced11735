package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// BatchResult is the isolated result of one request in a batch.
type BatchResult struct {
	Key      common.Hash
	Status   domain.RequestStatus
	Position domain.Position
	Err      error
}

// BatchConfig bounds a batch run.
type BatchConfig struct {
	Concurrency int
	LockTTL     time.Duration
}

// Batch executes many requests independently. One request failing never
// stops or affects the others.
type Batch struct {
	orch   *Orchestrator
	locks  domain.LockManager
	cfg    BatchConfig
	logger *slog.Logger
}

// NewBatch creates a Batch. A nil lock manager falls back to an in-process
// InFlight guard.
func NewBatch(orch *Orchestrator, locks domain.LockManager, cfg BatchConfig, logger *slog.Logger) *Batch {
	if locks == nil {
		locks = NewInFlight()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batch{
		orch:   orch,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "batch")),
	}
}

// ExecuteBatch runs every key and returns one result per key in input order.
// A request whose lock is held by another executor is reported Pending with
// domain.ErrLockHeld.
func (b *Batch) ExecuteBatch(ctx context.Context, isLimit bool, keys []common.Hash) []BatchResult {
	results := make([]BatchResult, len(keys))
	b.orch.recorder.ObserveBatch(len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i, key := range keys {
		g.Go(func() error {
			results[i] = b.executeOne(gctx, isLimit, key)
			return nil
		})
	}
	_ = g.Wait()

	var executed, failed int
	for _, r := range results {
		switch {
		case r.Status == domain.RequestStatusExecuted:
			executed++
		case r.Err != nil && !errors.Is(r.Err, domain.ErrLockHeld) && !errors.Is(r.Err, domain.ErrLimitNotMet):
			failed++
		}
	}
	b.logger.DebugContext(ctx, "batch finished",
		slog.Bool("is_limit", isLimit),
		slog.Int("size", len(keys)),
		slog.Int("executed", executed),
		slog.Int("failed", failed),
	)
	return results
}

func (b *Batch) executeOne(ctx context.Context, isLimit bool, key common.Hash) BatchResult {
	res := BatchResult{Key: key}
	if err := ctx.Err(); err != nil {
		res.Status, res.Err = domain.RequestStatusPending, err
		return res
	}

	// A held lock or a lock backend failure both leave the request stored
	// for a later pass.
	unlock, err := b.locks.Acquire(ctx, lockKey(key), b.cfg.LockTTL)
	if err != nil {
		res.Status, res.Err = domain.RequestStatusPending, err
		return res
	}
	defer unlock()

	out, err := b.orch.Execute(ctx, key, isLimit)
	res.Status = out.Status
	res.Position = out.Position
	res.Err = err

	if res.Status == domain.RequestStatusRejected && !errors.Is(err, domain.ErrRequestNotFound) {
		if derr := b.orch.Discard(ctx, key, isLimit); derr != nil {
			b.logger.WarnContext(ctx, "discard rejected request failed",
				slog.String("request", key.Hex()),
				slog.String("error", derr.Error()),
			)
		}
	}
	return res
}

func lockKey(key common.Hash) string {
	return "request:" + key.Hex()
}
