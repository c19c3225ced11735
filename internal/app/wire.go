package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/perpcore/internal/blob/s3"
	"github.com/alanyoungcy/perpcore/internal/cache/redis"
	"github.com/alanyoungcy/perpcore/internal/config"
	"github.com/alanyoungcy/perpcore/internal/domain"
	"github.com/alanyoungcy/perpcore/internal/metrics"
	"github.com/alanyoungcy/perpcore/internal/notify"
	"github.com/alanyoungcy/perpcore/internal/server/handler"
	"github.com/alanyoungcy/perpcore/internal/store/memory"
	"github.com/alanyoungcy/perpcore/internal/store/postgres"
)

// Dependencies bundles every collaborator the modes need. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Backend string

	// Storage
	Transactor domain.Transactor
	Markets    domain.MarketRepository
	Trades     domain.TradeStore

	// Prices come from Redis when enabled. Otherwise MemoryPrices is the
	// feed and is exposed so an embedding process can write to it.
	Prices       domain.PriceFeed
	MemoryPrices *memory.PriceFeed

	// Locks is nil without Redis; the batch then uses an in-process guard.
	Locks  domain.LockManager
	Events *redis.SignalBus

	// Publisher receives execution events: the signal bus, optionally
	// wrapped by operator alerts. Nil when neither is configured.
	Publisher domain.EventPublisher

	Archive domain.PositionArchiver
	Metrics *metrics.Metrics

	// Checks are reported by GET /api/health.
	Checks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Backend: cfg.Storage.Backend,
		Checks:  make(map[string]handler.Checker),
	}

	// --- Storage ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		store := postgres.NewStore(pgClient.Pool())
		deps.Transactor = store
		deps.Markets = store.Markets()
		deps.Trades = store.Trades()
		deps.Checks["postgres"] = pgClient.Ping
	default:
		store := memory.New(nil)
		deps.Transactor = store
		deps.Markets = store
		deps.Trades = store
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Prices = redis.NewPriceFeed(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Events = redis.NewSignalBus(redisClient)
		deps.Publisher = deps.Events
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.MemoryPrices = memory.NewPriceFeed()
		deps.Prices = deps.MemoryPrices
		logger.Warn("redis disabled: using the in-memory price feed and an in-process request lock")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
		deps.Publisher = notify.NewPublisher(deps.Publisher, notifier)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archive = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Trades)
		deps.Checks["s3"] = s3Client.Health
	}

	deps.Metrics = metrics.New(cfg.Metrics.Namespace)

	created, err := SeedMarkets(ctx, deps.Transactor, cfg.Markets, time.Now().UTC())
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed markets: %w", err)
	}
	if created > 0 {
		logger.Info("seeded markets", slog.Int("created", created), slog.Int("configured", len(cfg.Markets)))
	}

	return deps, cleanup, nil
}
