// Package config defines the keeper's configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPCORE_* environment variables.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Trading  TradingConfig  `toml:"trading"`
	Server   ServerConfig   `toml:"server"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
	Markets  []MarketConfig `toml:"markets"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StorageConfig selects where markets, requests and positions live.
type StorageConfig struct {
	Backend string `toml:"backend"` // memory | postgres
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the keeper
// uses an in-process lock and the in-memory price feed, and publishes no
// events.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds the closed-position archive bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KeeperConfig controls the polling loop and the batch driver.
type KeeperConfig struct {
	Interval           duration `toml:"interval"`
	BatchSize          int      `toml:"batch_size"`
	Concurrency        int      `toml:"concurrency"`
	LockTTL            duration `toml:"lock_ttl"`
	MaxSlippageBps     int      `toml:"max_slippage_bps"`
	ProcessLimitOrders bool     `toml:"process_limit_orders"`
}

// TradingConfig holds protocol-wide trading parameters. Values are decimal
// strings, e.g. trading_fee_rate = "0.001".
type TradingConfig struct {
	TradingFeeRate Amount `toml:"trading_fee_rate"`
	MinLeverage    Amount `toml:"min_leverage"`
	MaxLeverage    Amount `toml:"max_leverage"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// NotifyConfig holds operator alert channels. An empty Events list forwards
// every event type.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MarketConfig seeds one market at startup. Existing markets keep their
// accumulated state; only missing ones are created.
type MarketConfig struct {
	IndexToken          string `toml:"index_token"`
	CollateralToken     string `toml:"collateral_token"`
	PriceImpactExponent Amount `toml:"price_impact_exponent"`
	PriceImpactFactor   Amount `toml:"price_impact_factor"`
	BorrowingFactor     Amount `toml:"borrowing_factor"`
	FundingFactor       Amount `toml:"funding_factor"`
}

// duration wraps time.Duration for TOML decoding of strings like "5s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "perp:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpcore-archive",
			ForcePathStyle: true,
		},
		Keeper: KeeperConfig{
			Interval:    duration{time.Second},
			BatchSize:   100,
			Concurrency: 4,
			LockTTL:     duration{30 * time.Second},
		},
		Trading: TradingConfig{
			TradingFeeRate: MustAmount("0.001"),
			MinLeverage:    MustAmount("1"),
			MaxLeverage:    MustAmount("50"),
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Metrics:  MetricsConfig{Namespace: "perpcore"},
		Notify:   NotifyConfig{Events: []string{"position_closed"}},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"keeper": true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: keeper, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Keeper
	if c.Keeper.Interval.Duration <= 0 {
		errs = append(errs, "keeper: interval must be > 0")
	}
	if c.Keeper.BatchSize < 1 {
		errs = append(errs, "keeper: batch_size must be >= 1")
	}
	if c.Keeper.Concurrency < 1 {
		errs = append(errs, "keeper: concurrency must be >= 1")
	}
	if c.Keeper.LockTTL.Duration <= 0 {
		errs = append(errs, "keeper: lock_ttl must be > 0")
	}
	if c.Keeper.MaxSlippageBps < 0 || c.Keeper.MaxSlippageBps > 10000 {
		errs = append(errs, fmt.Sprintf("keeper: max_slippage_bps must be 0-10000, got %d", c.Keeper.MaxSlippageBps))
	}

	// Trading
	if c.Trading.TradingFeeRate.Value().Cmp(MustAmount("1").Value()) >= 0 {
		errs = append(errs, "trading: trading_fee_rate must be < 1")
	}
	if c.Trading.MinLeverage.Value().IsZero() {
		errs = append(errs, "trading: min_leverage must be > 0")
	}
	if c.Trading.MinLeverage.Value().Gt(c.Trading.MaxLeverage.Value()) {
		errs = append(errs, "trading: min_leverage must not exceed max_leverage")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	} else if strings.ToLower(c.Mode) == "server" {
		errs = append(errs, "server: must be enabled in server mode")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Markets
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		prefix := fmt.Sprintf("markets[%d]", i)
		if !common.IsHexAddress(m.IndexToken) {
			errs = append(errs, fmt.Sprintf("%s: index_token %q is not an address", prefix, m.IndexToken))
		}
		if !common.IsHexAddress(m.CollateralToken) {
			errs = append(errs, fmt.Sprintf("%s: collateral_token %q is not an address", prefix, m.CollateralToken))
		}
		if m.PriceImpactExponent.Value().IsZero() {
			errs = append(errs, prefix+": price_impact_exponent must be > 0")
		}
		pair := strings.ToLower(m.IndexToken + "/" + m.CollateralToken)
		if seen[pair] {
			errs = append(errs, fmt.Sprintf("%s: duplicate market %s", prefix, pair))
		}
		seen[pair] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
