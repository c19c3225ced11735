package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    *uint256.Int
		wantErr bool
	}{
		{"0.001", uint256.NewInt(1e15), false},
		{"50", new(uint256.Int).Mul(uint256.NewInt(50), uint256.NewInt(1e18)), false},
		{"0.000000000000000001", uint256.NewInt(1), false},
		{"0", new(uint256.Int), false},
		{"0.0000000000000000001", nil, true},
		{"-1", nil, true},
		{"abc", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Value())
		})
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "0.001", MustAmount("0.001").String())
	assert.Equal(t, "50", MustAmount("50").String())
	assert.Equal(t, "0", Amount{}.String())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perpcore.toml")
	const body = `
mode = "keeper"
log_level = "debug"

[storage]
backend = "postgres"

[keeper]
interval = "250ms"
batch_size = 20
max_slippage_bps = 50
process_limit_orders = true

[trading]
trading_fee_rate = "0.0005"
max_leverage = "20"

[[markets]]
index_token = "0x0000000000000000000000000000000000000001"
collateral_token = "0x0000000000000000000000000000000000000002"
price_impact_exponent = "1.5"
price_impact_factor = "0.0001"
borrowing_factor = "0.00000001"
funding_factor = "0.00000001"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("PERPCORE_KEEPER_CONCURRENCY", "8")
	t.Setenv("PERPCORE_POSTGRES_PASSWORD", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "keeper", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Keeper.Interval.Duration)
	assert.Equal(t, 30*time.Second, cfg.Keeper.LockTTL.Duration, "defaults survive")
	assert.Equal(t, 8, cfg.Keeper.Concurrency)
	assert.True(t, cfg.Keeper.ProcessLimitOrders)
	assert.Equal(t, uint256.NewInt(5e14), cfg.Trading.TradingFeeRate.Value())
	assert.Equal(t, "20", cfg.Trading.MaxLeverage.String())
	assert.Equal(t, "1", cfg.Trading.MinLeverage.String())
	require.Len(t, cfg.Markets, 1)
	assert.Equal(t, "1.5", cfg.Markets[0].PriceImpactExponent.String())
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}

func TestLoadRejectsBadAmount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[trading]\ntrading_fee_rate = \"-0.1\"\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"backend", func(c *Config) { c.Storage.Backend = "sqlite" }, "unknown backend"},
		{"postgres host", func(c *Config) { c.Storage.Backend = "postgres"; c.Postgres.Host = "" }, "postgres: host"},
		{"postgres pool", func(c *Config) { c.Storage.Backend = "postgres"; c.Postgres.PoolMinConns = 50 }, "pool_min_conns must not exceed"},
		{"redis addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis: addr"},
		{"s3 bucket", func(c *Config) { c.S3.Enabled = true; c.S3.Bucket = "" }, "s3: bucket"},
		{"interval", func(c *Config) { c.Keeper.Interval.Duration = 0 }, "keeper: interval"},
		{"concurrency", func(c *Config) { c.Keeper.Concurrency = 0 }, "keeper: concurrency"},
		{"slippage", func(c *Config) { c.Keeper.MaxSlippageBps = 20000 }, "max_slippage_bps"},
		{"fee rate", func(c *Config) { c.Trading.TradingFeeRate = MustAmount("1") }, "trading_fee_rate"},
		{"leverage order", func(c *Config) { c.Trading.MinLeverage = MustAmount("60") }, "min_leverage must not exceed"},
		{"server port", func(c *Config) { c.Server.Port = 0 }, "server: port"},
		{"server mode", func(c *Config) { c.Mode = "server"; c.Server.Enabled = false }, "must be enabled in server mode"},
		{"telegram pair", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram_token and telegram_chat_id"},
		{"market address", func(c *Config) {
			c.Markets = []MarketConfig{{IndexToken: "weth", CollateralToken: "0x0000000000000000000000000000000000000002", PriceImpactExponent: MustAmount("1")}}
		}, "is not an address"},
		{"market exponent", func(c *Config) {
			c.Markets = []MarketConfig{{IndexToken: "0x0000000000000000000000000000000000000001", CollateralToken: "0x0000000000000000000000000000000000000002"}}
		}, "price_impact_exponent"},
		{"duplicate market", func(c *Config) {
			m := MarketConfig{IndexToken: "0x0000000000000000000000000000000000000001", CollateralToken: "0x0000000000000000000000000000000000000002", PriceImpactExponent: MustAmount("1")}
			c.Markets = []MarketConfig{m, m}
		}, "duplicate market"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nope"
	cfg.Keeper.BatchSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "\n  - "))
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Redis.Password = "redis-pw"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "key"
	cfg.Server.CORSOrigins = []string{"https://ops.example.com"}
	cfg.Notify.TelegramToken = "bot-token"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Redis.Password)
	assert.Equal(t, redacted, out.S3.SecretKey)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Empty(t, out.S3.AccessKey, "empty secrets stay empty")
	assert.Equal(t, "pw", cfg.Postgres.Password, "original untouched")

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "https://ops.example.com", cfg.Server.CORSOrigins[0])
}
