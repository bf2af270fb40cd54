package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"droc_go/internal/domain"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the engine process.
// LoadConfig로 로드된 후에 DROC_* 환경 변수로 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine struct {
		VaultID          string `yaml:"vault_id" env:"VAULT_ID"`
		Authority        string `yaml:"authority" env:"AUTHORITY"`
		RewardsPool      string `yaml:"rewards_pool" env:"REWARDS_POOL"`
		RewardsAuthority string `yaml:"rewards_authority" env:"REWARDS_AUTHORITY"`
		MinCollateral    int64  `yaml:"min_collateral" env:"MIN_COLLATERAL"`
		MaxExpirySlots   int64  `yaml:"max_expiry_slots" env:"MAX_EXPIRY_SLOTS"`
		JITWindowSlots   int64  `yaml:"jit_window_slots" env:"JIT_WINDOW_SLOTS"`
		SlotDurationMS   int    `yaml:"slot_duration_ms" env:"SLOT_DURATION_MS"`
		GenesisUnix      int64  `yaml:"genesis_unix" env:"GENESIS_UNIX"`
		InboxSize        int    `yaml:"inbox_size"`

		// Genesis balances minted into the token book on first start.
		Faucet map[string]int64 `yaml:"faucet"`
	} `yaml:"engine" envPrefix:"ENGINE_"`

	Pricing struct {
		BandBps    int64           `yaml:"band_bps" env:"BAND_BPS"`
		Scale      int64           `yaml:"scale"`
		RewardRate decimal.Decimal `yaml:"reward_rate" env:"REWARD_RATE"`
	} `yaml:"pricing" envPrefix:"PRICING_"`

	Oracle struct {
		Mode            string            `yaml:"mode" env:"MODE"` // static | poll | feed
		Static          map[string]string `yaml:"static"`
		Precision       int               `yaml:"precision"`
		PollURL         string            `yaml:"poll_url" env:"POLL_URL"`
		PollIntervalSec int               `yaml:"poll_interval_sec"`
		FeedURL         string            `yaml:"feed_url" env:"FEED_URL"`
		Refs            []string          `yaml:"refs"`
		MaxStaleSec     int               `yaml:"max_stale_sec"`
	} `yaml:"oracle" envPrefix:"ORACLE_"`

	Storage struct {
		Driver      string `yaml:"driver" env:"DRIVER"` // sqlite | memory
		StatePath   string `yaml:"state_path" env:"STATE_PATH"`
		JournalPath string `yaml:"journal_path" env:"JOURNAL_PATH"`
	} `yaml:"storage" envPrefix:"STORAGE_"`

	API struct {
		Addr       string  `yaml:"addr" env:"ADDR"`
		RateLimit  float64 `yaml:"rate_limit"`
		Burst      int     `yaml:"burst"`
		TimeoutSec int     `yaml:"timeout_sec"`
	} `yaml:"api" envPrefix:"API_"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" env:"ENABLED"`
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
		MaxLen   int64  `yaml:"max_len"`
	} `yaml:"redis" envPrefix:"REDIS_"`

	Sweeper struct {
		Enabled     bool `yaml:"enabled" env:"ENABLED"`
		IntervalSec int  `yaml:"interval_sec"`
		BatchSize   int  `yaml:"batch_size"`
	} `yaml:"sweeper" envPrefix:"SWEEPER_"`

	Logging struct {
		Level string `yaml:"level" env:"LEVEL"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging" envPrefix:"LOG_"`
}

// DefaultConfig returns a runnable single-node configuration.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "drocd"
	cfg.App.Version = "dev"

	cfg.Engine.VaultID = "main"
	cfg.Engine.Authority = "engine"
	cfg.Engine.RewardsPool = "rewards:pool"
	cfg.Engine.RewardsAuthority = "engine"
	cfg.Engine.MinCollateral = 10_000_000
	cfg.Engine.MaxExpirySlots = 1_000_000
	cfg.Engine.JITWindowSlots = 5
	cfg.Engine.SlotDurationMS = 400
	cfg.Engine.InboxSize = 1024

	cfg.Pricing.BandBps = 100
	cfg.Pricing.Scale = 1_000_000
	cfg.Pricing.RewardRate = decimal.NewFromInt(1)

	cfg.Oracle.Mode = "static"
	cfg.Oracle.PollIntervalSec = 5
	cfg.Oracle.MaxStaleSec = 30

	cfg.Storage.Driver = "sqlite"
	cfg.Storage.StatePath = "data/state.db"
	cfg.Storage.JournalPath = "data/journal.db"

	cfg.API.Addr = ":8080"
	cfg.API.RateLimit = 50
	cfg.API.Burst = 100
	cfg.API.TimeoutSec = 10

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Stream = "droc:events"
	cfg.Redis.MaxLen = 100_000

	cfg.Sweeper.Enabled = true
	cfg.Sweeper.IntervalSec = 10
	cfg.Sweeper.BatchSize = 256

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads path over the defaults, then applies .env and DROC_* overrides.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// 보안 우선: 비밀 값은 파일이 아닌 환경 변수로
	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// overrideWithEnv loads an optional .env file and applies DROC_* variables.
func overrideWithEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "DROC_"}); err != nil {
		return &domain.ConfigError{Field: "env", Err: err}
	}
	return nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	fail := func(field, format string, args ...interface{}) error {
		return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
	}

	// Engine
	if c.Engine.VaultID == "" {
		return fail("engine.vault_id", "must not be empty")
	}
	if c.Engine.Authority == "" || c.Engine.RewardsAuthority == "" {
		return fail("engine.authority", "authorities must not be empty")
	}
	if c.Engine.RewardsPool == "" {
		return fail("engine.rewards_pool", "must not be empty")
	}
	if c.Engine.MinCollateral <= 0 {
		return fail("engine.min_collateral", "must be positive: %d", c.Engine.MinCollateral)
	}
	if c.Engine.MaxExpirySlots <= 0 {
		return fail("engine.max_expiry_slots", "must be positive: %d", c.Engine.MaxExpirySlots)
	}
	if c.Engine.JITWindowSlots <= 0 {
		return fail("engine.jit_window_slots", "must be positive: %d", c.Engine.JITWindowSlots)
	}
	if c.Engine.SlotDurationMS <= 0 {
		return fail("engine.slot_duration_ms", "must be positive: %d", c.Engine.SlotDurationMS)
	}
	if c.Engine.InboxSize <= 0 {
		return fail("engine.inbox_size", "must be positive: %d", c.Engine.InboxSize)
	}
	for acct, amount := range c.Engine.Faucet {
		if acct == "" || amount <= 0 {
			return fail("engine.faucet", "invalid grant %q: %d", acct, amount)
		}
	}

	// Pricing
	if c.Pricing.BandBps < 0 || c.Pricing.BandBps >= 10_000 {
		return fail("pricing.band_bps", "must be in [0, 10000): %d", c.Pricing.BandBps)
	}
	if c.Pricing.Scale <= 0 {
		return fail("pricing.scale", "must be positive: %d", c.Pricing.Scale)
	}
	if c.Pricing.RewardRate.IsNegative() || !c.Pricing.RewardRate.Equal(c.Pricing.RewardRate.Truncate(0)) {
		return fail("pricing.reward_rate", "must be a non-negative whole amount: %s", c.Pricing.RewardRate)
	}

	// Oracle
	switch c.Oracle.Mode {
	case "static":
		if len(c.Oracle.Static) == 0 {
			return fail("oracle.static", "static mode needs at least one price")
		}
	case "poll":
		if !hasPrefix(c.Oracle.PollURL, "http://") && !hasPrefix(c.Oracle.PollURL, "https://") {
			return fail("oracle.poll_url", "invalid URL: %s", c.Oracle.PollURL)
		}
		if c.Oracle.PollIntervalSec <= 0 {
			return fail("oracle.poll_interval_sec", "must be positive")
		}
		if len(c.Oracle.Refs) == 0 {
			return fail("oracle.refs", "poll mode needs at least one ref")
		}
	case "feed":
		if !hasPrefix(c.Oracle.FeedURL, "ws://") && !hasPrefix(c.Oracle.FeedURL, "wss://") {
			return fail("oracle.feed_url", "invalid WS URL: %s", c.Oracle.FeedURL)
		}
		if len(c.Oracle.Refs) == 0 {
			return fail("oracle.refs", "feed mode needs at least one ref")
		}
	default:
		return fail("oracle.mode", "unknown mode %q", c.Oracle.Mode)
	}
	if c.Oracle.Precision < 0 || c.Oracle.Precision > 18 {
		return fail("oracle.precision", "must be in [0, 18]: %d", c.Oracle.Precision)
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.StatePath == "" {
			return fail("storage.state_path", "must not be empty")
		}
	default:
		return fail("storage.driver", "unknown driver %q", c.Storage.Driver)
	}

	// API
	if c.API.RateLimit <= 0 || c.API.Burst <= 0 {
		return fail("api.rate_limit", "rate and burst must be positive")
	}

	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Stream == "") {
		return fail("redis.addr", "redis enabled without addr/stream")
	}

	if c.Sweeper.Enabled && (c.Sweeper.IntervalSec <= 0 || c.Sweeper.BatchSize <= 0) {
		return fail("sweeper.interval_sec", "interval and batch size must be positive")
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}
