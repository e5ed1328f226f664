// Package config loads process configuration from an optional YAML file
// and LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned for configuration that cannot start the process.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes environment overrides: storage.backend -> LEDGER_STORAGE_BACKEND.
const EnvPrefix = "LEDGER"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
)

// Config is the full process configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Analytics   AnalyticsConfig   `mapstructure:"analytics"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Server      ServerConfig      `mapstructure:"server"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
}

// StorageConfig selects the ledger and snapshot backends.
type StorageConfig struct {
	Backend         string `mapstructure:"backend"` // memory or postgres
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	PostgresMaxConn int32  `mapstructure:"postgres_max_conns"`
	ClickHouseDSN   string `mapstructure:"clickhouse_dsn"` // optional snapshot sink
	PageSize        int    `mapstructure:"page_size"`

	// SnapshotBackend holds idempotency snapshots: memory, file, sqlite or postgres.
	SnapshotBackend string `mapstructure:"snapshot_backend"`
	SnapshotDir     string `mapstructure:"snapshot_dir"`
	SQLitePath      string `mapstructure:"sqlite_path"`
}

// IdempotencyConfig sizes the idempotency caches.
type IdempotencyConfig struct {
	SignalTTL       time.Duration `mapstructure:"signal_ttl"`
	RebalanceTTL    time.Duration `mapstructure:"rebalance_ttl"`
	Capacity        int           `mapstructure:"capacity"`
	PersistInterval time.Duration `mapstructure:"persist_interval"`
}

// AnalyticsConfig tunes performance computations.
type AnalyticsConfig struct {
	SharpeLookback time.Duration `mapstructure:"sharpe_lookback"`
	MinClosedLots  int           `mapstructure:"min_closed_lots"`
	MinTradingDays int           `mapstructure:"min_trading_days"`
	RiskFreeRate   float64       `mapstructure:"risk_free_rate"` // annual
	Concurrency    int           `mapstructure:"concurrency"`
}

// CollectorConfig schedules the metrics collection job.
type CollectorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Namespace string        `mapstructure:"namespace"`
}

// FeedConfig configures the inbound websocket event feed.
type FeedConfig struct {
	Endpoint          string        `mapstructure:"endpoint"` // empty disables the feed
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// ServerConfig configures the HTTP endpoint.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads path (if non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.postgres_max_conns", 0)
	v.SetDefault("storage.clickhouse_dsn", "")
	v.SetDefault("storage.page_size", 500)
	v.SetDefault("storage.snapshot_backend", BackendMemory)
	v.SetDefault("storage.snapshot_dir", "data/snapshots")
	v.SetDefault("storage.sqlite_path", "data/idempotency.db")

	v.SetDefault("idempotency.signal_ttl", 24*time.Hour)
	v.SetDefault("idempotency.rebalance_ttl", 6*time.Hour)
	v.SetDefault("idempotency.capacity", 10000)
	v.SetDefault("idempotency.persist_interval", 30*time.Second)

	v.SetDefault("analytics.sharpe_lookback", 90*24*time.Hour)
	v.SetDefault("analytics.min_closed_lots", 5)
	v.SetDefault("analytics.min_trading_days", 5)
	v.SetDefault("analytics.risk_free_rate", 0.0)
	v.SetDefault("analytics.concurrency", 4)

	v.SetDefault("collector.enabled", true)
	v.SetDefault("collector.interval", 5*time.Minute)
	v.SetDefault("collector.namespace", "strategy_ledger")

	v.SetDefault("feed.endpoint", "")
	v.SetDefault("feed.reconnect_delay", time.Second)
	v.SetDefault("feed.max_reconnect_delay", 30*time.Second)
	v.SetDefault("feed.ping_interval", 30*time.Second)
	v.SetDefault("feed.read_timeout", 60*time.Second)
	v.SetDefault("feed.write_timeout", 10*time.Second)

	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
}

// Validate checks every section. All problems are reported together.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		add("log.format must be json or console, got %q", c.Log.Format)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			add("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		add("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	switch c.Storage.SnapshotBackend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.SnapshotDir == "" {
			add("storage.snapshot_dir is required for the file snapshot backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			add("storage.sqlite_path is required for the sqlite snapshot backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			add("storage.postgres_dsn is required for the postgres snapshot backend")
		}
	default:
		add("storage.snapshot_backend must be memory, file, sqlite or postgres, got %q", c.Storage.SnapshotBackend)
	}
	if c.Storage.PageSize <= 0 {
		add("storage.page_size must be > 0")
	}

	if c.Idempotency.SignalTTL <= 0 || c.Idempotency.RebalanceTTL <= 0 {
		add("idempotency ttls must be > 0")
	}
	if c.Idempotency.Capacity <= 0 {
		add("idempotency.capacity must be > 0")
	}
	if c.Idempotency.PersistInterval <= 0 {
		add("idempotency.persist_interval must be > 0")
	}

	if c.Analytics.SharpeLookback <= 0 {
		add("analytics.sharpe_lookback must be > 0")
	}
	if c.Analytics.MinClosedLots < 1 || c.Analytics.MinTradingDays < 2 {
		add("analytics.min_closed_lots must be >= 1 and analytics.min_trading_days >= 2")
	}
	if c.Analytics.Concurrency <= 0 {
		add("analytics.concurrency must be > 0")
	}

	if c.Collector.Enabled && c.Collector.Interval <= 0 {
		add("collector.interval must be > 0 when the collector is enabled")
	}

	if c.Feed.Endpoint != "" {
		if !strings.HasPrefix(c.Feed.Endpoint, "ws://") && !strings.HasPrefix(c.Feed.Endpoint, "wss://") {
			add("feed.endpoint must be a ws:// or wss:// url")
		}
		if c.Feed.ReconnectDelay <= 0 || c.Feed.MaxReconnectDelay < c.Feed.ReconnectDelay {
			add("feed reconnect delays must be > 0 with max >= initial")
		}
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
