// Package config defines the top-level configuration for the overlay engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPINIONLENS_* environment variables.
type Config struct {
	Opinion  OpinionConfig  `toml:"opinion"`
	Stream   StreamConfig   `toml:"stream"`
	Engine   EngineConfig   `toml:"engine"`
	Watcher  WatcherConfig  `toml:"watcher"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	Feed     FeedConfig     `toml:"feed"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OpinionConfig holds the market API endpoint and credential.
type OpinionConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// StreamConfig holds the price stream endpoint and reconnection policy.
type StreamConfig struct {
	URL              string   `toml:"url"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
	ReconnectBase    duration `toml:"reconnect_base"`
	ReconnectMax     duration `toml:"reconnect_max"`
	MaxAttempts      int      `toml:"max_attempts"`
}

// EngineConfig holds matching pipeline parameters.
type EngineConfig struct {
	IndexTTL     duration `toml:"index_ttl"`
	PageSize     int      `toml:"page_size"`
	MaxPages     int      `toml:"max_pages"`
	MarketStatus string   `toml:"market_status"`
	MarketSort   string   `toml:"market_sort"`
	MinScore     int      `toml:"min_score"`
	MaxMatches   int      `toml:"max_matches"`
	PollInterval duration `toml:"poll_interval"`
}

// WatcherConfig holds feed observation timings.
type WatcherConfig struct {
	ScanInterval     duration   `toml:"scan_interval"`
	MutationThrottle duration   `toml:"mutation_throttle"`
	NavRescanDelays  []duration `toml:"nav_rescan_delays"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled the in-memory caches are used.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds the optional match audit database.
type PostgresConfig struct {
	Enabled      bool   `toml:"enabled"`
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// FeedConfig holds the feed source for replay and watch modes.
type FeedConfig struct {
	ScriptPath string `toml:"script_path"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Durations converts a slice of TOML durations to time.Durations.
func Durations(ds []duration) []time.Duration {
	out := make([]time.Duration, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Duration)
	}
	return out
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Opinion: OpinionConfig{
			BaseURL: "https://api.opinionlens.example",
		},
		Stream: StreamConfig{
			URL:              "wss://stream.opinionlens.example/v1",
			HandshakeTimeout: duration{15 * time.Second},
			ReconnectBase:    duration{2 * time.Second},
			ReconnectMax:     duration{60 * time.Second},
			MaxAttempts:      8,
		},
		Engine: EngineConfig{
			IndexTTL:     duration{5 * time.Minute},
			PageSize:     100,
			MaxPages:     5,
			MarketStatus: "activated",
			MarketSort:   "volume",
			MinScore:     2,
			MaxMatches:   3,
			PollInterval: duration{30 * time.Second},
		},
		Watcher: WatcherConfig{
			ScanInterval:     duration{3 * time.Second},
			MutationThrottle: duration{250 * time.Millisecond},
			NavRescanDelays: []duration{
				{500 * time.Millisecond},
				{1500 * time.Millisecond},
				{3 * time.Second},
			},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "opinionlens",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Feed: FeedConfig{
			ScriptPath: "feed_script.json",
		},
		Mode:     "replay",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"replay": true,
	"watch":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: replay, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Opinion.BaseURL == "" {
		errs = append(errs, "opinion: base_url must not be empty")
	}

	// Stream — credential required only when live ticks are on (watch mode).
	if strings.ToLower(c.Mode) == "watch" {
		if c.Stream.URL == "" {
			errs = append(errs, "stream: url must not be empty in watch mode")
		}
		if c.Opinion.APIKey == "" {
			errs = append(errs, "opinion: api_key is required in watch mode (the stream refuses anonymous connections)")
		}
	}
	if c.Stream.MaxAttempts < 1 {
		errs = append(errs, "stream: max_attempts must be >= 1")
	}
	if c.Stream.ReconnectBase.Duration <= 0 {
		errs = append(errs, "stream: reconnect_base must be > 0")
	}
	if c.Stream.ReconnectMax.Duration < c.Stream.ReconnectBase.Duration {
		errs = append(errs, "stream: reconnect_max must be >= reconnect_base")
	}

	// Engine
	if c.Engine.IndexTTL.Duration <= 0 {
		errs = append(errs, "engine: index_ttl must be > 0")
	}
	if c.Engine.PageSize < 1 {
		errs = append(errs, "engine: page_size must be >= 1")
	}
	if c.Engine.MaxPages < 1 {
		errs = append(errs, "engine: max_pages must be >= 1")
	}
	if c.Engine.MinScore < 1 {
		errs = append(errs, "engine: min_score must be >= 1")
	}
	if c.Engine.MaxMatches < 1 {
		errs = append(errs, "engine: max_matches must be >= 1")
	}
	if c.Engine.PollInterval.Duration <= 0 {
		errs = append(errs, "engine: poll_interval must be > 0")
	}

	// Watcher
	if c.Watcher.ScanInterval.Duration <= 0 {
		errs = append(errs, "watcher: scan_interval must be > 0")
	}
	if c.Watcher.MutationThrottle.Duration <= 0 {
		errs = append(errs, "watcher: mutation_throttle must be > 0")
	}
	for i, d := range c.Watcher.NavRescanDelays {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("watcher: nav_rescan_delays[%d] must be > 0", i))
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Feed
	if c.Feed.ScriptPath == "" {
		errs = append(errs, "feed: script_path must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
