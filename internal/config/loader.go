package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPINIONLENS_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPINIONLENS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Opinion API ──
	setStr(&cfg.Opinion.BaseURL, "OPINIONLENS_OPINION_BASE_URL")
	setStr(&cfg.Opinion.APIKey, "OPINIONLENS_OPINION_API_KEY")

	// ── Stream ──
	setStr(&cfg.Stream.URL, "OPINIONLENS_STREAM_URL")
	setDuration(&cfg.Stream.HandshakeTimeout, "OPINIONLENS_STREAM_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Stream.ReconnectBase, "OPINIONLENS_STREAM_RECONNECT_BASE")
	setDuration(&cfg.Stream.ReconnectMax, "OPINIONLENS_STREAM_RECONNECT_MAX")
	setInt(&cfg.Stream.MaxAttempts, "OPINIONLENS_STREAM_MAX_ATTEMPTS")

	// ── Engine ──
	setDuration(&cfg.Engine.IndexTTL, "OPINIONLENS_ENGINE_INDEX_TTL")
	setInt(&cfg.Engine.PageSize, "OPINIONLENS_ENGINE_PAGE_SIZE")
	setInt(&cfg.Engine.MaxPages, "OPINIONLENS_ENGINE_MAX_PAGES")
	setStr(&cfg.Engine.MarketStatus, "OPINIONLENS_ENGINE_MARKET_STATUS")
	setStr(&cfg.Engine.MarketSort, "OPINIONLENS_ENGINE_MARKET_SORT")
	setInt(&cfg.Engine.MinScore, "OPINIONLENS_ENGINE_MIN_SCORE")
	setInt(&cfg.Engine.MaxMatches, "OPINIONLENS_ENGINE_MAX_MATCHES")
	setDuration(&cfg.Engine.PollInterval, "OPINIONLENS_ENGINE_POLL_INTERVAL")

	// ── Watcher ──
	setDuration(&cfg.Watcher.ScanInterval, "OPINIONLENS_WATCHER_SCAN_INTERVAL")
	setDuration(&cfg.Watcher.MutationThrottle, "OPINIONLENS_WATCHER_MUTATION_THROTTLE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "OPINIONLENS_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OPINIONLENS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPINIONLENS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPINIONLENS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPINIONLENS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPINIONLENS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPINIONLENS_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "OPINIONLENS_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "OPINIONLENS_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OPINIONLENS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OPINIONLENS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OPINIONLENS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OPINIONLENS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OPINIONLENS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OPINIONLENS_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OPINIONLENS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OPINIONLENS_POSTGRES_POOL_MIN_CONNS")

	// ── Feed ──
	setStr(&cfg.Feed.ScriptPath, "OPINIONLENS_FEED_SCRIPT_PATH")

	// ── Top-level ──
	setStr(&cfg.Mode, "OPINIONLENS_MODE")
	setStr(&cfg.LogLevel, "OPINIONLENS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
