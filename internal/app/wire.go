package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	cachemem "github.com/Lesnak1/Opinion-Lens/internal/cache/memory"
	"github.com/Lesnak1/Opinion-Lens/internal/cache/redis"
	"github.com/Lesnak1/Opinion-Lens/internal/config"
	"github.com/Lesnak1/Opinion-Lens/internal/domain"
	"github.com/Lesnak1/Opinion-Lens/internal/platform/opinion"
	"github.com/Lesnak1/Opinion-Lens/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Client talks to the Opinion REST API.
	Client *opinion.Client

	// Stream is the live price feed. Nil in replay mode.
	Stream *opinion.StreamClient

	// Caches. Backed by Redis when enabled, in-memory otherwise.
	SnapshotCache domain.MarketSnapshotCache
	PriceCache    domain.PriceCache

	// MatchStore persists the match audit trail. Nil when Postgres is
	// disabled; auditing is then skipped entirely.
	MatchStore domain.MatchStore
}

// needsStream returns true for modes that consume live price ticks.
func needsStream(mode string) bool {
	return strings.ToLower(mode) == "watch"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Client: opinion.NewClient(cfg.Opinion.BaseURL, cfg.Opinion.APIKey),
	}

	// --- Caches ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SnapshotCache = redis.NewSnapshotCache(redisClient, cfg.Engine.IndexTTL.Duration)
		deps.PriceCache = redis.NewPriceCache(redisClient)
	} else {
		deps.SnapshotCache = cachemem.NewSnapshotCache(cfg.Engine.IndexTTL.Duration)
		deps.PriceCache = cachemem.NewPriceCache()
	}

	// --- PostgreSQL audit trail (optional) ---
	if cfg.Postgres.Enabled {
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

		store := postgres.NewMatchStore(pgClient.Pool())
		if err := store.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres schema: %w", err)
		}
		deps.MatchStore = store
	}

	// --- Price stream (only for modes that consume live ticks) ---
	if needsStream(cfg.Mode) {
		deps.Stream = opinion.NewStreamClient(opinion.StreamConfig{
			URL:              cfg.Stream.URL,
			APIKey:           cfg.Opinion.APIKey,
			HandshakeTimeout: cfg.Stream.HandshakeTimeout.Duration,
			ReconnectBase:    cfg.Stream.ReconnectBase.Duration,
			ReconnectMax:     cfg.Stream.ReconnectMax.Duration,
			MaxAttempts:      cfg.Stream.MaxAttempts,
		}, logger)
		closers = append(closers, func() { _ = deps.Stream.Close() })
	}

	return deps, cleanup, nil
}
