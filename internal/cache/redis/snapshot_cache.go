package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

// snapshotKey holds the JSON-serialized wholesale market snapshot. The list
// is always replaced as a unit, never patched, so a single key with a TTL is
// the whole schema.
var snapshotKey = key("markets", "snapshot")

// SnapshotCache implements domain.MarketSnapshotCache on Redis. It lets a
// restarted process reuse a recent market list instead of re-paginating the
// discovery endpoint.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

// Set stores the snapshot, replacing any previous one.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot: %w", err)
	}
	return nil
}

// Get retrieves the current snapshot. It returns domain.ErrNotFound when no
// snapshot is cached or the TTL has expired.
func (sc *SnapshotCache) Get(ctx context.Context) (domain.MarketSnapshot, error) {
	data, err := sc.rdb.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot: %w", err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.MarketSnapshotCache = (*SnapshotCache)(nil)
