// Package memory implements the cache interfaces in process memory. It is
// the default when no Redis endpoint is configured and the backing store for
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

// SnapshotCache is an in-process domain.MarketSnapshotCache with a TTL.
type SnapshotCache struct {
	mu   sync.Mutex
	snap domain.MarketSnapshot
	set  time.Time
	ttl  time.Duration

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewSnapshotCache creates a snapshot cache with the given TTL.
func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{ttl: ttl, now: time.Now}
}

// Set replaces the cached snapshot.
func (c *SnapshotCache) Set(_ context.Context, snap domain.MarketSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
	c.set = c.now()
	return nil
}

// Get returns the cached snapshot, or ErrNotFound when absent or expired.
func (c *SnapshotCache) Get(_ context.Context) (domain.MarketSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set.IsZero() || c.now().Sub(c.set) > c.ttl {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return c.snap, nil
}

type pricePoint struct {
	price float64
	ts    time.Time
}

// PriceCache is an in-process domain.PriceCache.
type PriceCache struct {
	mu     sync.Mutex
	prices map[string]pricePoint
}

// NewPriceCache creates an empty price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

// SetPrice stores the latest price for an instrument.
func (c *PriceCache) SetPrice(_ context.Context, tokenID string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[tokenID] = pricePoint{price: price, ts: ts}
	return nil
}

// GetPrice returns the latest stored price for an instrument.
func (c *PriceCache) GetPrice(_ context.Context, tokenID string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[tokenID]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("memory cache: price %s: %w", tokenID, domain.ErrNotFound)
	}
	return p.price, p.ts, nil
}

// GetPrices returns the stored price for every requested instrument that has
// one; the rest are omitted.
func (c *PriceCache) GetPrices(_ context.Context, tokenIDs []string) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(tokenIDs))
	for _, id := range tokenIDs {
		if p, ok := c.prices[id]; ok {
			out[id] = p.price
		}
	}
	return out, nil
}

var (
	_ domain.MarketSnapshotCache = (*SnapshotCache)(nil)
	_ domain.PriceCache          = (*PriceCache)(nil)
)
