package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

func TestSnapshotCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(5 * time.Minute)

	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	_, err := c.Get(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound, "empty cache must miss")

	snap := domain.MarketSnapshot{
		Markets:   []domain.Market{{ID: "101", Title: "Will Bitcoin reach $100k by 2025?"}},
		FetchedAt: clock,
	}
	require.NoError(t, c.Set(ctx, snap))

	clock = clock.Add(4 * time.Minute)
	got, err := c.Get(ctx)
	require.NoError(t, err, "fresh snapshot must hit")
	require.Len(t, got.Markets, 1)
	assert.Equal(t, "101", got.Markets[0].ID)

	clock = clock.Add(2 * time.Minute)
	_, err = c.Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound, "expired snapshot must miss")
}

func TestPriceCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewPriceCache()

	_, _, err := c.GetPrice(ctx, "tok-y")
	require.ErrorIs(t, err, domain.ErrNotFound, "missing instrument must miss")

	ts := time.Now()
	require.NoError(t, c.SetPrice(ctx, "tok-y", 0.61, ts))

	price, gotTS, err := c.GetPrice(ctx, "tok-y")
	require.NoError(t, err)
	assert.Equal(t, 0.61, price)
	assert.True(t, gotTS.Equal(ts))
}

func TestPriceCache_BulkRead(t *testing.T) {
	ctx := context.Background()
	c := NewPriceCache()

	ts := time.Now()
	require.NoError(t, c.SetPrice(ctx, "tok-y", 0.61, ts))
	require.NoError(t, c.SetPrice(ctx, "tok-n", 0.39, ts))

	got, err := c.GetPrices(ctx, []string{"tok-y", "tok-n", "tok-missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"tok-y": 0.61, "tok-n": 0.39}, got)
}
