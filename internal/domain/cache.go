package domain

import (
	"context"
	"time"
)

// MarketSnapshotCache stores the wholesale market-list snapshot between index
// refresh cycles. Implementations return ErrNotFound when no snapshot is
// cached or the cached one has expired.
type MarketSnapshotCache interface {
	Set(ctx context.Context, snap MarketSnapshot) error
	Get(ctx context.Context) (MarketSnapshot, error)
}

// PriceCache provides fast access to the latest price per instrument id.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error)

	// GetPrices bulk-reads the latest prices for the given instruments.
	// Instruments with no cached price are omitted from the result.
	GetPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}
