package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market is an immutable snapshot of a binary prediction market. The keyword
// index owns a full snapshot per refresh cycle; markets are replaced
// wholesale, never patched in place.
type Market struct {
	ID        string
	Title     string
	Slug      string
	YesLabel  string
	NoLabel   string
	YesToken  string // instrument id the Yes price stream is keyed by
	NoToken   string
	Volume24h float64
	Status    MarketStatus
	CreatedAt time.Time
	CutoffAt  time.Time

	// Enriched price fields. PricedAt is zero until a price fetch or a
	// stream tick has populated YesPrice/NoPrice.
	YesPrice float64
	NoPrice  float64
	PricedAt time.Time
}

// Priced reports whether the market carries live price data.
func (m Market) Priced() bool {
	return !m.PricedAt.IsZero()
}

// MarketSnapshot is a wholesale copy of the market list at a point in time.
type MarketSnapshot struct {
	Markets   []Market
	FetchedAt time.Time
}
