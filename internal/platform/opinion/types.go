package opinion

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

// flexFloat unmarshals from a JSON number or a numeric string, which the API
// uses interchangeably for prices and volumes.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the markets endpoints.
type APIMarket struct {
	ID         string    `json:"marketId"`
	Title      string    `json:"marketTitle"`
	Slug       string    `json:"slug"`
	Status     string    `json:"status"`
	YesLabel   string    `json:"yesLabel"`
	NoLabel    string    `json:"noLabel"`
	YesTokenID string    `json:"yesTokenId"`
	NoTokenID  string    `json:"noTokenId"`
	Volume24h  flexFloat `json:"volume24h"`
	CreatedAt  string    `json:"createdAt"`
	CutoffAt   string    `json:"cutoffAt"`
	YesPrice   flexFloat `json:"yesPrice,omitempty"`
	NoPrice    flexFloat `json:"noPrice,omitempty"`
}

// ToDomainMarket converts the wire representation to a domain market.
func (m *APIMarket) ToDomainMarket() domain.Market {
	out := domain.Market{
		ID:        m.ID,
		Title:     m.Title,
		Slug:      m.Slug,
		YesLabel:  m.YesLabel,
		NoLabel:   m.NoLabel,
		YesToken:  m.YesTokenID,
		NoToken:   m.NoTokenID,
		Volume24h: float64(m.Volume24h),
		Status:    marketStatus(m.Status),
	}
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.CutoffAt); err == nil {
		out.CutoffAt = t
	}
	if m.YesPrice > 0 || m.NoPrice > 0 {
		out.YesPrice = float64(m.YesPrice)
		out.NoPrice = float64(m.NoPrice)
		out.PricedAt = time.Now()
	}
	return out
}

func marketStatus(s string) domain.MarketStatus {
	switch strings.ToLower(s) {
	case "activated", "active":
		return domain.MarketStatusActive
	case "closed":
		return domain.MarketStatusClosed
	default:
		return domain.MarketStatusSettled
	}
}

// marketListResponse wraps the paginated markets endpoint payload.
type marketListResponse struct {
	Markets []APIMarket `json:"markets"`
	Total   int         `json:"total"`
}

// APIPrice is the latest-price endpoint payload for one instrument.
type APIPrice struct {
	TokenID string    `json:"tokenId"`
	Price   flexFloat `json:"price"`
	TS      int64     `json:"timestamp"`
}

// APISettings is the remote feature-gate payload checked once at startup.
type APISettings struct {
	Enabled    bool   `json:"enabled"`
	MinVersion string `json:"minVersion"`
	Message    string `json:"message"`
}

// --------------------------------------------------------------------------
// Stream frames
// --------------------------------------------------------------------------

// FrameKind enumerates the closed set of stream frame types.
type FrameKind string

const (
	FramePriceUpdate FrameKind = "price_update"
	FramePong        FrameKind = "pong"
	FrameSubscribed  FrameKind = "subscribed"
	FrameError       FrameKind = "error"
)

// streamEnvelope is the outer shape of every incoming frame.
type streamEnvelope struct {
	Type FrameKind `json:"type"`
}

// priceFrame carries one live price tick.
type priceFrame struct {
	Type    FrameKind `json:"type"`
	TokenID string    `json:"tokenId"`
	Price   flexFloat `json:"price"`
}

// errorFrame carries a server-side stream error.
type errorFrame struct {
	Type    FrameKind `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// streamCommand is an outgoing auth or subscription frame.
type streamCommand struct {
	Type     string   `json:"type"`
	Token    string   `json:"token,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	TokenIDs []string `json:"tokenIds,omitempty"`
}
