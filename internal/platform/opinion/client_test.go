package opinion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

func TestClient_GetMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("limit") != "20" || q.Get("offset") != "40" {
			t.Errorf("unexpected pagination params: %v", q)
		}
		if q.Get("status") != "activated" || q.Get("sort") != "volume" {
			t.Errorf("unexpected filter params: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		// Volume as string, prices as numbers: the API sends both shapes.
		w.Write([]byte(`{"markets":[
			{"marketId":"101","marketTitle":"Will Bitcoin reach $100k by 2025?",
			 "slug":"bitcoin-100k-2025","status":"activated",
			 "yesTokenId":"tok-y","noTokenId":"tok-n",
			 "volume24h":"12345.5","yesPrice":0.62,"noPrice":0.38,
			 "createdAt":"2025-01-02T03:04:05Z"}
		],"total":1}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	markets, err := c.GetMarkets(context.Background(), 20, 40, "activated", "volume")
	if err != nil {
		t.Fatalf("GetMarkets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}

	m := markets[0]
	if m.ID != "101" || m.Slug != "bitcoin-100k-2025" {
		t.Errorf("bad identity fields: %+v", m)
	}
	if m.Status != domain.MarketStatusActive {
		t.Errorf("expected active status, got %s", m.Status)
	}
	if m.Volume24h != 12345.5 {
		t.Errorf("string volume not parsed: %v", m.Volume24h)
	}
	if !m.Priced() || m.YesPrice != 0.62 || m.NoPrice != 0.38 {
		t.Errorf("prices not carried over: %+v", m)
	}
	if m.CreatedAt.IsZero() {
		t.Errorf("createdAt not parsed")
	}
}

func TestClient_GetMarket_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").GetMarket(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_GetMarket_ParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"marketId": 12,`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").GetMarket(context.Background(), "101")
	if !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestClient_ServerErrorMapsToNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").GetMarkets(context.Background(), 10, 0, "", "")
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestClient_GetLatestPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prices/tok-y/latest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"tokenId":"tok-y","price":"0.57","timestamp":1735689600}`))
	}))
	defer srv.Close()

	price, err := NewClient(srv.URL, "").GetLatestPrice(context.Background(), "tok-y")
	if err != nil {
		t.Fatalf("GetLatestPrice: %v", err)
	}
	if price != 0.57 {
		t.Errorf("expected 0.57, got %v", price)
	}
}

func TestClient_SearchMarketsBySlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("slug"); got != "nfl-championship-lix" {
			t.Errorf("unexpected slug param %q", got)
		}
		w.Write([]byte(`{"markets":[{"marketId":"y","marketTitle":"NFL championship game odds","slug":"nfl-championship-game","status":"activated"}],"total":1}`))
	}))
	defer srv.Close()

	markets, err := NewClient(srv.URL, "").SearchMarketsBySlug(context.Background(), "nfl-championship-lix")
	if err != nil {
		t.Fatalf("SearchMarketsBySlug: %v", err)
	}
	if len(markets) != 1 || markets[0].ID != "y" {
		t.Fatalf("unexpected results: %v", markets)
	}
}

func TestClient_GetEngineSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settings/engine" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("missing auth header, got %q", got)
		}
		w.Write([]byte(`{"enabled":false,"minVersion":"1.2.0","message":"maintenance"}`))
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, "sekrit").GetEngineSettings(context.Background())
	if err != nil {
		t.Fatalf("GetEngineSettings: %v", err)
	}
	if s.Enabled {
		t.Errorf("expected disabled gate")
	}
	if s.Message != "maintenance" {
		t.Errorf("unexpected message %q", s.Message)
	}
}
