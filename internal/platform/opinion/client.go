// Package opinion contains the REST and websocket clients for the Opinion
// market API: discovery, detail and slug lookup, latest prices, the remote
// feature gate, and the live price stream.
package opinion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

// requestTimeout bounds every REST call.
const requestTimeout = 15 * time.Second

// Client is the REST client for the Opinion market API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a REST client.
//
// baseURL is the API root, e.g. "https://api.opinion.example". apiKey may be
// empty; market discovery endpoints are public.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// GetMarkets returns one page of markets ordered by the given sort key.
func (c *Client) GetMarkets(ctx context.Context, limit, offset int, status, sort string) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	if status != "" {
		params.Set("status", status)
	}
	if sort != "" {
		params.Set("sort", sort)
	}

	body, err := c.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("opinion: get markets: %w", err)
	}

	var resp marketListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("opinion: decode markets: %w: %v", domain.ErrParse, err)
	}

	markets := make([]domain.Market, 0, len(resp.Markets))
	for i := range resp.Markets {
		markets = append(markets, resp.Markets[i].ToDomainMarket())
	}
	return markets, nil
}

// GetMarket returns a single market by its id.
func (c *Client) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("opinion: get market %s: %w", id, err)
	}

	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Market{}, fmt.Errorf("opinion: decode market: %w: %v", domain.ErrParse, err)
	}
	return m.ToDomainMarket(), nil
}

// SearchMarketsBySlug runs a server-side slug search and returns the
// candidates in relevance order.
func (c *Client) SearchMarketsBySlug(ctx context.Context, slug string) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := c.doGet(ctx, "/markets/search?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("opinion: search slug %s: %w", slug, err)
	}

	var resp marketListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("opinion: decode search results: %w: %v", domain.ErrParse, err)
	}

	markets := make([]domain.Market, 0, len(resp.Markets))
	for i := range resp.Markets {
		markets = append(markets, resp.Markets[i].ToDomainMarket())
	}
	return markets, nil
}

// GetLatestPrice returns the latest traded price for one instrument.
func (c *Client) GetLatestPrice(ctx context.Context, tokenID string) (float64, error) {
	body, err := c.doGet(ctx, "/prices/"+url.PathEscape(tokenID)+"/latest")
	if err != nil {
		return 0, fmt.Errorf("opinion: latest price %s: %w", tokenID, err)
	}

	var p APIPrice
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, fmt.Errorf("opinion: decode price: %w: %v", domain.ErrParse, err)
	}
	return float64(p.Price), nil
}

// GetEngineSettings fetches the remote feature gate. Callers refuse to start
// when Enabled is false.
func (c *Client) GetEngineSettings(ctx context.Context) (APISettings, error) {
	body, err := c.doGet(ctx, "/settings/engine")
	if err != nil {
		return APISettings{}, fmt.Errorf("opinion: get settings: %w", err)
	}

	var s APISettings
	if err := json.Unmarshal(body, &s); err != nil {
		return APISettings{}, fmt.Errorf("opinion: decode settings: %w: %v", domain.ErrParse, err)
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends a GET request and maps transport failures onto the domain
// error taxonomy.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus converts a non-2xx response into a domain error.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, string(body))
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTimeout, statusCode, string(body))
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNetwork, statusCode, string(body))
	}
}
