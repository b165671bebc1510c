// Package engine orchestrates the matching pipeline: index lifecycle, post
// resolution, remote placeholder settlement, price enrichment, overlay
// rendering, live tick application, and the poll fallback when the price
// stream is down.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
	"github.com/Lesnak1/Opinion-Lens/internal/match"
)

// MarketAPI is the remote surface the engine needs from the REST client.
type MarketAPI interface {
	GetMarkets(ctx context.Context, limit, offset int, status, sort string) ([]domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	SearchMarketsBySlug(ctx context.Context, slug string) ([]domain.Market, error)
	GetLatestPrice(ctx context.Context, tokenID string) (float64, error)
}

// Config holds the engine tuning knobs.
type Config struct {
	// IndexTTL is the maximum age of the keyword index before a refresh.
	IndexTTL time.Duration

	// PageSize and MaxPages bound the paginated market discovery fetch.
	PageSize int
	MaxPages int

	// MarketStatus and MarketSort filter and order the discovery request.
	MarketStatus string
	MarketSort   string

	// MinScore and MaxMatches are passed through to the resolver.
	MinScore   int
	MaxMatches int

	// PollInterval paces the price poll fallback while the stream is down.
	PollInterval time.Duration
}

// withDefaults fills zero-valued knobs.
func (c Config) withDefaults() Config {
	if c.IndexTTL <= 0 {
		c.IndexTTL = 5 * time.Minute
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 5
	}
	if c.MarketStatus == "" {
		c.MarketStatus = "activated"
	}
	if c.MarketSort == "" {
		c.MarketSort = "volume"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	return c
}

// Engine ties the resolver to the remote API and the render boundary.
// SnapCache, PriceCache, and Store are optional; a nil value disables the
// concern.
type Engine struct {
	id       string
	api      MarketAPI
	renderer domain.OverlayRenderer
	resolver *match.Resolver
	cfg      Config
	logger   *slog.Logger

	snapCache  domain.MarketSnapshotCache
	priceCache domain.PriceCache
	store      domain.MatchStore

	// subscribe is invoked with newly rendered instrument ids so the stream
	// client can start delivering ticks for them.
	subscribe func(tokenIDs ...string)

	sf singleflight.Group

	mu          sync.Mutex
	index       *match.Index
	refreshedAt time.Time
	rendered    map[string]struct{} // instrument ids with live overlays
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithSnapshotCache enables read-through snapshot caching.
func WithSnapshotCache(c domain.MarketSnapshotCache) Option {
	return func(e *Engine) { e.snapCache = c }
}

// WithPriceCache enables latest-price caching.
func WithPriceCache(c domain.PriceCache) Option {
	return func(e *Engine) { e.priceCache = c }
}

// WithMatchStore enables best-effort audit persistence.
func WithMatchStore(s domain.MatchStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithSubscriber registers the callback fired with newly rendered
// instrument ids.
func WithSubscriber(fn func(tokenIDs ...string)) Option {
	return func(e *Engine) { e.subscribe = fn }
}

// New creates an engine instance.
func New(api MarketAPI, renderer domain.OverlayRenderer, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		id:       uuid.NewString(),
		api:      api,
		renderer: renderer,
		resolver: match.NewResolver(cfg.MaxMatches, cfg.MinScore),
		cfg:      cfg,
		rendered: make(map[string]struct{}),
	}
	e.logger = logger.With(
		slog.String("component", "match_engine"),
		slog.String("engine_id", e.id[:8]),
	)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessPost runs the full pipeline for one post and returns the terminal
// status the watcher should record.
func (e *Engine) ProcessPost(ctx context.Context, post domain.Post) (domain.ProcessingStatus, error) {
	ix, err := e.ensureIndex(ctx)
	if err != nil {
		return domain.StatusFailed, fmt.Errorf("engine: ensure index: %w", err)
	}

	results := e.resolver.FindMatches(post, ix)
	results = e.settlePlaceholders(ctx, results)
	results = e.enrich(ctx, results)
	if len(results) == 0 {
		return domain.StatusNoMatch, nil
	}

	if err := e.renderer.Inject(post.ID, results); err != nil {
		return domain.StatusFailed, fmt.Errorf("engine: inject overlay: %w", err)
	}
	e.trackRendered(results)
	e.audit(ctx, post, results)

	return domain.StatusHasMatch, nil
}

// HandlePriceTick applies a live price to every rendered overlay displaying
// the instrument. It is independent of the matching pipeline and safe to call
// from the stream goroutine.
func (e *Engine) HandlePriceTick(tokenID string, price float64) {
	updated := e.renderer.UpdatePrice(tokenID, price)
	if updated > 0 {
		e.logger.Debug("price tick applied",
			slog.String("token_id", tokenID),
			slog.Float64("price", price),
			slog.Int("overlays", updated),
		)
	}

	if e.priceCache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := e.priceCache.SetPrice(ctx, tokenID, price, time.Now()); err != nil {
			e.logger.Warn("price cache write failed", slog.String("error", err.Error()))
		}
		cancel()
	}
}

// RunPricePoller polls latest prices for every rendered instrument until the
// context is cancelled. The app starts it when the stream reports exhaustion.
func (e *Engine) RunPricePoller(ctx context.Context) {
	e.logger.Info("price poll fallback active", slog.Duration("interval", e.cfg.PollInterval))

	e.warmFromCache(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tokenID := range e.renderedTokens() {
				price, err := e.api.GetLatestPrice(ctx, tokenID)
				if err != nil {
					e.logger.Warn("poll price failed",
						slog.String("token_id", tokenID),
						slog.String("error", err.Error()),
					)
					continue
				}
				e.HandlePriceTick(tokenID, price)
			}
		}
	}
}

// warmFromCache pushes the last cached price for every rendered instrument
// into the overlays with one bulk read, covering the window until the first
// poll tick lands.
func (e *Engine) warmFromCache(ctx context.Context) {
	if e.priceCache == nil {
		return
	}
	tokens := e.renderedTokens()
	if len(tokens) == 0 {
		return
	}
	prices, err := e.priceCache.GetPrices(ctx, tokens)
	if err != nil {
		e.logger.Warn("price cache warm failed", slog.String("error", err.Error()))
		return
	}
	for tokenID, price := range prices {
		e.renderer.UpdatePrice(tokenID, price)
	}
}

// --------------------------------------------------------------------------
// Index lifecycle
// --------------------------------------------------------------------------

// ensureIndex returns a fresh index, refreshing it at most once regardless of
// how many posts are being processed concurrently.
func (e *Engine) ensureIndex(ctx context.Context) (*match.Index, error) {
	if ix := e.freshIndex(); ix != nil {
		return ix, nil
	}

	v, err, _ := e.sf.Do("index", func() (any, error) {
		// Another caller may have finished the refresh while we queued.
		if ix := e.freshIndex(); ix != nil {
			return ix, nil
		}
		return e.refreshIndex(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*match.Index), nil
}

func (e *Engine) freshIndex() *match.Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index != nil && time.Since(e.refreshedAt) < e.cfg.IndexTTL {
		return e.index
	}
	return nil
}

// refreshIndex rebuilds the index from the snapshot cache when a fresh
// snapshot exists, or from a paginated discovery fetch otherwise.
func (e *Engine) refreshIndex(ctx context.Context) (*match.Index, error) {
	snap, ok := e.cachedSnapshot(ctx)
	if !ok {
		markets, err := e.fetchAllMarkets(ctx)
		if err != nil {
			return nil, err
		}
		snap = domain.MarketSnapshot{Markets: markets, FetchedAt: time.Now()}
		if e.snapCache != nil {
			if err := e.snapCache.Set(ctx, snap); err != nil {
				e.logger.Warn("snapshot cache write failed", slog.String("error", err.Error()))
			}
		}
	}

	ix := match.Build(snap.Markets)
	e.mu.Lock()
	e.index = ix
	e.refreshedAt = time.Now()
	e.mu.Unlock()

	e.logger.Info("keyword index refreshed",
		slog.Int("markets", ix.Len()),
		slog.Int("keywords", len(ix.Keywords())),
	)
	return ix, nil
}

func (e *Engine) cachedSnapshot(ctx context.Context) (domain.MarketSnapshot, bool) {
	if e.snapCache == nil {
		return domain.MarketSnapshot{}, false
	}
	snap, err := e.snapCache.Get(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("snapshot cache read failed", slog.String("error", err.Error()))
		}
		return domain.MarketSnapshot{}, false
	}
	if time.Since(snap.FetchedAt) > e.cfg.IndexTTL {
		return domain.MarketSnapshot{}, false
	}
	return snap, true
}

func (e *Engine) fetchAllMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	for page := 0; page < e.cfg.MaxPages; page++ {
		markets, err := e.api.GetMarkets(ctx, e.cfg.PageSize, page*e.cfg.PageSize, e.cfg.MarketStatus, e.cfg.MarketSort)
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", page, err)
		}
		all = append(all, markets...)
		if len(markets) < e.cfg.PageSize {
			break
		}
	}
	return all, nil
}

// --------------------------------------------------------------------------
// Placeholder settlement and enrichment
// --------------------------------------------------------------------------

// settlePlaceholders resolves pending results remotely. A placeholder that
// cannot be settled (unknown direct reference, slug search with no acceptable
// candidate, failed remote call) is dropped from the result set rather than
// failing the post.
func (e *Engine) settlePlaceholders(ctx context.Context, results []domain.MatchResult) []domain.MatchResult {
	out := results[:0]
	for _, res := range results {
		switch res.Pending {
		case domain.PendingNone:
			out = append(out, res)

		case domain.PendingRemoteFetch:
			m, err := e.api.GetMarket(ctx, res.PendingRef)
			if err != nil {
				// An unsettleable placeholder drops out of the result
				// set; the post can still finish as no-match.
				if errors.Is(err, domain.ErrNotFound) {
					e.logger.Info("referenced market unknown", slog.String("market_id", res.PendingRef))
				} else {
					e.logger.Warn("referenced market fetch failed",
						slog.String("market_id", res.PendingRef),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			out = append(out, domain.MatchResult{Market: m, Score: domain.ScoreDirect})

		case domain.PendingSlugSearch:
			candidates, err := e.api.SearchMarketsBySlug(ctx, res.PendingRef)
			if err != nil {
				e.logger.Warn("slug search failed",
					slog.String("slug", res.PendingRef),
					slog.String("error", err.Error()),
				)
				continue
			}
			m := match.SelectSlugMatch(res.PendingRef, candidates)
			if m == nil {
				e.logger.Info("slug search had no acceptable candidate", slog.String("slug", res.PendingRef))
				continue
			}
			out = append(out, domain.MatchResult{Market: *m, Score: domain.ScoreDirect})
		}
	}
	return out
}

// enrich fills missing prices. A failed fetch drops only the affected match;
// the rest of the result set renders normally.
func (e *Engine) enrich(ctx context.Context, results []domain.MatchResult) []domain.MatchResult {
	out := results[:0]
	for _, res := range results {
		if res.Market.Priced() {
			out = append(out, res)
			continue
		}
		enriched, err := e.enrichOne(ctx, res)
		if err != nil {
			e.logger.Warn("price enrichment failed, dropping match",
				slog.String("market_id", res.Market.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, enriched)
	}
	return out
}

func (e *Engine) enrichOne(ctx context.Context, res domain.MatchResult) (domain.MatchResult, error) {
	m := res.Market
	if m.YesToken == "" && m.NoToken == "" {
		// Nothing to enrich with; render without prices.
		return res, nil
	}

	if m.YesToken != "" {
		price, err := e.lookupPrice(ctx, m.YesToken)
		if err != nil {
			return res, err
		}
		m.YesPrice = price
	}
	if m.NoToken != "" {
		price, err := e.lookupPrice(ctx, m.NoToken)
		if err != nil {
			return res, err
		}
		m.NoPrice = price
	}
	m.PricedAt = time.Now()

	res.Market = m
	return res, nil
}

// lookupPrice reads through the price cache to the REST endpoint.
func (e *Engine) lookupPrice(ctx context.Context, tokenID string) (float64, error) {
	if e.priceCache != nil {
		if price, _, err := e.priceCache.GetPrice(ctx, tokenID); err == nil {
			return price, nil
		}
	}

	price, err := e.api.GetLatestPrice(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	if e.priceCache != nil {
		if err := e.priceCache.SetPrice(ctx, tokenID, price, time.Now()); err != nil {
			e.logger.Warn("price cache write failed", slog.String("error", err.Error()))
		}
	}
	return price, nil
}

// --------------------------------------------------------------------------
// Bookkeeping
// --------------------------------------------------------------------------

// trackRendered records the instruments now visible in overlays and notifies
// the stream subscriber about the new ones.
func (e *Engine) trackRendered(results []domain.MatchResult) {
	var fresh []string
	e.mu.Lock()
	for _, res := range results {
		for _, tok := range []string{res.Market.YesToken, res.Market.NoToken} {
			if tok == "" {
				continue
			}
			if _, seen := e.rendered[tok]; !seen {
				e.rendered[tok] = struct{}{}
				fresh = append(fresh, tok)
			}
		}
	}
	e.mu.Unlock()

	if len(fresh) > 0 && e.subscribe != nil {
		e.subscribe(fresh...)
	}
}

// renderedTokens returns the tracked instrument ids in a stable order.
func (e *Engine) renderedTokens() []string {
	e.mu.Lock()
	tokens := make([]string, 0, len(e.rendered))
	for tok := range e.rendered {
		tokens = append(tokens, tok)
	}
	e.mu.Unlock()
	sort.Strings(tokens)
	return tokens
}

// audit persists one record per rendered match. Failures are logged only;
// the audit trail never blocks rendering.
func (e *Engine) audit(ctx context.Context, post domain.Post, results []domain.MatchResult) {
	if e.store == nil {
		return
	}

	fp := domain.Fingerprint(post.Text)
	for _, res := range results {
		rec := domain.MatchRecord{
			ID:              uuid.NewString(),
			PostFingerprint: fp,
			MarketID:        res.Market.ID,
			Score:           res.Score,
			MatchedKeywords: res.MatchedKeywords,
			MatchedAt:       time.Now(),
		}
		if err := e.store.Insert(ctx, rec); err != nil {
			e.logger.Warn("audit insert failed",
				slog.String("market_id", res.Market.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
