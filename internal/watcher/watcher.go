// Package watcher tracks posts in a live, mutating, virtualized feed view and
// feeds unprocessed text to a processing callback. It owns every observation
// policy: structural-change throttling, periodic safety-net scans, lazy
// visibility gating, navigation handling, and overlay health checks.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

// Config holds the observation timing knobs.
type Config struct {
	// ScanInterval is the periodic safety-net rescan that re-derives state
	// in case structural observation missed a change.
	ScanInterval time.Duration

	// MutationThrottle coalesces bursts of structural notifications into a
	// single scan.
	MutationThrottle time.Duration

	// NavRescanDelays are the staggered rescans after a navigation,
	// absorbing the target page's asynchronous render.
	NavRescanDelays []time.Duration
}

// DefaultConfig returns the production observation timings.
func DefaultConfig() Config {
	return Config{
		ScanInterval:     3 * time.Second,
		MutationThrottle: 250 * time.Millisecond,
		NavRescanDelays:  []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second},
	}
}

// ProcessFunc runs the matching pipeline for one post and returns the
// terminal status. Errors mark the post failed; it stays failed until its
// content is recycled.
type ProcessFunc func(ctx context.Context, post domain.Post) (domain.ProcessingStatus, error)

// Watcher is the per-post state machine over a feed view.
type Watcher struct {
	view     domain.FeedView
	renderer domain.OverlayRenderer
	process  ProcessFunc
	cfg      Config
	logger   *slog.Logger

	mu         sync.Mutex
	records    map[domain.PostID]*domain.ProcessingRecord
	lazy       map[domain.PostID]struct{}
	timers     []*time.Timer
	throttling bool

	rescan    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Watcher. The callback is invoked at most once concurrently
// per identity; the identity is moved to processing before the callback runs.
func New(view domain.FeedView, renderer domain.OverlayRenderer, process ProcessFunc, cfg Config, logger *slog.Logger) *Watcher {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultConfig().ScanInterval
	}
	if cfg.MutationThrottle <= 0 {
		cfg.MutationThrottle = DefaultConfig().MutationThrottle
	}
	if len(cfg.NavRescanDelays) == 0 {
		cfg.NavRescanDelays = DefaultConfig().NavRescanDelays
	}
	return &Watcher{
		view:     view,
		renderer: renderer,
		process:  process,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "feed_watcher")),
		records:  make(map[domain.PostID]*domain.ProcessingRecord),
		lazy:     make(map[domain.PostID]struct{}),
		rescan:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Run drives the watcher until the context is cancelled, Close is called, or
// the host is invalidated. Host invalidation is terminal and returned to the
// caller; transient scan errors are logged and absorbed.
func (w *Watcher) Run(ctx context.Context) error {
	mutations := w.view.Mutations()

	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	if err := w.scan(ctx); err != nil {
		if errors.Is(err, domain.ErrHostInvalidated) {
			w.Close()
			return err
		}
		w.logger.Warn("initial scan failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			w.Close()
			return ctx.Err()

		case <-w.done:
			return nil

		case ev, ok := <-mutations:
			if !ok {
				w.Close()
				return fmt.Errorf("watcher: mutation feed closed: %w", domain.ErrHostInvalidated)
			}
			switch ev.Kind {
			case domain.MutationStructural:
				w.throttleScan()
			case domain.MutationNavigation:
				w.handleNavigation()
			case domain.MutationVisibility:
				w.handleVisibility(ctx, ev.Post)
			}

		case <-w.rescan:
			if err := w.scanOrStop(ctx); err != nil {
				return err
			}

		case <-ticker.C:
			if err := w.scanOrStop(ctx); err != nil {
				return err
			}
		}
	}
}

// scanOrStop runs a scan, absorbing transient errors and returning only the
// terminal host-invalidated error.
func (w *Watcher) scanOrStop(ctx context.Context) error {
	err := w.scan(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrHostInvalidated) {
		w.Close()
		return err
	}
	w.logger.Warn("scan failed", slog.String("error", err.Error()))
	return nil
}

// Close stops the run loop, cancels all pending timers, and guarantees that
// no processing result is applied after teardown. In-flight callbacks are not
// cancelled; their late results are discarded.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for _, t := range w.timers {
			t.Stop()
		}
		w.timers = nil
		w.mu.Unlock()
	})
}

// StatusOf returns the tracked status for an identity.
func (w *Watcher) StatusOf(id domain.PostID) (domain.ProcessingStatus, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.records[id]
	if !ok {
		return domain.StatusUnseen, false
	}
	return rec.Status, true
}

// LazyQueueLen reports how many identities are deferred off-viewport.
func (w *Watcher) LazyQueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.lazy)
}

// scan re-derives the state of every candidate post.
func (w *Watcher) scan(ctx context.Context) error {
	posts, err := w.view.CandidatePosts()
	if err != nil {
		return fmt.Errorf("watcher: candidate posts: %w", err)
	}

	for _, p := range posts {
		select {
		case <-w.done:
			return nil
		default:
		}
		w.evaluate(ctx, p)
	}

	w.pruneGone(posts)
	return nil
}

// evaluate applies recycling, health-check, and dispatch rules to one post.
func (w *Watcher) evaluate(ctx context.Context, p domain.Post) {
	fp := domain.Fingerprint(p.Text)

	w.mu.Lock()
	rec, ok := w.records[p.ID]
	if !ok {
		rec = &domain.ProcessingRecord{Status: domain.StatusUnseen, Fingerprint: fp}
		w.records[p.ID] = rec
	}

	// Virtualized feeds reuse identities for different content: any
	// terminal state whose fingerprint no longer matches the live text
	// goes back to unseen.
	if rec.Status != domain.StatusUnseen && rec.Status != domain.StatusProcessing && rec.Fingerprint != fp {
		if rec.Status == domain.StatusHasMatch {
			w.renderer.Remove(p.ID)
		}
		rec.Status = domain.StatusUnseen
	}

	// Health check: the host re-rendered and dropped our injected overlay.
	if rec.Status == domain.StatusHasMatch && !w.view.OverlayAttached(p.ID) {
		rec.Status = domain.StatusUnseen
	}

	if rec.Status != domain.StatusUnseen {
		w.mu.Unlock()
		return
	}
	rec.Fingerprint = fp

	visible, err := w.view.IsVisible(p.ID)
	if err != nil {
		w.mu.Unlock()
		w.logger.Debug("visibility check failed", slog.String("post", string(p.ID)), slog.String("error", err.Error()))
		return
	}
	if !visible {
		// Defer until the post approaches the viewport; bounds work done
		// while the user scrolls fast.
		w.lazy[p.ID] = struct{}{}
		w.mu.Unlock()
		return
	}
	delete(w.lazy, p.ID)
	rec.Status = domain.StatusProcessing
	rec.UpdatedAt = time.Now()
	w.mu.Unlock()

	w.dispatch(ctx, p, fp)
}

// dispatch runs the callback for a post already moved to processing.
func (w *Watcher) dispatch(ctx context.Context, p domain.Post, fp string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		status, err := w.process(ctx, p)

		select {
		case <-w.done:
			return
		default:
		}

		w.mu.Lock()
		defer w.mu.Unlock()

		rec, ok := w.records[p.ID]
		if !ok || rec.Status != domain.StatusProcessing {
			return
		}

		// The identity may have been recycled while the pipeline awaited
		// network calls; a result for stale content is discarded. The
		// pipeline may have rendered an overlay for the old content
		// before the recycle landed, so tear it down too: the fresh
		// content starts from a clean slate.
		if cur, rerr := w.view.ReadPost(p.ID); rerr == nil {
			if domain.Fingerprint(cur.Text) != fp {
				w.renderer.Remove(p.ID)
				rec.Status = domain.StatusUnseen
				rec.Fingerprint = domain.Fingerprint(cur.Text)
				rec.UpdatedAt = time.Now()
				return
			}
		}

		if err != nil {
			w.logger.Warn("processing failed",
				slog.String("post", string(p.ID)),
				slog.String("error", err.Error()),
			)
			rec.Status = domain.StatusFailed
		} else {
			rec.Status = status
		}
		rec.UpdatedAt = time.Now()
	}()
}

// throttleScan coalesces structural notifications into one deferred scan.
func (w *Watcher) throttleScan() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.throttling {
		return
	}
	w.throttling = true
	w.addTimer(w.cfg.MutationThrottle, func() {
		w.mu.Lock()
		w.throttling = false
		w.mu.Unlock()
		w.requestScan()
	})
}

// handleNavigation clears the lazy queue (its identities belong to the
// previous view) and schedules staggered rescans.
func (w *Watcher) handleNavigation() {
	w.mu.Lock()
	w.lazy = make(map[domain.PostID]struct{})
	w.mu.Unlock()

	for _, d := range w.cfg.NavRescanDelays {
		w.mu.Lock()
		w.addTimer(d, w.requestScan)
		w.mu.Unlock()
	}
}

// handleVisibility promotes a deferred identity once it nears the viewport.
func (w *Watcher) handleVisibility(ctx context.Context, id domain.PostID) {
	visible, err := w.view.IsVisible(id)
	if err != nil || !visible {
		return
	}

	w.mu.Lock()
	_, queued := w.lazy[id]
	w.mu.Unlock()
	if !queued {
		return
	}

	p, err := w.view.ReadPost(id)
	if err != nil {
		w.mu.Lock()
		delete(w.lazy, id)
		w.mu.Unlock()
		return
	}
	w.evaluate(ctx, p)
}

// pruneGone drops records and lazy entries for identities the host no longer
// tracks. Removal is manual; nothing here relies on finalization.
func (w *Watcher) pruneGone(live []domain.Post) {
	alive := make(map[domain.PostID]struct{}, len(live))
	for _, p := range live {
		alive[p.ID] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.records {
		if _, ok := alive[id]; !ok && w.records[id].Status != domain.StatusProcessing {
			delete(w.records, id)
			delete(w.lazy, id)
		}
	}
}

// addTimer registers a stoppable timer; caller holds w.mu.
func (w *Watcher) addTimer(d time.Duration, fn func()) {
	select {
	case <-w.done:
		return
	default:
	}
	w.timers = append(w.timers, time.AfterFunc(d, fn))
}

// requestScan signals the run loop without blocking; concurrent requests
// coalesce into one pending scan.
func (w *Watcher) requestScan() {
	select {
	case w.rescan <- struct{}{}:
	default:
	}
}
