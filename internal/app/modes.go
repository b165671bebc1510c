package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lesnak1/Opinion-Lens/internal/config"
	"github.com/Lesnak1/Opinion-Lens/internal/domain"
	"github.com/Lesnak1/Opinion-Lens/internal/engine"
	"github.com/Lesnak1/Opinion-Lens/internal/feedview/memory"
	"github.com/Lesnak1/Opinion-Lens/internal/feedview/script"
	"github.com/Lesnak1/Opinion-Lens/internal/watcher"
)

// ReplayMode drives the scripted feed through the matching pipeline with
// prices fetched over REST only, then exits once the script completes. This is
// the demonstration and verification mode: no credential, no live stream.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode",
		slog.String("script", a.cfg.Feed.ScriptPath),
	)

	s, err := loadScript(a.cfg.Feed.ScriptPath)
	if err != nil {
		return fmt.Errorf("replay mode: %w", err)
	}

	feed := memory.New()
	eng := a.buildEngine(deps, feed)
	w := a.buildWatcher(feed, eng)
	defer w.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, runCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return w.Run(runCtx)
	})

	g.Go(func() error {
		runner := script.NewRunner(feed, a.base)
		if err := runner.Run(runCtx, s); err != nil {
			return fmt.Errorf("replay mode: script: %w", err)
		}
		// Grace period so the last scan cycle can settle in-flight posts.
		select {
		case <-runCtx.Done():
		case <-time.After(2 * a.cfg.Watcher.ScanInterval.Duration):
		}
		a.logger.InfoContext(runCtx, "script complete",
			slog.Int("overlays", feed.OverlayCount()),
		)
		cancel()
		return nil
	})

	return filterShutdown(a.logger, g.Wait())
}

// WatchMode runs the same pipeline with the live price stream attached:
// overlays are rendered from REST data and then kept current by stream ticks,
// falling back to REST polling when the stream exhausts its reconnect budget.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.String("script", a.cfg.Feed.ScriptPath),
		slog.String("stream", a.cfg.Stream.URL),
	)

	s, err := loadScript(a.cfg.Feed.ScriptPath)
	if err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}

	feed := memory.New()
	eng := a.buildEngine(deps, feed, engine.WithSubscriber(deps.Stream.SubscribePrices))
	w := a.buildWatcher(feed, eng)
	defer w.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, runCtx := errgroup.WithContext(runCtx)

	// One-shot poll fallback once the reconnect budget is spent.
	var pollOnce sync.Once
	deps.Stream.OnPriceTick(eng.HandlePriceTick)
	deps.Stream.OnDown(func() {
		pollOnce.Do(func() {
			a.logger.Warn("stream down, falling back to price polling")
			go eng.RunPricePoller(runCtx)
		})
	})

	if err := deps.Stream.Connect(runCtx); err != nil {
		return fmt.Errorf("watch mode: stream connect: %w", err)
	}

	g.Go(func() error {
		return w.Run(runCtx)
	})

	g.Go(func() error {
		runner := script.NewRunner(feed, a.base)
		if err := runner.Run(runCtx, s); err != nil {
			return fmt.Errorf("watch mode: script: %w", err)
		}
		// Unlike replay, watch mode stays up after the script ends so the
		// stream keeps overlays current until shutdown.
		<-runCtx.Done()
		return runCtx.Err()
	})

	return filterShutdown(a.logger, g.Wait())
}

// buildEngine assembles the match engine with whatever optional dependencies
// were wired.
func (a *App) buildEngine(deps *Dependencies, feed *memory.Feed, extra ...engine.Option) *engine.Engine {
	opts := []engine.Option{
		engine.WithSnapshotCache(deps.SnapshotCache),
		engine.WithPriceCache(deps.PriceCache),
	}
	if deps.MatchStore != nil {
		opts = append(opts, engine.WithMatchStore(deps.MatchStore))
	}
	opts = append(opts, extra...)

	ec := a.cfg.Engine
	return engine.New(deps.Client, feed, engine.Config{
		IndexTTL:     ec.IndexTTL.Duration,
		PageSize:     ec.PageSize,
		MaxPages:     ec.MaxPages,
		MarketStatus: ec.MarketStatus,
		MarketSort:   ec.MarketSort,
		MinScore:     ec.MinScore,
		MaxMatches:   ec.MaxMatches,
		PollInterval: ec.PollInterval.Duration,
	}, a.base, opts...)
}

func (a *App) buildWatcher(feed *memory.Feed, eng *engine.Engine) *watcher.Watcher {
	wc := a.cfg.Watcher
	return watcher.New(feed, feed, eng.ProcessPost, watcher.Config{
		ScanInterval:     wc.ScanInterval.Duration,
		MutationThrottle: wc.MutationThrottle.Duration,
		NavRescanDelays:  config.Durations(wc.NavRescanDelays),
	}, a.base)
}

// loadScript reads a feed script from the given path, or from stdin when the
// path is "-" so feed events can be piped in.
func loadScript(path string) (script.Script, error) {
	if path == "-" {
		return script.Parse(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return script.Script{}, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return script.Parse(f)
}

// filterShutdown maps expected end-of-session errors to a clean exit: context
// cancellation (signal or script end) and scripted host teardown are both
// normal ways for a run to finish.
func filterShutdown(logger *slog.Logger, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, domain.ErrHostInvalidated):
		logger.Info("feed host torn down, session over")
		return nil
	default:
		return err
	}
}
