package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
	"github.com/Lesnak1/Opinion-Lens/internal/feedview/memory"
)

func testConfig() Config {
	return Config{
		ScanInterval:     25 * time.Millisecond,
		MutationThrottle: 5 * time.Millisecond,
		NavRescanDelays:  []time.Duration{10 * time.Millisecond},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recorder counts callback invocations and the texts they saw.
type recorder struct {
	mu    sync.Mutex
	calls int
	texts []string
}

func (r *recorder) record(text string) {
	r.mu.Lock()
	r.calls++
	r.texts = append(r.texts, text)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

func startWatcher(t *testing.T, feed *memory.Feed, process ProcessFunc) (*Watcher, <-chan error) {
	t.Helper()
	w := New(feed, feed, process, testConfig(), testLogger())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(context.Background()) }()
	t.Cleanup(w.Close)
	return w, errc
}

func TestWatcher_ProcessesVisiblePostsOnce(t *testing.T) {
	feed := memory.New()
	feed.AddPost("p1", "BTC just broke $100k!!")
	feed.AddPost("p2", "nothing interesting here")

	rec := &recorder{}
	w, _ := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		rec.record(p.Text)
		if p.ID == "p1" {
			if err := feed.Inject(p.ID, nil); err != nil {
				return domain.StatusFailed, err
			}
			return domain.StatusHasMatch, nil
		}
		return domain.StatusNoMatch, nil
	})

	waitFor(t, "p1 has-match", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusHasMatch
	})
	waitFor(t, "p2 no-match", func() bool {
		s, ok := w.StatusOf("p2")
		return ok && s == domain.StatusNoMatch
	})

	if !feed.OverlayAttached("p1") {
		t.Errorf("overlay for p1 must be attached")
	}

	// Several safety scans later the callback count must not grow: terminal
	// states with unchanged fingerprints are never re-dispatched.
	time.Sleep(4 * testConfig().ScanInterval)
	if got := rec.count(); got != 2 {
		t.Errorf("expected exactly 2 callback invocations, got %d", got)
	}
}

func TestWatcher_LazyVisibilityGate(t *testing.T) {
	feed := memory.New()
	feed.AddPost("p1", "solana flips everything")
	feed.SetVisible("p1", false)

	rec := &recorder{}
	w, _ := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		rec.record(p.Text)
		return domain.StatusNoMatch, nil
	})

	waitFor(t, "p1 queued", func() bool { return w.LazyQueueLen() == 1 })
	if rec.count() != 0 {
		t.Fatalf("off-viewport post must not be processed, got %d calls", rec.count())
	}

	feed.SetVisible("p1", true)
	waitFor(t, "p1 processed", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusNoMatch
	})
	if w.LazyQueueLen() != 0 {
		t.Errorf("lazy queue must drain after promotion")
	}
}

func TestWatcher_RecyclingResetsState(t *testing.T) {
	feed := memory.New()
	feed.AddPost("p1", "original content about bitcoin")

	rec := &recorder{}
	w, _ := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		rec.record(p.Text)
		if err := feed.Inject(p.ID, nil); err != nil {
			return domain.StatusFailed, err
		}
		return domain.StatusHasMatch, nil
	})

	waitFor(t, "first pass", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusHasMatch
	})
	first, _ := feed.Overlay("p1")

	feed.SetText("p1", "completely different content about ethereum")
	waitFor(t, "recycled content reprocessed", func() bool {
		return rec.count() >= 2 && rec.last() == "completely different content about ethereum"
	})
	waitFor(t, "fresh overlay", func() bool {
		fr, ok := feed.Overlay("p1")
		return ok && fr.ID != first.ID
	})
}

func TestWatcher_OverlayHealthCheck(t *testing.T) {
	feed := memory.New()
	feed.AddPost("p1", "chiefs taking it all the way")

	rec := &recorder{}
	w, _ := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		rec.record(p.Text)
		if err := feed.Inject(p.ID, nil); err != nil {
			return domain.StatusFailed, err
		}
		return domain.StatusHasMatch, nil
	})

	waitFor(t, "initial injection", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusHasMatch
	})

	// Host re-render silently drops the fragment; the periodic scan's health
	// check must notice and re-process.
	feed.DropOverlay("p1")
	waitFor(t, "re-injection", func() bool {
		return rec.count() >= 2 && feed.OverlayAttached("p1")
	})
}

func TestWatcher_NavigationClearsLazyQueue(t *testing.T) {
	feed := memory.New()
	feed.AddPost("old", "stale post from the previous page")
	feed.SetVisible("old", false)

	rec := &recorder{}
	w, _ := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		rec.record(p.Text)
		return domain.StatusNoMatch, nil
	})

	waitFor(t, "old queued", func() bool { return w.LazyQueueLen() == 1 })

	feed.Navigate(domain.Post{ID: "new", Text: "fresh post on the new page"})
	waitFor(t, "new processed", func() bool {
		s, ok := w.StatusOf("new")
		return ok && s == domain.StatusNoMatch
	})
	waitFor(t, "old pruned", func() bool {
		_, ok := w.StatusOf("old")
		return !ok
	})
	if rec.last() != "fresh post on the new page" {
		t.Errorf("queued pre-navigation post must never be processed, saw %q", rec.last())
	}
}

func TestWatcher_StaleResultDiscarded(t *testing.T) {
	feed := memory.New()
	feed.AddPost("p1", "text version one")

	gate := make(chan struct{})
	var once sync.Once
	rec := &recorder{}
	w, _ := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		blocked := false
		once.Do(func() { blocked = true })
		if blocked {
			<-gate
		}
		rec.record(p.Text)
		return domain.StatusHasMatch, nil
	})

	// Recycle the identity while the first callback is still in flight, then
	// let the stale result land.
	waitFor(t, "processing state", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusProcessing
	})
	feed.SetText("p1", "text version two")
	close(gate)

	waitFor(t, "fresh content processed", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusHasMatch && rec.last() == "text version two"
	})
}

func TestWatcher_StaleResultOverlayTornDown(t *testing.T) {
	feed := memory.New()
	feed.AddPost("p1", "BTC just broke $100k!!")

	gate := make(chan struct{})
	var once sync.Once
	w, _ := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		first := false
		once.Do(func() { first = true })
		if first {
			// Matching content: render the overlay, then stall as if
			// awaiting price enrichment.
			if err := feed.Inject(p.ID, nil); err != nil {
				return domain.StatusFailed, err
			}
			<-gate
			return domain.StatusHasMatch, nil
		}
		return domain.StatusNoMatch, nil
	})

	// The overlay goes up mid-flight, then the identity is recycled to
	// content that will not match.
	waitFor(t, "overlay rendered for the first version", func() bool {
		return feed.OverlayCount() == 1
	})
	feed.SetText("p1", "lunch was great today")
	close(gate)

	// Discarding the stale result must also tear the stale overlay down;
	// the recycled content settles to no-match with nothing attached.
	waitFor(t, "recycled content settles to no-match", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusNoMatch
	})
	if n := feed.OverlayCount(); n != 0 {
		t.Fatalf("no-match post must not keep an overlay, found %d", n)
	}
}

func TestWatcher_FailedStatusSticksUntilRecycled(t *testing.T) {
	feed := memory.New()
	feed.AddPost("p1", "this one breaks the pipeline")

	rec := &recorder{}
	w, _ := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		rec.record(p.Text)
		if p.Text == "this one breaks the pipeline" {
			return domain.StatusFailed, errors.New("boom")
		}
		return domain.StatusNoMatch, nil
	})

	waitFor(t, "failed state", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusFailed
	})

	// No retry storm while the content is unchanged.
	time.Sleep(4 * testConfig().ScanInterval)
	if got := rec.count(); got != 1 {
		t.Fatalf("failed post must not be retried, got %d calls", got)
	}

	feed.SetText("p1", "now it works")
	waitFor(t, "recycled retry", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusNoMatch
	})
}

func TestWatcher_HostInvalidationTerminal(t *testing.T) {
	feed := memory.New()
	feed.AddPost("p1", "soon to disappear")

	_, errc := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		return domain.StatusNoMatch, nil
	})

	feed.Invalidate()

	select {
	case err := <-errc:
		if !errors.Is(err, domain.ErrHostInvalidated) {
			t.Fatalf("expected host-invalidated error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after host invalidation")
	}
}

func TestWatcher_CloseStopsLateCallbacks(t *testing.T) {
	feed := memory.New()
	feed.AddPost("p1", "in flight at close")

	gate := make(chan struct{})
	w, errc := startWatcher(t, feed, func(ctx context.Context, p domain.Post) (domain.ProcessingStatus, error) {
		<-gate
		return domain.StatusHasMatch, nil
	})

	waitFor(t, "processing state", func() bool {
		s, ok := w.StatusOf("p1")
		return ok && s == domain.StatusProcessing
	})

	w.Close()
	select {
	case <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after Close")
	}

	close(gate)
	time.Sleep(20 * time.Millisecond)
	if s, ok := w.StatusOf("p1"); ok && s != domain.StatusProcessing {
		t.Errorf("late result must not be applied after close, got %v", s)
	}
}
