// Package memory provides a scriptable in-process feed host. It implements
// both the feed-view and the overlay-render boundaries, and exposes mutation
// controls (add, edit, scroll, navigate, invalidate) so the watcher and the
// engine can be exercised against realistic host behavior: virtualization,
// identity recycling, overlay loss on re-render, and teardown.
package memory

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

// eventBuffer bounds the mutation channel; emits never block the mutator.
const eventBuffer = 256

type entry struct {
	post    domain.Post
	visible bool
}

// Fragment is one injected overlay. Prices tracks the last rendered value per
// instrument so tests can assert live updates without re-injection.
type Fragment struct {
	ID      string
	Matches []domain.MatchResult
	Prices  map[string]float64
}

// Feed is a thread-safe scriptable feed.
type Feed struct {
	mu       sync.Mutex
	entries  map[domain.PostID]*entry
	order    []domain.PostID
	overlays map[domain.PostID]*Fragment
	events   chan domain.MutationEvent
	invalid  bool
	closed   bool
}

// New returns an empty feed with every post visible by default.
func New() *Feed {
	return &Feed{
		entries:  make(map[domain.PostID]*entry),
		overlays: make(map[domain.PostID]*Fragment),
		events:   make(chan domain.MutationEvent, eventBuffer),
	}
}

// --- scripting surface -------------------------------------------------------

// AddPost appends a post to the feed and emits a structural mutation.
func (f *Feed) AddPost(id domain.PostID, text string, links ...string) {
	f.mu.Lock()
	if _, dup := f.entries[id]; !dup {
		f.order = append(f.order, id)
	}
	f.entries[id] = &entry{
		post:    domain.Post{ID: id, Text: text, Links: links},
		visible: true,
	}
	f.mu.Unlock()
	f.emit(domain.MutationEvent{Kind: domain.MutationStructural})
}

// SetText rewrites a post's content in place, simulating identity recycling
// by a virtualized list. Emits a structural mutation.
func (f *Feed) SetText(id domain.PostID, text string, links ...string) {
	f.mu.Lock()
	if e, ok := f.entries[id]; ok {
		e.post.Text = text
		e.post.Links = links
	}
	f.mu.Unlock()
	f.emit(domain.MutationEvent{Kind: domain.MutationStructural})
}

// SetVisible moves a post in or out of the viewport neighborhood and emits a
// visibility mutation for it.
func (f *Feed) SetVisible(id domain.PostID, visible bool) {
	f.mu.Lock()
	if e, ok := f.entries[id]; ok {
		e.visible = visible
	}
	f.mu.Unlock()
	f.emit(domain.MutationEvent{Kind: domain.MutationVisibility, Post: id})
}

// RemovePost drops a post and its overlay, emitting a structural mutation.
func (f *Feed) RemovePost(id domain.PostID) {
	f.mu.Lock()
	delete(f.entries, id)
	delete(f.overlays, id)
	for i, oid := range f.order {
		if oid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
	f.emit(domain.MutationEvent{Kind: domain.MutationStructural})
}

// Navigate replaces the whole feed content, as a single-page navigation does,
// and emits a navigation mutation. Overlays do not survive navigation.
func (f *Feed) Navigate(posts ...domain.Post) {
	f.mu.Lock()
	f.entries = make(map[domain.PostID]*entry, len(posts))
	f.order = f.order[:0]
	f.overlays = make(map[domain.PostID]*Fragment)
	for _, p := range posts {
		f.entries[p.ID] = &entry{post: p, visible: true}
		f.order = append(f.order, p.ID)
	}
	f.mu.Unlock()
	f.emit(domain.MutationEvent{Kind: domain.MutationNavigation})
}

// DropOverlay silently discards an injected fragment, simulating a host
// re-render that removes foreign children. No mutation is emitted; the
// watcher's health check has to find it.
func (f *Feed) DropOverlay(id domain.PostID) {
	f.mu.Lock()
	delete(f.overlays, id)
	f.mu.Unlock()
}

// Invalidate tears the host down. Every subsequent view call fails with
// ErrHostInvalidated and the mutation channel is closed.
func (f *Feed) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid = true
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}

// Overlay returns a copy of the injected fragment for an identity.
func (f *Feed) Overlay(id domain.PostID) (Fragment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.overlays[id]
	if !ok {
		return Fragment{}, false
	}
	cp := Fragment{
		ID:      fr.ID,
		Matches: append([]domain.MatchResult(nil), fr.Matches...),
		Prices:  make(map[string]float64, len(fr.Prices)),
	}
	for k, v := range fr.Prices {
		cp.Prices[k] = v
	}
	return cp, true
}

// OverlayCount returns how many fragments are currently injected.
func (f *Feed) OverlayCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.overlays)
}

// --- domain.FeedView ---------------------------------------------------------

func (f *Feed) CandidatePosts() ([]domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalid {
		return nil, fmt.Errorf("memory feed: %w", domain.ErrHostInvalidated)
	}
	posts := make([]domain.Post, 0, len(f.order))
	for _, id := range f.order {
		posts = append(posts, f.entries[id].post)
	}
	return posts, nil
}

func (f *Feed) ReadPost(id domain.PostID) (domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalid {
		return domain.Post{}, fmt.Errorf("memory feed: %w", domain.ErrHostInvalidated)
	}
	e, ok := f.entries[id]
	if !ok {
		return domain.Post{}, fmt.Errorf("memory feed: post %s: %w", id, domain.ErrNotFound)
	}
	return e.post, nil
}

func (f *Feed) IsVisible(id domain.PostID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalid {
		return false, fmt.Errorf("memory feed: %w", domain.ErrHostInvalidated)
	}
	e, ok := f.entries[id]
	if !ok {
		return false, fmt.Errorf("memory feed: post %s: %w", id, domain.ErrNotFound)
	}
	return e.visible, nil
}

func (f *Feed) Mutations() <-chan domain.MutationEvent {
	return f.events
}

func (f *Feed) OverlayAttached(id domain.PostID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.overlays[id]
	return ok
}

// --- domain.OverlayRenderer --------------------------------------------------

// Inject renders a fragment for the identity, replacing any previous one.
// Fragment ids are fresh uuids so a replacement is observably distinct.
func (f *Feed) Inject(id domain.PostID, matches []domain.MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalid {
		return fmt.Errorf("memory feed: inject: %w", domain.ErrHostInvalidated)
	}
	if _, ok := f.entries[id]; !ok {
		return fmt.Errorf("memory feed: inject: post %s: %w", id, domain.ErrNotFound)
	}

	fr := &Fragment{
		ID:      uuid.NewString(),
		Matches: append([]domain.MatchResult(nil), matches...),
		Prices:  make(map[string]float64),
	}
	for _, m := range matches {
		if m.Market.Priced() {
			fr.Prices[m.Market.YesToken] = m.Market.YesPrice
			fr.Prices[m.Market.NoToken] = m.Market.NoPrice
		}
	}
	f.overlays[id] = fr
	return nil
}

// UpdatePrice rewrites the price label for an instrument in every fragment
// that displays it and returns the number of fragments touched.
func (f *Feed) UpdatePrice(tokenID string, price float64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	updated := 0
	for _, fr := range f.overlays {
		for _, m := range fr.Matches {
			if m.Market.YesToken == tokenID || m.Market.NoToken == tokenID {
				fr.Prices[tokenID] = price
				updated++
				break
			}
		}
	}
	return updated
}

func (f *Feed) Remove(id domain.PostID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.overlays, id)
}

// emit delivers a mutation without blocking; events beyond the buffer are
// dropped, matching a host observer that coalesces bursts anyway.
func (f *Feed) emit(ev domain.MutationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.events <- ev:
	default:
	}
}
