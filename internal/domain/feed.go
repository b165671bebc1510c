package domain

// MutationKind classifies a change notification from the feed view.
type MutationKind int

const (
	// MutationStructural signals that posts were inserted into or removed
	// from the watched container.
	MutationStructural MutationKind = iota

	// MutationNavigation signals a single-page-app navigation; previously
	// queued identities belong to the old view.
	MutationNavigation

	// MutationVisibility signals that the post named in the event entered
	// or left the viewport neighborhood.
	MutationVisibility
)

// MutationEvent is a change notification emitted by a feed view. Post is set
// only for visibility events.
type MutationEvent struct {
	Kind MutationKind
	Post PostID
}

// FeedView is the narrow host-document capability set the watcher observes.
// Implementations bind it to a concrete host; the matching core never touches
// the host directly. Every method may fail with ErrHostInvalidated once the
// surrounding runtime is torn down, after which all calls fail fast.
type FeedView interface {
	// CandidatePosts locates every post element currently tracked by the
	// host, on-screen or not.
	CandidatePosts() ([]Post, error)

	// ReadPost reads the current visible text and resolved links at the
	// given identity. Returns ErrNotFound when the identity is gone.
	ReadPost(id PostID) (Post, error)

	// IsVisible reports whether the identity is in or near the viewport.
	IsVisible(id PostID) (bool, error)

	// Mutations returns the change feed. The channel is closed when the
	// view is torn down.
	Mutations() <-chan MutationEvent

	// OverlayAttached reports whether an injected overlay is still present
	// under the identity. Hosts drop injected children on re-render.
	OverlayAttached(id PostID) bool
}
