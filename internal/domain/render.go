package domain

// OverlayRenderer is the render boundary: it injects an isolated visual
// fragment after a post and updates price labels inside previously injected
// fragments by instrument id.
type OverlayRenderer interface {
	// Inject renders an overlay for the given matches after the post.
	// Re-injecting for the same identity replaces the previous fragment.
	Inject(id PostID, matches []MatchResult) error

	// UpdatePrice rewrites the price label in every rendered fragment that
	// displays the given instrument and returns how many were updated.
	UpdatePrice(tokenID string, price float64) int

	// Remove tears down the fragment for the identity, if any.
	Remove(id PostID)
}
