package domain

import "math"

// PendingKind classifies a match that the resolver could not settle locally
// and that the orchestrator must resolve with a remote call. The zero value
// means the match is final.
type PendingKind int

const (
	PendingNone PendingKind = iota

	// PendingRemoteFetch marks a direct market-id reference that is absent
	// from the local index. PendingRef holds the market id.
	PendingRemoteFetch

	// PendingSlugSearch marks a slug reference that could not be resolved
	// against local titles. PendingRef holds the slug.
	PendingSlugSearch
)

// ScoreDirect is the sentinel score assigned to a direct-reference match.
// It outranks any achievable keyword score.
const ScoreDirect = math.MaxInt32

// MatchResult pairs a market with the evidence that matched it to a post.
type MatchResult struct {
	Market          Market
	Score           int
	MatchedKeywords []string
	Pending         PendingKind
	PendingRef      string
}
