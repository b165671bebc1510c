package domain

import (
	"strings"
	"time"
	"unicode"
)

// PostID is the stable handle a feed view assigns to a post element. The host
// may reuse a handle for different content as the feed virtualizes
// ("recycling"); the fingerprint detects that.
type PostID string

// Post is an ephemeral view of one unit of on-screen content. It is never
// persisted.
type Post struct {
	ID    PostID
	Text  string
	Links []string
}

// ProcessingStatus is the per-identity match state tracked by the feed
// watcher.
type ProcessingStatus int

const (
	StatusUnseen ProcessingStatus = iota
	StatusProcessing
	StatusNoMatch
	StatusHasMatch
	StatusFailed
)

func (s ProcessingStatus) String() string {
	switch s {
	case StatusUnseen:
		return "unseen"
	case StatusProcessing:
		return "processing"
	case StatusNoMatch:
		return "no-match"
	case StatusHasMatch:
		return "has-match"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProcessingRecord is the state attached to a tracked post identity.
// Invariant: an overlay exists for the identity iff Status == StatusHasMatch.
type ProcessingRecord struct {
	Status      ProcessingStatus
	Fingerprint string
	UpdatedAt   time.Time
}

// fingerprintLen bounds the fingerprint to a cheap prefix comparison.
const fingerprintLen = 80

// Fingerprint reduces post text to a short normalized prefix used to detect
// content recycling without full text comparison.
func Fingerprint(text string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
		if b.Len() >= fingerprintLen {
			break
		}
	}
	return b.String()
}
