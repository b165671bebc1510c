package domain

import (
	"context"
	"time"
)

// MatchRecord is an append-only audit row describing one resolved match.
// It references posts only by fingerprint; processed-post state itself is
// never persisted.
type MatchRecord struct {
	ID              string
	PostFingerprint string
	MarketID        string
	Score           int
	MatchedKeywords []string
	MatchedAt       time.Time
}

// MatchStore persists match audit records.
type MatchStore interface {
	Insert(ctx context.Context, rec MatchRecord) error
	ListRecent(ctx context.Context, limit int) ([]MatchRecord, error)
}
