package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

// MatchStore implements domain.MatchStore using PostgreSQL. The table is an
// append-only audit trail; posts appear only as content fingerprints.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore creates a MatchStore backed by the given connection pool.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// EnsureSchema creates the match_records table when it does not exist.
func (s *MatchStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS match_records (
			id               UUID PRIMARY KEY,
			post_fingerprint TEXT NOT NULL,
			market_id        TEXT NOT NULL,
			score            INTEGER NOT NULL,
			matched_keywords TEXT[] NOT NULL DEFAULT '{}',
			matched_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS match_records_matched_at_idx
			ON match_records (matched_at DESC);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure match schema: %w", err)
	}
	return nil
}

// Insert appends one match record.
func (s *MatchStore) Insert(ctx context.Context, rec domain.MatchRecord) error {
	const query = `
		INSERT INTO match_records
			(id, post_fingerprint, market_id, score, matched_keywords, matched_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.PostFingerprint, rec.MarketID, rec.Score, rec.MatchedKeywords, rec.MatchedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert match record %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the newest records first.
func (s *MatchStore) ListRecent(ctx context.Context, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, post_fingerprint, market_id, score, matched_keywords, matched_at
		FROM match_records
		ORDER BY matched_at DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list match records: %w", err)
	}
	defer rows.Close()

	var recs []domain.MatchRecord
	for rows.Next() {
		var rec domain.MatchRecord
		if err := rows.Scan(
			&rec.ID, &rec.PostFingerprint, &rec.MarketID,
			&rec.Score, &rec.MatchedKeywords, &rec.MatchedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan match record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate match records: %w", err)
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.MatchStore = (*MatchStore)(nil)
