package match

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

const (
	// DefaultMaxMatches caps the ranked result list per post.
	DefaultMaxMatches = 3

	// DefaultMinScore is the empirically tuned keyword threshold: a market
	// reachable through a single generic keyword is noise. Kept
	// configurable; the exact cutoff has no stated rationale upstream.
	DefaultMinScore = 2
)

var (
	directRefRe = regexp.MustCompile(`topicId=(\d+)`)
	slugRefRe   = regexp.MustCompile(`/(?:markets?|topics?|event)/([a-z0-9]+(?:-[a-z0-9]+)+)`)
)

// Resolver scores post text against a keyword index.
type Resolver struct {
	MaxMatches int
	MinScore   int
}

// NewResolver returns a Resolver with the given limits; non-positive values
// fall back to the defaults.
func NewResolver(maxMatches, minScore int) *Resolver {
	if maxMatches <= 0 {
		maxMatches = DefaultMaxMatches
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Resolver{MaxMatches: maxMatches, MinScore: minScore}
}

// FindMatches resolves a post to ranked market matches. Resolution rules are
// tried in priority order and the first rule producing a result short-circuits
// the rest: direct id reference, then slug reference, then keyword scoring.
func (r *Resolver) FindMatches(post domain.Post, ix *Index) []domain.MatchResult {
	if ix == nil {
		return nil
	}

	if res, ok := r.resolveDirect(post, ix); ok {
		return res
	}
	if res, ok := r.resolveSlug(post, ix); ok {
		return res
	}
	return r.scoreKeywords(post.Text, ix)
}

// resolveDirect handles explicit market-id references. An id that is missing
// from the local index yields a placeholder for a remote fetch instead of
// falling through to keyword scoring, which would only produce false
// positives for a post that names an exact market.
func (r *Resolver) resolveDirect(post domain.Post, ix *Index) ([]domain.MatchResult, bool) {
	id := findDirectRef(post)
	if id == "" {
		return nil, false
	}

	if m, ok := ix.ByID(id); ok {
		return []domain.MatchResult{{Market: *m, Score: domain.ScoreDirect}}, true
	}
	return []domain.MatchResult{{
		Score:      domain.ScoreDirect,
		Pending:    domain.PendingRemoteFetch,
		PendingRef: id,
	}}, true
}

// resolveSlug handles human-readable market path references. Local resolution
// requires at least three of the slug's words to literally appear in a
// market's title; otherwise the orchestrator runs a broader remote search.
func (r *Resolver) resolveSlug(post domain.Post, ix *Index) ([]domain.MatchResult, bool) {
	slug := findSlugRef(post)
	if slug == "" {
		return nil, false
	}

	if m := matchSlugLocally(slug, ix.Markets()); m != nil {
		return []domain.MatchResult{{Market: *m, Score: domain.ScoreDirect}}, true
	}
	return []domain.MatchResult{{
		Score:      domain.ScoreDirect,
		Pending:    domain.PendingSlugSearch,
		PendingRef: slug,
	}}, true
}

// scoreKeywords runs the weighted lexical pass: one point per distinct
// index keyword found in the text as a whole word.
func (r *Resolver) scoreKeywords(text string, ix *Index) []domain.MatchResult {
	lower := strings.ToLower(text)

	type tally struct {
		market   *domain.Market
		score    int
		keywords []string
	}
	scores := make(map[string]*tally)

	for _, kw := range ix.Keywords() {
		if !containsWord(lower, kw) {
			continue
		}
		for _, m := range ix.Lookup(kw) {
			t, ok := scores[m.ID]
			if !ok {
				t = &tally{market: m}
				scores[m.ID] = t
			}
			t.score++
			t.keywords = append(t.keywords, kw)
		}
	}

	results := make([]domain.MatchResult, 0, len(scores))
	for _, t := range scores {
		if t.score < r.MinScore {
			continue
		}
		results = append(results, domain.MatchResult{
			Market:          *t.market,
			Score:           t.score,
			MatchedKeywords: t.keywords,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return ix.Ordinal(results[i].Market.ID) < ix.Ordinal(results[j].Market.ID)
	})

	if len(results) > r.MaxMatches {
		results = results[:r.MaxMatches]
	}
	return results
}

// SelectSlugMatch picks the remote search result for a slug placeholder:
// at least two slug words must appear in the candidate's title or slug, or
// one slug must be a prefix of the other. Candidates are considered in order;
// the first hit wins.
func SelectSlugMatch(slug string, candidates []domain.Market) *domain.Market {
	words := slugWords(slug)
	for i := range candidates {
		c := &candidates[i]
		if strings.HasPrefix(c.Slug, slug) || strings.HasPrefix(slug, c.Slug) {
			return c
		}
		title := strings.ToLower(c.Title)
		cslug := strings.ToLower(c.Slug)
		hits := 0
		for _, w := range words {
			if containsWord(title, w) || strings.Contains(cslug, w) {
				hits++
			}
		}
		if hits >= 2 {
			return c
		}
	}
	return nil
}

// matchSlugLocally returns the market whose title literally contains at least
// three of the slug's dash-separated words, preferring the highest hit count
// and the earliest market on ties.
func matchSlugLocally(slug string, markets []domain.Market) *domain.Market {
	words := slugWords(slug)
	if len(words) < 3 {
		return nil
	}

	var best *domain.Market
	bestHits := 0
	for i := range markets {
		title := strings.ToLower(markets[i].Title)
		hits := 0
		for _, w := range words {
			if containsWord(title, w) {
				hits++
			}
		}
		if hits >= 3 && hits > bestHits {
			best = &markets[i]
			bestHits = hits
		}
	}
	return best
}

// slugWords splits a slug into its meaningful dash-separated words.
func slugWords(slug string) []string {
	parts := strings.Split(strings.ToLower(slug), "-")
	words := parts[:0]
	for _, p := range parts {
		if len(p) >= 2 {
			words = append(words, p)
		}
	}
	return words
}

// findDirectRef scans resolved links first and the raw text second for an
// embedded market-id reference.
func findDirectRef(post domain.Post) string {
	for _, link := range post.Links {
		if m := directRefRe.FindStringSubmatch(link); m != nil {
			return m[1]
		}
	}
	if m := directRefRe.FindStringSubmatch(post.Text); m != nil {
		return m[1]
	}
	return ""
}

// findSlugRef scans resolved links and text for a market path slug.
func findSlugRef(post domain.Post) string {
	for _, link := range post.Links {
		if m := slugRefRe.FindStringSubmatch(strings.ToLower(link)); m != nil {
			return m[1]
		}
	}
	if m := slugRefRe.FindStringSubmatch(strings.ToLower(post.Text)); m != nil {
		return m[1]
	}
	return ""
}

// containsWord reports whether kw occurs in lower-cased text s with
// non-alphanumeric boundaries on both sides. Keywords may span multiple words
// or carry symbols like "$100k"; boundary checks only inspect the characters
// adjacent to the occurrence.
func containsWord(s, kw string) bool {
	if kw == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(kw)

		startOK := i == 0 || !isWordRune(rune(s[i-1]))
		endOK := end == len(s) || !isWordRune(rune(s[end]))
		if startOK && endOK {
			return true
		}
		from = i + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
