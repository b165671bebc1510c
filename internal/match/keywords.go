// Package match implements the keyword index and the post-to-market
// resolution rules. Everything in this package is pure: building an index or
// resolving a post has no side effects and no host dependencies.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

// stopWords holds general English filler plus domain-generic trading and
// crypto terms, and month/day/timezone names. Calendar terms show up in
// almost every market title and match unrelated posts, so they are excluded
// wholesale.
var stopWords = map[string]struct{}{}

func init() {
	lists := []string{
		// General English.
		"the a an and or but for nor not with will would can could into out",
		"this that these those what when where who how why which than then",
		"are was were been being has have had does did doing its his her",
		"their our your you they them from above below over under between",
		"before after during about against more most less least very just",
		"reach hit above below by until any all some each per via",
		// Trading / crypto generic.
		"price market markets trade trading buy sell close open high low",
		"token coin crypto bet odds yes no win lose end ends ending",
		"prediction predict resolve resolves resolved settle settles",
		"volume chart pump dump moon bull bear long short up down",
		// Months, days, timezones.
		"january february march april may june july august september",
		"october november december jan feb mar apr jun jul aug sep sept",
		"oct nov dec monday tuesday wednesday thursday friday saturday",
		"sunday mon tue wed thu fri sat utc est edt pst pdt cet gmt",
	}
	for _, l := range lists {
		for _, w := range strings.Fields(l) {
			stopWords[w] = struct{}{}
		}
	}
}

// tickerAliases maps tickers to full names. Expansion is symmetric: a title
// containing either side also indexes the other.
var tickerAliases = map[string]string{
	"btc":  "bitcoin",
	"eth":  "ethereum",
	"sol":  "solana",
	"xrp":  "ripple",
	"doge": "dogecoin",
	"ada":  "cardano",
	"bnb":  "binance",
	"ltc":  "litecoin",
	"dot":  "polkadot",
	"avax": "avalanche",
	"link": "chainlink",
}

// nameAliases is the reverse direction, derived once at init.
var nameAliases = map[string]string{}

func init() {
	for t, n := range tickerAliases {
		nameAliases[n] = t
	}
}

var (
	properSpanRe = regexp.MustCompile(`[A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)+`)
	versusRe     = regexp.MustCompile(`(?i)([A-Za-z0-9$]+)\s+vs\.?\s+([A-Za-z0-9$]+)`)
	currencyRe   = regexp.MustCompile(`\$\d+(?:\.\d+)?[kmb]?`)
	magnitudeRe  = regexp.MustCompile(`\b\d+(?:\.\d+)?[kmb]\b`)
	yearRe       = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

// keywordSet accumulates keywords preserving first-insertion order.
type keywordSet struct {
	seen map[string]struct{}
	list []string
}

func newKeywordSet() *keywordSet {
	return &keywordSet{seen: map[string]struct{}{}}
}

func (s *keywordSet) add(kw string) {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return
	}
	if _, dup := s.seen[kw]; dup {
		return
	}
	s.seen[kw] = struct{}{}
	s.list = append(s.list, kw)
}

// ExtractKeywords derives the keyword set for a market title. The extraction
// is deterministic: the same title always yields the same ordered set, and
// every keyword is lower-cased and non-empty.
func ExtractKeywords(title string) []string {
	set := newKeywordSet()
	lower := strings.ToLower(title)

	// Plain tokens: lower-cased, punctuation stripped, length > 2, not a
	// stop word. Bare numbers are left to the strong-context rule below.
	for _, tok := range splitAlnum(lower) {
		if len(tok) <= 2 || numericLike(tok) {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		set.add(tok)
	}

	// Capitalized multi-word spans from the original-case title (names,
	// teams, countries). Leading/trailing stop words are trimmed so spans
	// like "Will Bitcoin" do not survive as phrases.
	for _, span := range properSpanRe.FindAllString(title, -1) {
		words := trimStopEnds(strings.Fields(strings.ToLower(span)))
		if len(words) >= 2 {
			set.add(strings.Join(words, " "))
		}
	}

	// Short uppercase / mixed-case tokens: tickers, acronyms, esports tags.
	for _, tok := range strings.Fields(title) {
		tok = strings.Trim(tok, ".,:;!?()[]{}\"'")
		if n := len(tok); n < 2 || n > 5 {
			continue
		}
		if !isTickerLike(tok) {
			continue
		}
		lt := strings.ToLower(tok)
		if _, stop := stopWords[lt]; stop {
			continue
		}
		set.add(lt)
	}

	// "X vs Y" match-ups: the head word of each side carries the signal.
	for _, m := range versusRe.FindAllStringSubmatch(title, -1) {
		for _, head := range m[1:] {
			h := strings.ToLower(head)
			if len(h) < 2 {
				continue
			}
			if _, stop := stopWords[h]; stop {
				continue
			}
			set.add(h)
		}
	}

	// Currency and number tokens with strong context. Plain short numbers
	// are deliberately not indexed.
	for _, kw := range currencyRe.FindAllString(lower, -1) {
		set.add(kw)
	}
	// Magnitude tokens already covered by a currency match ("$100k") are
	// skipped so a single amount does not produce two scoring keywords.
	for _, loc := range magnitudeRe.FindAllStringIndex(lower, -1) {
		if loc[0] > 0 && lower[loc[0]-1] == '$' {
			continue
		}
		set.add(lower[loc[0]:loc[1]])
	}
	for _, kw := range yearRe.FindAllString(lower, -1) {
		set.add(kw)
	}

	// Symmetric ticker alias expansion over everything collected so far.
	for _, kw := range append([]string(nil), set.list...) {
		if alias, ok := tickerAliases[kw]; ok {
			set.add(alias)
		}
		if alias, ok := nameAliases[kw]; ok {
			set.add(alias)
		}
	}

	return set.list
}

// splitAlnum splits on every non-alphanumeric rune.
func splitAlnum(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// numericLike reports whether a token is a bare number, optionally with a
// magnitude suffix. Such tokens only enter the index through the
// strong-context rules.
func numericLike(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case (r == 'k' || r == 'm' || r == 'b') && i == len(s)-1 && digits > 0:
		default:
			return false
		}
	}
	return digits > 0
}

// trimStopEnds drops leading and trailing stop words from a span.
func trimStopEnds(words []string) []string {
	for len(words) > 0 {
		if _, stop := stopWords[words[0]]; !stop {
			break
		}
		words = words[1:]
	}
	for len(words) > 0 {
		if _, stop := stopWords[words[len(words)-1]]; !stop {
			break
		}
		words = words[:len(words)-1]
	}
	return words
}

// isTickerLike reports whether a token reads as a ticker or acronym: all
// uppercase, or mixed case with an uppercase rune after the first.
func isTickerLike(tok string) bool {
	upper := 0
	letters := 0
	interiorUpper := false
	for i, r := range tok {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
				if i > 0 {
					interiorUpper = true
				}
			}
		}
	}
	if letters < 2 {
		return false
	}
	return upper == letters || interiorUpper
}

// Index maps keywords to the markets exhibiting them. Lookup order within a
// keyword entry and the keyword iteration order both follow first-seen order,
// which makes resolution tie-breaks deterministic.
type Index struct {
	markets  []domain.Market
	entries  map[string][]*domain.Market
	keywords []string
	byID     map[string]*domain.Market
	ordinal  map[string]int
}

// Build constructs an index from a market snapshot. The input slice is copied;
// the index never mutates or retains the caller's slice.
func Build(markets []domain.Market) *Index {
	ix := &Index{
		markets: append([]domain.Market(nil), markets...),
		entries: make(map[string][]*domain.Market),
		byID:    make(map[string]*domain.Market, len(markets)),
		ordinal: make(map[string]int, len(markets)),
	}

	for i := range ix.markets {
		m := &ix.markets[i]
		if _, dup := ix.byID[m.ID]; dup {
			continue
		}
		ix.byID[m.ID] = m
		ix.ordinal[m.ID] = i

		for _, kw := range ExtractKeywords(m.Title) {
			ix.add(kw, m)
		}
	}
	return ix
}

// add appends m under kw, keeping entries duplicate-free.
func (ix *Index) add(kw string, m *domain.Market) {
	entry, ok := ix.entries[kw]
	if !ok {
		ix.keywords = append(ix.keywords, kw)
	}
	for _, existing := range entry {
		if existing.ID == m.ID {
			return
		}
	}
	ix.entries[kw] = append(entry, m)
}

// Lookup returns the markets indexed under kw in first-seen order.
func (ix *Index) Lookup(kw string) []*domain.Market {
	return ix.entries[kw]
}

// ByID returns the indexed market with the given id.
func (ix *Index) ByID(id string) (*domain.Market, bool) {
	m, ok := ix.byID[id]
	return m, ok
}

// Keywords returns every indexed keyword in insertion order.
func (ix *Index) Keywords() []string {
	return ix.keywords
}

// Ordinal returns the first-seen position of a market, used as the
// deterministic tie-break when scores are equal.
func (ix *Index) Ordinal(id string) int {
	return ix.ordinal[id]
}

// Markets returns the snapshot the index was built from.
func (ix *Index) Markets() []domain.Market {
	return ix.markets
}

// Len returns the number of indexed markets.
func (ix *Index) Len() int {
	return len(ix.byID)
}
