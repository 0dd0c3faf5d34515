// Package match provides the pure canonical-name matching engine: name
// normalization, search-variant generation, and token/edit-distance
// similarity scoring. It is intentionally small and dependency-free, and
// engineered with production-grade ergonomics:
//
//   - No I/O and no logging (callers decide how/what to log)
//   - Unicode-aware tokenization with prep/qualifier stop-word removal
//   - Deterministic output ordering (stable variant lists, stable scores)
//   - Pure functions throughout, safe for concurrent use
//
// Similarity combines token coverage of the proposed name, coverage of the
// candidate, and Jaccard overlap of the two token sets, with a small fuzzy
// allowance for near-identical tokens ("tomatoes" vs "tomatoe").
package match

import (
	"regexp"
	"strings"
	"unicode"
)

// rejectedNames are catch-all values that must never be accepted as a
// canonical ingredient name, even when proposed with high confidence.
var rejectedNames = map[string]struct{}{
	"other":         {},
	"unknown":       {},
	"none":          {},
	"n/a":           {},
	"misc":          {},
	"miscellaneous": {},
}

// stopwords are prep instructions, qualifiers, units, and packaging noise
// that carry no identity signal when comparing ingredient names.
var stopwords = map[string]struct{}{
	// prep instructions
	"chopped": {}, "diced": {}, "minced": {}, "sliced": {}, "grated": {},
	"shredded": {}, "peeled": {}, "crushed": {}, "ground": {}, "melted": {},
	"softened": {}, "divided": {}, "trimmed": {}, "halved": {}, "cubed": {},
	"julienned": {}, "mashed": {}, "beaten": {}, "rinsed": {}, "drained": {},
	// qualifiers
	"fresh": {}, "frozen": {}, "canned": {}, "dried": {}, "raw": {},
	"cooked": {}, "ripe": {}, "organic": {}, "whole": {}, "boneless": {},
	"skinless": {}, "seedless": {}, "unsalted": {}, "salted": {},
	"sweetened": {}, "unsweetened": {}, "finely": {}, "coarsely": {},
	"thinly": {}, "roughly": {}, "freshly": {}, "lightly": {},
	"large": {}, "medium": {}, "small": {}, "extra": {}, "jumbo": {},
	"baby": {}, "mini": {},
	// units and packaging
	"cup": {}, "cups": {}, "tbsp": {}, "tsp": {}, "tablespoon": {},
	"tablespoons": {}, "teaspoon": {}, "teaspoons": {}, "oz": {}, "ounce": {},
	"ounces": {}, "lb": {}, "lbs": {}, "pound": {}, "pounds": {}, "gram": {},
	"grams": {}, "kg": {}, "ml": {}, "liter": {}, "liters": {},
	"can": {}, "cans": {}, "jar": {}, "package": {}, "pkg": {}, "bag": {},
	"box": {}, "bunch": {}, "clove": {}, "cloves": {}, "pinch": {}, "dash": {},
	"piece": {}, "pieces": {}, "slice": {}, "slices": {}, "count": {}, "ct": {},
	// connective noise
	"of": {}, "to": {}, "taste": {}, "and": {}, "or": {}, "for": {},
	"a": {}, "an": {}, "the": {}, "each": {}, "per": {},
	"optional": {}, "needed": {}, "plus": {}, "more": {}, "about": {},
}

var (
	wordRE        = regexp.MustCompile(`\p{L}+\p{N}*`)
	parentheticRE = regexp.MustCompile(`\([^)]*\)`)
	whitespaceRE  = regexp.MustCompile(`\s+`)
)

// NormalizeCanonicalName lowercases and trims a proposed canonical name,
// collapsing internal whitespace. Degenerate values (empty, punctuation-only,
// digit-only, or single-rune strings) normalize to "".
func NormalizeCanonicalName(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = whitespaceRE.ReplaceAllString(s, " ")
	if s == "" {
		return ""
	}
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 2 {
		return ""
	}
	return s
}

// Rejected reports whether a normalized name is on the canonical-name
// blacklist. Blacklisted proposals are treated as resolution failures that
// need human review, never as writes.
func Rejected(name string) bool {
	_, ok := rejectedNames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// SearchKey reduces a free-text name to its normalized lookup/dedupe key:
// lowercase token words joined by single spaces, punctuation discarded.
// Rows sharing a key within a context are standardized by one external call.
func SearchKey(raw string) string {
	words := wordRE.FindAllString(strings.ToLower(raw), -1)
	return strings.Join(words, " ")
}

// BuildSearchVariants generates normalized lookup keys for a name, in order:
// the full normalized string, the text before the first comma, the text with
// parenthetical asides stripped, the text before the first slash, and the
// stop-word-stripped token form. Duplicates and empties are dropped while
// preserving first-seen order.
func BuildSearchVariants(name string) []string {
	base := NormalizeCanonicalName(name)
	if base == "" {
		return nil
	}

	candidates := []string{base}
	if i := strings.Index(base, ","); i > 0 {
		candidates = append(candidates, base[:i])
	}
	if stripped := parentheticRE.ReplaceAllString(base, " "); stripped != base {
		candidates = append(candidates, stripped)
	}
	if i := strings.Index(base, "/"); i > 0 {
		candidates = append(candidates, base[:i])
	}
	candidates = append(candidates, strings.Join(contentTokens(base), " "))

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = NormalizeCanonicalName(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// contentTokens tokenizes s and removes stop words, preserving order and
// dropping duplicate tokens.
func contentTokens(s string) []string {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, skip := stopwords[w]; skip {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
