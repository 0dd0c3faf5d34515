package match

// Similarity weighting. Coverage of the proposed name's tokens dominates:
// if every identity-bearing token of the proposal appears in the candidate,
// the two almost certainly describe the same food.
const (
	proposalCoverageWeight  = 0.6
	candidateCoverageWeight = 0.2
	jaccardWeight           = 0.2

	// fuzzyMinRunes guards the edit-distance allowance: short tokens flip
	// identity with a single edit ("rice" vs "ride").
	fuzzyMinRunes    = 5
	fuzzyMaxDistance = 1
)

// ScoreCanonicalSimilarity returns a similarity in [0,1] between a proposed
// canonical name and an existing candidate. It is used to decide whether an
// AI-proposed name actually matches an entry it did not exactly name, so
// "roma tomato" and "tomato, roma" converge instead of drifting into
// near-duplicate vocabulary entries.
func ScoreCanonicalSimilarity(proposed, candidate string) float64 {
	a := NormalizeCanonicalName(proposed)
	b := NormalizeCanonicalName(candidate)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	aTokens := contentTokens(a)
	bTokens := contentTokens(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}

	aMatched := matchedCount(aTokens, bTokens)
	bMatched := matchedCount(bTokens, aTokens)
	union := len(aTokens) + len(bTokens) - aMatched
	if union <= 0 {
		return 0
	}

	score := proposalCoverageWeight*(float64(aMatched)/float64(len(aTokens))) +
		candidateCoverageWeight*(float64(bMatched)/float64(len(bTokens))) +
		jaccardWeight*(float64(aMatched)/float64(union))
	if score > 1 {
		score = 1
	}
	return score
}

// matchedCount counts tokens of a that appear in b, allowing a one-edit
// fuzzy match for longer tokens.
func matchedCount(a, b []string) int {
	exact := make(map[string]struct{}, len(b))
	for _, t := range b {
		exact[t] = struct{}{}
	}
	n := 0
	for _, t := range a {
		if _, ok := exact[t]; ok {
			n++
			continue
		}
		for _, u := range b {
			if pluralEqual(t, u) || fuzzyEqual(t, u) {
				n++
				break
			}
		}
	}
	return n
}

// pluralEqual matches a simple English plural against its singular
// ("tomatoes"/"tomato", "eggs"/"egg"). Canonical names are stored singular,
// so proposals arriving in plural form must still hit.
func pluralEqual(a, b string) bool {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) < 3 {
		return false
	}
	return a == b+"s" || a == b+"es" || (len(b) > 1 && b[len(b)-1] == 'y' && a == b[:len(b)-1]+"ies")
}

// fuzzyEqual reports whether two distinct tokens are within the edit-distance
// allowance. Both must be long enough for a single edit to be noise rather
// than a different word.
func fuzzyEqual(a, b string) bool {
	if len([]rune(a)) < fuzzyMinRunes || len([]rune(b)) < fuzzyMinRunes {
		return false
	}
	diff := len(a) - len(b)
	if diff < 0 {
		diff = -diff
	}
	if diff > fuzzyMaxDistance {
		return false
	}
	return levenshtein(a, b) <= fuzzyMaxDistance
}

// levenshtein computes edit distance with a two-row matrix.
func levenshtein(s1, s2 string) int {
	r1 := []rune(s1)
	r2 := []rune(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			d := prev[j] + 1
			if curr[j-1]+1 < d {
				d = curr[j-1] + 1
			}
			if prev[j-1]+cost < d {
				d = prev[j-1] + cost
			}
			curr[j] = d
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}
