// Package standardize wraps the external AI standardization service behind a
// stateless request/response client. The service receives a batch of noisy
// free-text names plus a context tag and returns one (or more, for compound
// inputs) canonical proposals per input.
//
// The client never propagates transport or parse failures to the caller:
// any unreachable endpoint, non-2xx status, or malformed response degrades
// to a deterministic per-input fallback so resolution cannot crash on a bad
// external response.
package standardize

import (
	"strings"
	"time"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
)

// FallbackConfidence is the fixed low confidence attached to fallback
// results when the external service is unreachable or unparseable.
const FallbackConfidence = 0.1

// Item is one input to a standardization batch.
type Item struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Amount *float64 `json:"amount,omitempty"`
	Unit   *string  `json:"unit,omitempty"`
}

// Result is one canonical proposal. Compound inputs ("salt and pepper") may
// produce several results sharing a suffixed id ("<id>-1", "<id>-2").
type Result struct {
	ID            string  `json:"id"`
	OriginalName  string  `json:"originalName"`
	CanonicalName string  `json:"canonicalName"`
	Category      *string `json:"category"`
	Confidence    float64 `json:"confidence"`
}

// UnitResult is one proposal from the unit/quantity normalization pass.
type UnitResult struct {
	ID         string  `json:"id"`
	Amount     float64 `json:"amount"`
	Unit       string  `json:"unit"`
	Confidence float64 `json:"confidence"`
}

// KnownIDs builds the membership set BaseID resolves against from a batch of
// input items.
func KnownIDs(items []Item) map[string]struct{} {
	known := make(map[string]struct{}, len(items))
	for _, it := range items {
		known[it.ID] = struct{}{}
	}
	return known
}

// BaseID maps a result id back to the input item id it fans out from.
// Compound splits are suffixed "<id>-1", "<id>-2"; a trailing digit segment
// is treated as a split suffix only when the stripped base is itself a known
// input id, so input ids that happen to end in digits (UUID tails) are never
// misread as splits.
func BaseID(id string, known map[string]struct{}) string {
	if _, ok := known[id]; ok {
		return id
	}
	if i := strings.LastIndex(id, "-"); i > 0 {
		suffix := id[i+1:]
		if suffix != "" && isDigits(suffix) {
			if _, ok := known[id[:i]]; ok {
				return id[:i]
			}
		}
	}
	return id
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FallbackResult builds the deterministic degraded result for one input:
// the lowercased, trimmed original name with fixed low confidence and no
// category.
func FallbackResult(item Item) Result {
	return Result{
		ID:            item.ID,
		OriginalName:  item.Name,
		CanonicalName: strings.ToLower(strings.TrimSpace(item.Name)),
		Category:      nil,
		Confidence:    FallbackConfidence,
	}
}

// FallbackResults builds fallback results for a whole batch, in input order.
func FallbackResults(items []Item) []Result {
	out := make([]Result, len(items))
	for i, it := range items {
		out[i] = FallbackResult(it)
	}
	return out
}

// SampleCache is the cached sample of existing canonical names included in
// each request to bias matching toward the current vocabulary. Expiry is an
// explicit value plus a pure predicate so it is testable with any clock.
type SampleCache struct {
	Names     []string
	ExpiresAt time.Time
}

// Valid reports whether the cached sample may still be used at the given
// instant.
func (c SampleCache) Valid(now time.Time) bool {
	return len(c.Names) > 0 && now.Before(c.ExpiresAt)
}

// contextInstruction returns the scoring guidance for a standardization
// context. Recipe-derived names treat packaged convenience foods as red
// flags; pantry items accept them.
func contextInstruction(ctx domain.Context) string {
	if ctx == domain.ContextPantry {
		return "The names are items a user physically owns. Packaged and convenience foods are acceptable as-is."
	}
	return "The names are ingredients extracted from a recipe. Treat packaged convenience foods (boxed meal kits, branded prepared products) as red flags: strip them to their base ingredient and lower the confidence."
}
