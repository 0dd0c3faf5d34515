package standardize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
)

// vocabularySampleMax caps how many existing canonical names are embedded in
// a request; beyond this the bias gain is marginal and the payload grows.
const vocabularySampleMax = 150

// buildStandardizePrompt renders the canonicalization instruction with the
// input batch and a sample of the existing vocabulary embedded as JSON.
func buildStandardizePrompt(items []Item, sctx domain.Context, vocabulary []string) (string, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}
	if len(vocabulary) > vocabularySampleMax {
		vocabulary = vocabulary[:vocabularySampleMax]
	}
	vocab, err := json.Marshal(vocabulary)
	if err != nil {
		return "", fmt.Errorf("marshal vocabulary: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a grocery ingredient standardizer. For each input, resolve the noisy product or ingredient name to a canonical ingredient identity: lowercase, singular, brand-free (e.g. \"Roma Tomatoes, 2lb\" -> \"tomato\").\n\n")
	b.WriteString(contextInstruction(sctx))
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Food items intended for human consumption are accepted.\n")
	b.WriteString("- Household, personal-care, and pet items are not food: return confidence at most 0.2 and category null.\n")
	b.WriteString("- category must be one of " + strings.Join(domain.Categories, ", ") + ", or null for non-food.\n")
	b.WriteString("- Prefer a name from the existing vocabulary below when the food is the same.\n")
	b.WriteString("- A compound input (\"salt and pepper\") may be split into multiple entries whose ids take a numeric suffix (\"<id>-1\", \"<id>-2\").\n")
	b.WriteString("- Respond with ONLY a JSON array, one object per result: {\"id\", \"originalName\", \"canonicalName\", \"category\", \"confidence\"} with confidence in [0,1].\n\n")
	b.WriteString("Existing canonical names (sample): ")
	b.Write(vocab)
	b.WriteString("\n\nInputs: ")
	b.Write(payload)
	return b.String(), nil
}

// buildUnitPrompt renders the unit/quantity normalization instruction.
func buildUnitPrompt(items []Item) (string, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a grocery quantity normalizer. For each input, extract the purchasable amount and unit from the name and any provided amount/unit hints, normalized to one of: each, lb, oz, g, kg, ml, l, cup, tbsp, tsp, bunch, can, package.\n\n")
	b.WriteString("Respond with ONLY a JSON array, one object per input: {\"id\", \"amount\", \"unit\", \"confidence\"} with confidence in [0,1]. Use the input id unchanged.\n\n")
	b.WriteString("Inputs: ")
	b.Write(payload)
	return b.String(), nil
}
