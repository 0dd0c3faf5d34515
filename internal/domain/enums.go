package domain

import "fmt"

// Queue item statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusResolved   = "resolved"
	StatusFailed     = "failed"
)

// Queue item sources.
const (
	SourceScraper = "scraper"
	SourceRecipe  = "recipe"
)

// Context selects how strictly packaged/convenience products are scored
// during standardization. Ingredients extracted from a recipe should reject
// boxed convenience foods as red flags; items a user physically owns should
// accept them.
type Context string

const (
	// ContextRecipe applies strict scoring for recipe-derived ingredients.
	ContextRecipe Context = "recipe"
	// ContextPantry applies lenient scoring for owned pantry items.
	ContextPantry Context = "pantry"
)

// ResolveContext maps a queue item source to its standardization context.
// Every source value is mapped explicitly; an unknown source is an error so
// a new ingestion source fails fast instead of defaulting silently.
func ResolveContext(source string) (Context, error) {
	switch source {
	case SourceRecipe:
		return ContextRecipe, nil
	case SourceScraper:
		return ContextPantry, nil
	default:
		return "", fmt.Errorf("unmapped queue item source %q", source)
	}
}

// Categories is the fixed set of canonical ingredient categories. A rejected
// non-food item carries a nil category instead of a catch-all member.
var Categories = []string{
	"produce",
	"meat",
	"seafood",
	"dairy",
	"bakery",
	"grains",
	"pantry",
	"spices",
	"condiments",
	"frozen",
	"snacks",
	"beverages",
}

var categorySet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Categories))
	for _, c := range Categories {
		m[c] = struct{}{}
	}
	return m
}()

// ValidCategory reports whether c is a member of the fixed category enum.
func ValidCategory(c string) bool {
	_, ok := categorySet[c]
	return ok
}
