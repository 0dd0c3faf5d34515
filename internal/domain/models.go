// Package domain defines the persistence models for the ingredient
// canonicalization pipeline: queued free-text names awaiting resolution,
// the canonical ingredient vocabulary, cached store prices, and learned
// name→canonical mappings. These types are mapped with GORM and form the
// core data layer of the worker.
package domain

import (
	"time"
)

// QueueItem represents one unresolved product or ingredient name that needs
// canonicalization. Rows are created by an external ingestion process in
// status "pending" and are claimed, resolved, or failed by workers holding a
// time-bounded lease.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - RawName: the noisy free-text name as scraped or typed.
//   - CleanedName: pre-cleaned variant of RawName (may equal RawName).
//   - BestMatch: optional best-known fuzzy match recorded at ingestion.
//   - Source: origin of the row ("scraper" or "recipe"); indexed for filtering.
//   - NeedsIngredientReview / NeedsUnitReview: independent review flags. A row
//     with both flags false is invalid and is never returned by a claim.
//   - Status: pending | processing | resolved | failed (enforced by DB constraint).
//   - LeaseOwner / LeaseExpiresAt: exclusive claim held by one worker; an
//     expired lease makes the row claimable again.
//   - ResolvedName / ResolvedIngredientID / Confidence: terminal resolution.
//   - Amount / Unit: quantity info captured at ingestion, if any.
//   - ResolvedAmount / ResolvedUnit: output of the unit-resolution pass.
//   - FailureReason: diagnostic text for failed rows (retained, terminal).
//   - ResolverID: identity of the worker that wrote the terminal state.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type QueueItem struct {
	ID                    string     `json:"id"           gorm:"type:char(36);primaryKey"`
	RawName               string     `json:"raw_name"     gorm:"type:text;not null"`
	CleanedName           string     `json:"cleaned_name" gorm:"type:text;not null"`
	BestMatch             *string    `json:"best_match,omitempty" gorm:"type:text"`
	Source                string     `json:"source"       gorm:"type:varchar(16);not null;index:idx_queue_claim,priority:3;check:source IN ('scraper','recipe')"`
	NeedsIngredientReview bool       `json:"needs_ingredient_review" gorm:"not null;default:false"`
	NeedsUnitReview       bool       `json:"needs_unit_review"       gorm:"not null;default:false"`
	Status                string     `json:"status"       gorm:"type:varchar(16);not null;default:'pending';index:idx_queue_claim,priority:1;check:status IN ('pending','processing','resolved','failed')"`
	LeaseOwner            *string    `json:"lease_owner,omitempty"      gorm:"type:varchar(64)"`
	LeaseExpiresAt        *time.Time `json:"lease_expires_at,omitempty" gorm:"index:idx_queue_claim,priority:2"`
	ResolvedName          *string    `json:"resolved_name,omitempty"          gorm:"type:varchar(255)"`
	ResolvedIngredientID  *string    `json:"resolved_ingredient_id,omitempty" gorm:"type:char(36);index"`
	Confidence            *float64   `json:"confidence,omitempty"`
	Amount                *float64   `json:"amount,omitempty"`
	Unit                  *string    `json:"unit,omitempty"           gorm:"type:varchar(32)"`
	ResolvedAmount        *float64   `json:"resolved_amount,omitempty"`
	ResolvedUnit          *string    `json:"resolved_unit,omitempty"  gorm:"type:varchar(32)"`
	FailureReason         *string    `json:"failure_reason,omitempty" gorm:"type:text"`
	ResolverID            *string    `json:"resolver_id,omitempty"    gorm:"type:varchar(64)"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TableName returns the database table name for QueueItem.
func (QueueItem) TableName() string { return "ingredient_queue" }

// CanonicalIngredient is the ground truth for "what food this is": a
// normalized, deduplicated ingredient identity (lowercase, singular,
// brand-free) with an optional category.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Name: unique canonical name; the unique constraint, not application
//     logic, is what makes concurrent get-or-create race-safe.
//   - Category: member of the fixed category enum, or nil for rejected
//     non-food items. Never an invented catch-all.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type CanonicalIngredient struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"     gorm:"type:varchar(255);not null;uniqueIndex:ux_canonical_name"`
	Category  *string   `json:"category" gorm:"type:varchar(32)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for CanonicalIngredient.
func (CanonicalIngredient) TableName() string { return "canonical_ingredients" }

// PriceEntry is one store's observed price for a canonical ingredient. At
// most one live (non-expired) entry exists per (ingredient, store) pair;
// expiry is store-specific and entries are lazily treated as absent once
// ExpiresAt has passed.
//
// Fields:
//   - ID: UUID primary key.
//   - IngredientID: canonical ingredient this price belongs to.
//   - StoreKey: normalized store identifier (e.g. "kroger", "traderjoes").
//   - Price / Quantity / Unit / UnitPrice: the observation itself.
//   - ExpiresAt: TTL horizon derived from the store's price-change cadence.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type PriceEntry struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	IngredientID string    `json:"ingredient_id" gorm:"type:char(36);not null;uniqueIndex:ux_price_ingredient_store,priority:1"`
	StoreKey     string    `json:"store_key"     gorm:"type:varchar(32);not null;uniqueIndex:ux_price_ingredient_store,priority:2"`
	Price        float64   `json:"price"         gorm:"not null"`
	Quantity     float64   `json:"quantity"      gorm:"not null;default:1"`
	Unit         string    `json:"unit"          gorm:"type:varchar(32);not null;default:'each'"`
	UnitPrice    *float64  `json:"unit_price,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"    gorm:"not null;index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for PriceEntry.
func (PriceEntry) TableName() string { return "ingredient_prices" }

// IngredientMapping caches a shortcut from a previously seen free-text name
// (stored as its normalized search key) to a canonical ingredient, optionally
// scoped to a recipe. Lookups hit the mapping before any external AI call, so
// repeated inputs resolve locally.
//
// Fields:
//   - ID: UUID primary key.
//   - RawKey: normalized search key of the free-text name.
//   - RecipeID: optional recipe scope; empty string means global. Part of the
//     unique index so a recipe-scoped mapping never shadows the global one.
//   - IngredientID: the canonical identity the key resolves to.
//   - Confidence: confidence recorded when the mapping was learned.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type IngredientMapping struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	RawKey       string    `json:"raw_key"       gorm:"type:varchar(255);not null;uniqueIndex:ux_mapping_key_recipe,priority:1"`
	RecipeID     string    `json:"recipe_id"     gorm:"type:char(36);not null;default:'';uniqueIndex:ux_mapping_key_recipe,priority:2"`
	IngredientID string    `json:"ingredient_id" gorm:"type:char(36);not null;index"`
	Confidence   float64   `json:"confidence"    gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for IngredientMapping.
func (IngredientMapping) TableName() string { return "ingredient_mappings" }
