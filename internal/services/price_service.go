// Package services – PriceService
//
// This file implements the PriceService, the TTL cache of per-store ingredient
// prices. Each known store carries its own expiry horizon matching how often
// its prices actually change; an observation recorded today is served until
// that horizon passes and is lazily treated as absent afterwards. At most one
// live entry exists per (ingredient, store) pair.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
	"github.com/grocerly/go-ingredient-worker/internal/repo"
)

// storeTTLs maps normalized store keys to their price expiry horizon.
// High-churn stores get short horizons; stable-price stores get long ones.
var storeTTLs = map[string]time.Duration{
	"walmart":    12 * time.Hour,
	"aldi":       24 * time.Hour,
	"kroger":     24 * time.Hour,
	"safeway":    24 * time.Hour,
	"meijer":     24 * time.Hour,
	"target":     24 * time.Hour,
	"wholefoods": 24 * time.Hour,
	"traderjoes": 48 * time.Hour,
	"99ranch":    48 * time.Hour,
}

// storeDisplayNames overrides the default title-casing for store keys whose
// human name is not a single cased word.
var storeDisplayNames = map[string]string{
	"traderjoes": "Trader Joe's",
	"wholefoods": "Whole Foods",
	"99ranch":    "99 Ranch",
}

// PriceService records and serves store price observations for canonical
// ingredients, enforcing the store vocabulary and per-store TTLs.
type PriceService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	titleCaser cases.Caser
}

// NewPriceService constructs a PriceService.
func NewPriceService(db *gorm.DB) *PriceService {
	return &PriceService{
		DB:         db,
		titleCaser: cases.Title(language.English),
	}
}

// NormalizeStoreKey lowercases a store name and strips spaces, apostrophes,
// and punctuation so "Trader Joe's" and "traderjoes" resolve identically.
func NormalizeStoreKey(store string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(store)) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// KnownStore reports whether the store (in any spelling) is part of the
// store vocabulary.
func KnownStore(store string) bool {
	_, ok := storeTTLs[NormalizeStoreKey(store)]
	return ok
}

// StoreDisplayName returns the human-readable name for a store key.
func (s *PriceService) StoreDisplayName(storeKey string) string {
	key := NormalizeStoreKey(storeKey)
	if name, ok := storeDisplayNames[key]; ok {
		return name
	}
	return s.titleCaser.String(key)
}

// RecordPrice upserts a price observation for (ingredientID, store), stamping
// it with the store's expiry horizon. The store must be in the vocabulary and
// price and quantity must be positive.
func (s *PriceService) RecordPrice(ctx context.Context, ingredientID, store string, price, quantity float64, unit string, now time.Time) (*domain.PriceEntry, error) {
	key := NormalizeStoreKey(store)
	ttl, ok := storeTTLs[key]
	if !ok {
		return nil, ErrUnknownStore
	}
	if price <= 0 || quantity <= 0 {
		return nil, ErrInvalidPrice
	}

	unit = strings.TrimSpace(strings.ToLower(unit))
	if unit == "" {
		unit = "each"
	}
	unitPrice := price / quantity

	entry := &domain.PriceEntry{
		IngredientID: ingredientID,
		StoreKey:     key,
		Price:        price,
		Quantity:     quantity,
		Unit:         unit,
		UnitPrice:    &unitPrice,
		ExpiresAt:    now.Add(ttl),
	}
	if err := repo.UpsertPrice(ctx, s.DB, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// LivePrice returns the non-expired price entry for (ingredientID, store),
// or ErrPriceNotFound when none exists or the entry has expired.
func (s *PriceService) LivePrice(ctx context.Context, ingredientID, store string, now time.Time) (*domain.PriceEntry, error) {
	key := NormalizeStoreKey(store)
	if _, ok := storeTTLs[key]; !ok {
		return nil, ErrUnknownStore
	}
	entry, err := repo.GetLivePrice(ctx, s.DB, ingredientID, key, now)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPriceNotFound
		}
		return nil, err
	}
	return entry, nil
}

// LivePrices returns every non-expired price entry for the ingredient,
// cheapest unit price first.
func (s *PriceService) LivePrices(ctx context.Context, ingredientID string, now time.Time) ([]domain.PriceEntry, error) {
	return repo.ListLivePrices(ctx, s.DB, ingredientID, now)
}

// SweepExpired deletes expired price rows and returns the count removed.
// Correctness never depends on the sweep; it only reclaims space.
func (s *PriceService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return repo.PurgeExpiredPrices(ctx, s.DB, now)
}
