// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ingredient
// price cache: TTL-keyed price observations per (canonical ingredient,
// store) pair.
//
// Expiry is lazy: lookups filter on expires_at, so a stale row is simply
// invisible. PurgeExpiredPrices exists to reclaim space, not for
// correctness.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
)

// UpsertPrice creates or overwrites the single price entry for the
// (ingredientID, storeKey) pair. Each successful scrape replaces the prior
// observation and restarts the store-specific TTL.
func UpsertPrice(ctx context.Context, db *gorm.DB, entry *domain.PriceEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ingredient_id"}, {Name: "store_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"price", "quantity", "unit", "unit_price", "expires_at", "updated_at",
			}),
		}).
		Create(entry).Error
}

// GetLivePrice returns the non-expired price entry for the pair, or
// ErrNotFound when missing or already past its expiry horizon.
func GetLivePrice(ctx context.Context, db *gorm.DB, ingredientID, storeKey string, now time.Time) (*domain.PriceEntry, error) {
	var e domain.PriceEntry
	err := db.WithContext(ctx).
		Where("ingredient_id = ? AND store_key = ? AND expires_at > ?", ingredientID, storeKey, now).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListLivePrices returns all non-expired price entries for an ingredient
// across stores, cheapest unit first when unit prices are present.
func ListLivePrices(ctx context.Context, db *gorm.DB, ingredientID string, now time.Time) ([]domain.PriceEntry, error) {
	var out []domain.PriceEntry
	err := db.WithContext(ctx).
		Where("ingredient_id = ? AND expires_at > ?", ingredientID, now).
		Order("unit_price ASC, price ASC, store_key ASC").
		Find(&out).Error
	return out, err
}

// PurgeExpiredPrices deletes rows whose expiry horizon has passed and
// returns how many were removed.
func PurgeExpiredPrices(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.PriceEntry{})
	return res.RowsAffected, res.Error
}
