// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for learned
// name→canonical mappings, the shortcut that lets repeated free-text inputs
// skip the external standardizer call.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
)

// GetMapping returns the mapping for a normalized search key, preferring a
// recipe-scoped entry over the global one. Returns ErrNotFound when neither
// exists.
func GetMapping(ctx context.Context, db *gorm.DB, rawKey, recipeID string) (*domain.IngredientMapping, error) {
	if recipeID != "" {
		var scoped domain.IngredientMapping
		err := db.WithContext(ctx).
			Where("raw_key = ? AND recipe_id = ?", rawKey, recipeID).
			First(&scoped).Error
		if err == nil {
			return &scoped, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var global domain.IngredientMapping
	err := db.WithContext(ctx).
		Where("raw_key = ? AND recipe_id = ?", rawKey, "").
		First(&global).Error
	if err != nil {
		return nil, err
	}
	return &global, nil
}

// SaveMapping records (or refreshes) the mapping from a normalized search
// key to a canonical ingredient. An existing mapping for the same
// (key, recipe) pair is overwritten with the newer resolution.
func SaveMapping(ctx context.Context, db *gorm.DB, rawKey, recipeID, ingredientID string, confidence float64) error {
	m := &domain.IngredientMapping{
		ID:           uuid.NewString(),
		RawKey:       rawKey,
		RecipeID:     recipeID,
		IngredientID: ingredientID,
		Confidence:   confidence,
		CreatedAt:    time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "raw_key"}, {Name: "recipe_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"ingredient_id", "confidence", "updated_at"}),
		}).
		Create(m).Error
}
