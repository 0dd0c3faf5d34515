// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the canonical
// ingredient vocabulary.
//
// The vocabulary is read-mostly: lookups are safe for any number of
// concurrent workers, and the only write path is GetOrCreateCanonical, whose
// race safety rests on the unique constraint on the canonical name rather
// than application-level locking. Two workers discovering the "same new"
// name simultaneously converge to one row.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
)

// ErrDuplicate indicates that an insert hit a unique constraint.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation detects unique-constraint failures across the error
// shapes the pure-Go SQLite driver produces.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// GetCanonicalByName fetches the canonical entry with exactly the given
// (already normalized) name, or ErrNotFound.
func GetCanonicalByName(ctx context.Context, db *gorm.DB, name string) (*domain.CanonicalIngredient, error) {
	var c domain.CanonicalIngredient
	err := db.WithContext(ctx).Where("name = ?", name).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCanonicalByID fetches a canonical entry by primary key, or ErrNotFound.
func GetCanonicalByID(ctx context.Context, db *gorm.DB, id string) (*domain.CanonicalIngredient, error) {
	var c domain.CanonicalIngredient
	err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SearchCanonicalByText returns canonical entries whose name contains the
// query substring, ordered by name for deterministic results.
func SearchCanonicalByText(ctx context.Context, db *gorm.DB, query string, limit int) ([]domain.CanonicalIngredient, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	var out []domain.CanonicalIngredient
	q := db.WithContext(ctx).
		Where("name LIKE ?", "%"+query+"%").
		Order("name ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// FindCanonicalByNames returns canonical entries whose name exactly matches
// any of the given variants.
func FindCanonicalByNames(ctx context.Context, db *gorm.DB, names []string) ([]domain.CanonicalIngredient, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var out []domain.CanonicalIngredient
	err := db.WithContext(ctx).
		Where("name IN ?", names).
		Order("name ASC").
		Find(&out).Error
	return out, err
}

// GetOrCreateCanonical returns the canonical entry for name, inserting it
// when absent. The operation is idempotent and race-safe: a concurrent
// insert of the same name loses to the unique index and falls back to
// reading the winner's row. The category of an existing row is never
// overwritten by a later proposal.
func GetOrCreateCanonical(ctx context.Context, db *gorm.DB, name string, category *string) (*domain.CanonicalIngredient, error) {
	if existing, err := GetCanonicalByName(ctx, db, name); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	c := &domain.CanonicalIngredient{
		ID:        uuid.NewString(),
		Name:      name,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return GetCanonicalByName(ctx, db, name)
		}
		return nil, err
	}
	return c, nil
}

// SampleCanonicalNames returns up to limit canonical names, most recently
// created first. The sample biases the standardizer prompt toward the
// existing vocabulary.
func SampleCanonicalNames(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	var names []string
	q := db.WithContext(ctx).Model(&domain.CanonicalIngredient{}).
		Order("created_at DESC, name ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("name", &names).Error
	return names, err
}

// CountCanonical returns the vocabulary size, for the admin stats endpoint.
func CountCanonical(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.CanonicalIngredient{}).Count(&total).Error
	return total, err
}
