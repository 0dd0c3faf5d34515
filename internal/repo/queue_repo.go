// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ingredient
// queue: atomic claim-with-lease, lease-expiry requeue, and the terminal
// resolution/failure writes.
//
// Concurrency model:
//   - Any number of workers may call ClaimPending against the same table.
//     Mutual exclusion comes entirely from the conditional UPDATE used to
//     take the lease: each candidate row is claimed with a guard on its
//     observed status, so a concurrent claimer's update affects zero rows
//     and the row goes to exactly one owner.
//   - RequeueExpired must run before each claim cycle; a crashed worker's
//     rows become claimable again one lease window later, never lost.
//
// Error semantics:
//   - When a queue row is not found, functions return ErrNotFound.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// Review-mode filters accepted by ClaimPending and FetchPendingFiltered.
const (
	ReviewIngredient = "ingredient"
	ReviewUnit       = "unit"
	ReviewAny        = "any"
)

// SourceAny disables source filtering in claim/fetch operations.
const SourceAny = "any"

// claimableScope narrows a query to rows eligible for claiming: pending rows
// and processing rows whose lease has already expired, with at least one
// review flag still set (a row with both flags false is invalid and is never
// returned), honoring the review-mode and source filters.
func claimableScope(q *gorm.DB, now time.Time, reviewMode, source string) *gorm.DB {
	q = q.Where(
		"(status = ? OR (status = ? AND lease_expires_at <= ?))",
		domain.StatusPending, domain.StatusProcessing, now,
	)
	switch reviewMode {
	case ReviewIngredient:
		q = q.Where("needs_ingredient_review = ?", true)
	case ReviewUnit:
		q = q.Where("needs_unit_review = ?", true)
	default:
		q = q.Where("(needs_ingredient_review = ? OR needs_unit_review = ?)", true, true)
	}
	if source != "" && source != SourceAny {
		q = q.Where("source = ?", source)
	}
	return q
}

// ClaimPending atomically claims up to limit eligible rows for ownerID with
// a lease of leaseFor, and returns the claimed rows. Rows lost to a
// concurrent claimer are skipped, so the returned slice may be shorter than
// limit even when more matching rows exist.
func ClaimPending(ctx context.Context, db *gorm.DB, now time.Time, limit int, ownerID string, leaseFor time.Duration, reviewMode, source string) ([]domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	var candidates []domain.QueueItem
	err := claimableScope(db.WithContext(ctx).Model(&domain.QueueItem{}), now, reviewMode, source).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	expiry := now.Add(leaseFor)
	claimed := make([]string, 0, len(candidates))
	for _, row := range candidates {
		// Guarded per-row lease take: only one concurrent caller can flip the
		// row out of its observed claimable state.
		res := db.WithContext(ctx).Model(&domain.QueueItem{}).
			Where("id = ? AND (status = ? OR (status = ? AND lease_expires_at <= ?))",
				row.ID, domain.StatusPending, domain.StatusProcessing, now).
			Updates(map[string]any{
				"status":           domain.StatusProcessing,
				"lease_owner":      ownerID,
				"lease_expires_at": expiry,
				"updated_at":       now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			claimed = append(claimed, row.ID)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	var out []domain.QueueItem
	err = db.WithContext(ctx).
		Where("id IN ?", claimed).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// RequeueExpired resets up to limit processing rows whose lease has expired
// back to pending, recording reason, and returns how many rows were
// recovered. Lease expiry is an expected recovery path, not an error.
func RequeueExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int, reason string) (int64, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("status = ? AND lease_expires_at <= ?", domain.StatusProcessing, now).
		Order("lease_expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id IN ? AND status = ? AND lease_expires_at <= ?", ids, domain.StatusProcessing, now).
		Updates(map[string]any{
			"status":           domain.StatusPending,
			"lease_owner":      nil,
			"lease_expires_at": nil,
			"failure_reason":   reason,
			"updated_at":       now,
		})
	return res.RowsAffected, res.Error
}

// Resolution carries the terminal write for a successfully resolved row.
type Resolution struct {
	CanonicalName  string
	IngredientID   string
	Confidence     float64
	ResolverID     string
	ResolvedAmount *float64
	ResolvedUnit   *string
	// ClearIngredient / ClearUnit select which review flags this write
	// settles; a row needing both may be resolved in two separate writes.
	ClearIngredient bool
	ClearUnit       bool
}

// MarkResolved writes the terminal resolved state for a row, clearing only
// the review flags the resolution actually settled. The write is idempotent:
// repeating it for an already-resolved row converges to the same state.
func MarkResolved(ctx context.Context, db *gorm.DB, rowID string, now time.Time, r Resolution) error {
	updates := map[string]any{
		"status":                 domain.StatusResolved,
		"resolved_name":          r.CanonicalName,
		"resolved_ingredient_id": r.IngredientID,
		"confidence":             r.Confidence,
		"resolver_id":            r.ResolverID,
		"lease_owner":            nil,
		"lease_expires_at":       nil,
		"failure_reason":         nil,
		"updated_at":             now,
	}
	if r.ClearIngredient {
		updates["needs_ingredient_review"] = false
	}
	if r.ClearUnit {
		updates["needs_unit_review"] = false
	}
	if r.ResolvedAmount != nil {
		updates["resolved_amount"] = *r.ResolvedAmount
	}
	if r.ResolvedUnit != nil {
		updates["resolved_unit"] = *r.ResolvedUnit
	}

	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ? AND status <> ?", rowID, domain.StatusFailed).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish "missing" from "already failed": both are terminal
		// for the caller, but a missing row is a programming error.
		var count int64
		if err := db.WithContext(ctx).Model(&domain.QueueItem{}).Where("id = ?", rowID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// MarkIngredientResolvedPendingUnit records a partial resolution: the
// ingredient identity is settled, but the row returns to pending so a
// unit-resolution pass can still claim it.
func MarkIngredientResolvedPendingUnit(ctx context.Context, db *gorm.DB, rowID string, now time.Time, r Resolution) error {
	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ? AND status <> ?", rowID, domain.StatusFailed).
		Updates(map[string]any{
			"status":                  domain.StatusPending,
			"needs_ingredient_review": false,
			"resolved_name":           r.CanonicalName,
			"resolved_ingredient_id":  r.IngredientID,
			"confidence":              r.Confidence,
			"resolver_id":             r.ResolverID,
			"lease_owner":             nil,
			"lease_expires_at":        nil,
			"updated_at":              now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed writes the terminal failed state with a human-readable reason.
// Failed rows are eligible for manual review and are never silently retried.
func MarkFailed(ctx context.Context, db *gorm.DB, rowID, resolverID, reason string, now time.Time) error {
	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ?", rowID).
		Updates(map[string]any{
			"status":           domain.StatusFailed,
			"failure_reason":   reason,
			"resolver_id":      resolverID,
			"lease_owner":      nil,
			"lease_expires_at": nil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FetchPendingFiltered returns up to limit claimable rows without taking a
// lease. It backs dry-run previews and the admin inspection endpoints.
func FetchPendingFiltered(ctx context.Context, db *gorm.DB, now time.Time, limit int, reviewMode, source string) ([]domain.QueueItem, error) {
	var out []domain.QueueItem
	err := claimableScope(db.WithContext(ctx).Model(&domain.QueueItem{}), now, reviewMode, source).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountByStatus returns row counts grouped by queue status, for the admin
// stats endpoint and worker logging.
func CountByStatus(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// ListFailed returns a page of failed rows ordered by most recently updated,
// for the manual-review listing.
func ListFailed(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.QueueItem, int64, error) {
	q := db.WithContext(ctx).Model(&domain.QueueItem{}).Where("status = ?", domain.StatusFailed)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.QueueItem{}, 0, nil
	}

	var out []domain.QueueItem
	err := q.Order("updated_at DESC, id ASC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}
