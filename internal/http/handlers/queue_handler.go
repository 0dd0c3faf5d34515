// Queue admin HTTP handlers.
//
// This file exposes the operator endpoints for the ingredient queue:
//   - GET  /admin/queue/stats    (row counts by status, vocabulary size)
//   - GET  /admin/queue/failed   (failed rows for manual review, paginated)
//   - POST /admin/queue/preview  (dry-run resolution of claimable rows)
//
// Handlers are transport-thin: they validate input, call the worker or the
// queue store, and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
	"github.com/grocerly/go-ingredient-worker/internal/utils"
	"github.com/grocerly/go-ingredient-worker/internal/worker"
)

//
// Contracts (context-aware)
//

// QueueStore exposes the read-only queue queries the admin surface needs.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type QueueStore interface {
	// CountByStatus returns row counts keyed by queue status.
	CountByStatus(ctx context.Context) (map[string]int64, error)
	// CountCanonical returns the size of the canonical vocabulary.
	CountCanonical(ctx context.Context) (int64, error)
	// ListFailed returns a page of failed rows and the total failed count.
	ListFailed(ctx context.Context, offset, limit int) ([]domain.QueueItem, int64, error)
}

// PreviewRunner runs the resolution pipeline in dry-run mode over claimable
// rows, without taking leases or persisting anything.
type PreviewRunner interface {
	Preview(ctx context.Context, limit int) (*worker.CycleReport, error)
}

//
// Handler wiring
//

// Handlers groups the admin HTTP endpoints for queue inspection, dry-run
// previews, and the price cache. It depends on abstract contracts to keep
// transport concerns separate from pipeline logic.
type Handlers struct {
	queue   QueueStore
	preview PreviewRunner
	prices  PriceService
}

// New constructs a Handlers instance bound to the given dependencies.
func New(queue QueueStore, preview PreviewRunner, prices PriceService) *Handlers {
	return &Handlers{queue: queue, preview: preview, prices: prices}
}

//
// DTOs
//

// QueueStatsResponse reports queue row counts by status plus the current
// canonical vocabulary size.
type QueueStatsResponse struct {
	Queue          map[string]int64 `json:"queue"`
	CanonicalTotal int64            `json:"canonical_total"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListFailedResponse wraps a page of failed queue rows and pagination
// information.
type ListFailedResponse struct {
	Items      []domain.QueueItem `json:"items"`
	Pagination Pagination         `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

//
// Handlers
//

// QueueStats returns row counts by status and the canonical vocabulary size.
func (h *Handlers) QueueStats(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.queue.CountByStatus(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	total, err := h.queue.CountCanonical(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, QueueStatsResponse{Queue: counts, CanonicalTotal: total})
}

// ListFailed returns a page of failed queue rows, newest first, for manual
// review. Failed rows are terminal; this endpoint is how operators find them.
func (h *Handlers) ListFailed(c *gin.Context) {
	page, pageSize := clampPagination(c)
	offset := (page - 1) * pageSize

	items, total, err := h.queue.ListFailed(c.Request.Context(), offset, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListFailedResponse{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// RunPreview executes a dry-run pass over up to `limit` claimable rows and
// returns the structured report of what a live cycle would have written. No
// leases are taken and nothing is persisted.
func (h *Handlers) RunPreview(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 0)
	if limit < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be positive")
		return
	}

	report, err := h.preview.Preview(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodePreviewFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}
