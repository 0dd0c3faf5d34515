package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
	"github.com/grocerly/go-ingredient-worker/internal/worker"
)

// ---------- flexible stubs ----------

type stubQueueStore struct {
	counts     func(context.Context) (map[string]int64, error)
	canonical  func(context.Context) (int64, error)
	listFailed func(context.Context, int, int) ([]domain.QueueItem, int64, error)
}

func (s stubQueueStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	if s.counts != nil {
		return s.counts(ctx)
	}
	return map[string]int64{"pending": 3, "failed": 1}, nil
}

func (s stubQueueStore) CountCanonical(ctx context.Context) (int64, error) {
	if s.canonical != nil {
		return s.canonical(ctx)
	}
	return 42, nil
}

func (s stubQueueStore) ListFailed(ctx context.Context, offset, limit int) ([]domain.QueueItem, int64, error) {
	if s.listFailed != nil {
		return s.listFailed(ctx, offset, limit)
	}
	return nil, 0, nil
}

type stubPreview struct {
	preview func(context.Context, int) (*worker.CycleReport, error)
}

func (s stubPreview) Preview(ctx context.Context, limit int) (*worker.CycleReport, error) {
	if s.preview != nil {
		return s.preview(ctx, limit)
	}
	return &worker.CycleReport{Results: []worker.RowOutcome{}}, nil
}

type stubPriceSvc struct {
	record func(context.Context, string, string, float64, float64, string, time.Time) (*domain.PriceEntry, error)
	live   func(context.Context, string, string, time.Time) (*domain.PriceEntry, error)
	list   func(context.Context, string, time.Time) ([]domain.PriceEntry, error)
	sweep  func(context.Context, time.Time) (int64, error)
}

func (s stubPriceSvc) RecordPrice(ctx context.Context, id, store string, price, qty float64, unit string, now time.Time) (*domain.PriceEntry, error) {
	if s.record != nil {
		return s.record(ctx, id, store, price, qty, unit, now)
	}
	return &domain.PriceEntry{IngredientID: id, StoreKey: "walmart", Price: price}, nil
}

func (s stubPriceSvc) LivePrice(ctx context.Context, id, store string, now time.Time) (*domain.PriceEntry, error) {
	if s.live != nil {
		return s.live(ctx, id, store, now)
	}
	return &domain.PriceEntry{IngredientID: id, StoreKey: "walmart", Price: 1.99}, nil
}

func (s stubPriceSvc) LivePrices(ctx context.Context, id string, now time.Time) ([]domain.PriceEntry, error) {
	if s.list != nil {
		return s.list(ctx, id, now)
	}
	return nil, nil
}

func (s stubPriceSvc) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.sweep != nil {
		return s.sweep(ctx, now)
	}
	return 0, nil
}

func (s stubPriceSvc) StoreDisplayName(storeKey string) string { return "Walmart" }

// ---------- harness ----------

func newQueueRouter(queue QueueStore, preview PreviewRunner, prices PriceService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(queue, preview, prices)
	r.GET("/admin/queue/stats", h.QueueStats)
	r.GET("/admin/queue/failed", h.ListFailed)
	r.POST("/admin/queue/preview", h.RunPreview)
	return r
}

func doReq(t *testing.T, r *gin.Engine, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	r.ServeHTTP(w, req)
	return w
}

// ---------- tests ----------

func TestQueueStats_OK(t *testing.T) {
	r := newQueueRouter(stubQueueStore{}, stubPreview{}, stubPriceSvc{})

	w := doReq(t, r, http.MethodGet, "/admin/queue/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp QueueStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Queue["pending"] != 3 || resp.Queue["failed"] != 1 || resp.CanonicalTotal != 42 {
		t.Fatalf("unexpected stats: %+v", resp)
	}
}

func TestQueueStats_StoreError(t *testing.T) {
	r := newQueueRouter(stubQueueStore{
		counts: func(context.Context) (map[string]int64, error) { return nil, errors.New("db down") },
	}, stubPreview{}, stubPriceSvc{})

	w := doReq(t, r, http.MethodGet, "/admin/queue/stats")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeStatsFailed {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestListFailed_PaginationAndClamping(t *testing.T) {
	var gotOffset, gotLimit int
	reason := "blacklisted"
	r := newQueueRouter(stubQueueStore{
		listFailed: func(_ context.Context, offset, limit int) ([]domain.QueueItem, int64, error) {
			gotOffset, gotLimit = offset, limit
			return []domain.QueueItem{
				{ID: "r1", RawName: "mystery", Status: domain.StatusFailed, FailureReason: &reason},
			}, 41, nil
		},
	}, stubPreview{}, stubPriceSvc{})

	w := doReq(t, r, http.MethodGet, "/admin/queue/failed?page=3&page_size=500")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	// page_size clamped to 100, offset = (3-1)*100
	if gotOffset != 200 || gotLimit != 100 {
		t.Fatalf("offset=%d limit=%d", gotOffset, gotLimit)
	}
	var resp ListFailedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "r1" {
		t.Fatalf("items: %+v", resp.Items)
	}
	if resp.Pagination.Total != 41 || resp.Pagination.TotalPages != 1 || resp.Pagination.HasNext {
		t.Fatalf("pagination: %+v", resp.Pagination)
	}
}

func TestRunPreview_PassesLimitAndReturnsReport(t *testing.T) {
	var gotLimit int
	r := newQueueRouter(stubQueueStore{}, stubPreview{
		preview: func(_ context.Context, limit int) (*worker.CycleReport, error) {
			gotLimit = limit
			return &worker.CycleReport{
				Summary: worker.CycleSummary{TotalProcessed: 2, Resolved: 2},
				Results: []worker.RowOutcome{
					{RowID: "r1", CanonicalName: "tomato", Status: "resolved"},
					{RowID: "r2", CanonicalName: "basil", Status: "resolved"},
				},
			}, nil
		},
	}, stubPriceSvc{})

	w := doReq(t, r, http.MethodPost, "/admin/queue/preview?limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if gotLimit != 5 {
		t.Fatalf("limit=%d", gotLimit)
	}
	var report worker.CycleReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("json: %v", err)
	}
	if report.Summary.Resolved != 2 || len(report.Results) != 2 {
		t.Fatalf("report: %+v", report)
	}
}

func TestRunPreview_NegativeLimitRejected(t *testing.T) {
	r := newQueueRouter(stubQueueStore{}, stubPreview{}, stubPriceSvc{})

	w := doReq(t, r, http.MethodPost, "/admin/queue/preview?limit=-1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestRunPreview_WorkerError(t *testing.T) {
	r := newQueueRouter(stubQueueStore{}, stubPreview{
		preview: func(context.Context, int) (*worker.CycleReport, error) {
			return nil, errors.New("claim query failed")
		},
	}, stubPriceSvc{})

	w := doReq(t, r, http.MethodPost, "/admin/queue/preview")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodePreviewFailed {
		t.Fatalf("code=%q", er.Code)
	}
}
