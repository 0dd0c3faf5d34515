// Price cache HTTP handlers.
//
// This file exposes the admin endpoints for the per-store ingredient price
// cache:
//   - GET  /admin/prices/{id}        (live prices; ?store= narrows to one)
//   - POST /admin/prices/{id}        (record an observed price)
//   - POST /admin/sweep/prices       (purge expired rows)
//
// Expiry is lazy: a price past its store-specific TTL is reported absent even
// if the sweep has not removed the row yet.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
	"github.com/grocerly/go-ingredient-worker/internal/services"
)

// PriceService defines the price cache operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PriceService interface {
	// RecordPrice upserts one store's observed price for an ingredient.
	RecordPrice(ctx context.Context, ingredientID, store string, price, quantity float64, unit string, now time.Time) (*domain.PriceEntry, error)
	// LivePrice returns the unexpired price for (ingredient, store), if any.
	LivePrice(ctx context.Context, ingredientID, store string, now time.Time) (*domain.PriceEntry, error)
	// LivePrices returns all unexpired prices for an ingredient.
	LivePrices(ctx context.Context, ingredientID string, now time.Time) ([]domain.PriceEntry, error)
	// SweepExpired removes expired rows, returning how many were purged.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	// StoreDisplayName renders a normalized store key for humans.
	StoreDisplayName(storeKey string) string
}

//
// DTOs
//

// RecordPriceRequest is the JSON payload for recording a price observation.
type RecordPriceRequest struct {
	// Store is the store identifier; normalized server-side ("Trader Joe's" → "traderjoes").
	Store string `json:"store" binding:"required"`
	// Price is the observed shelf price. Must be positive.
	Price float64 `json:"price" binding:"required"`
	// Quantity the price covers; defaults to 1.
	Quantity float64 `json:"quantity"`
	// Unit of the quantity; defaults to "each".
	Unit string `json:"unit"`
}

// PriceView is one live price entry enriched with the store's display name.
type PriceView struct {
	domain.PriceEntry
	StoreName string `json:"store_name"`
}

// LivePricesResponse wraps all live prices for an ingredient.
type LivePricesResponse struct {
	IngredientID string      `json:"ingredient_id"`
	Prices       []PriceView `json:"prices"`
}

// SweepResponse reports how many expired price rows a sweep removed.
type SweepResponse struct {
	Purged int64 `json:"purged"`
}

//
// Handlers
//

// GetPrices returns the live (unexpired) prices for an ingredient. With a
// ?store= query parameter it returns that store's entry alone, or 404 when no
// live entry exists.
func (h *Handlers) GetPrices(c *gin.Context) {
	ingredientID := c.Param("id")
	if _, err := uuid.Parse(ingredientID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ingredient id must be a UUID")
		return
	}
	ctx := c.Request.Context()
	now := time.Now().UTC()

	if store := c.Query("store"); store != "" {
		entry, err := h.prices.LivePrice(ctx, ingredientID, store, now)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrUnknownStore):
				fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown store")
			case errors.Is(err, services.ErrPriceNotFound):
				fail(c, http.StatusNotFound, ErrCodeNotFound, "no live price for this store")
			default:
				fail(c, http.StatusInternalServerError, ErrCodePriceFailed, err.Error())
			}
			return
		}
		ok(c, http.StatusOK, PriceView{PriceEntry: *entry, StoreName: h.prices.StoreDisplayName(entry.StoreKey)})
		return
	}

	entries, err := h.prices.LivePrices(ctx, ingredientID, now)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodePriceFailed, err.Error())
		return
	}
	views := make([]PriceView, 0, len(entries))
	for _, e := range entries {
		views = append(views, PriceView{PriceEntry: e, StoreName: h.prices.StoreDisplayName(e.StoreKey)})
	}
	ok(c, http.StatusOK, LivePricesResponse{IngredientID: ingredientID, Prices: views})
}

// RecordPrice upserts one store's observed price for an ingredient and
// returns the stored entry with its computed expiry.
func (h *Handlers) RecordPrice(c *gin.Context) {
	ingredientID := c.Param("id")
	if _, err := uuid.Parse(ingredientID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ingredient id must be a UUID")
		return
	}

	var req RecordPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "store and price are required")
		return
	}

	entry, err := h.prices.RecordPrice(c.Request.Context(), ingredientID, req.Store,
		req.Price, req.Quantity, req.Unit, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownStore):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown store")
		case errors.Is(err, services.ErrInvalidPrice):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "price must be positive")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeRecordFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusCreated, PriceView{PriceEntry: *entry, StoreName: h.prices.StoreDisplayName(entry.StoreKey)})
}

// SweepPrices purges expired price rows. Correctness never depends on the
// sweep (expiry is lazy); this reclaims space and keeps listings small.
func (h *Handlers) SweepPrices(c *gin.Context) {
	n, err := h.prices.SweepExpired(c.Request.Context(), time.Now().UTC())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSweepFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, SweepResponse{Purged: n})
}
