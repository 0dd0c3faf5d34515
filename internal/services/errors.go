// Package services defines the business logic that sits between the worker
// loop and the repositories: canonical-name resolution with double-checking,
// and the store price cache. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into failure reasons on queue rows or HTTP status codes is performed by the
// worker and handler layers.
package services

import "errors"

var (
	// ErrEmptyCanonicalName is returned when a proposed canonical name
	// normalizes to nothing usable (too short, digits only, blank).
	ErrEmptyCanonicalName = errors.New("canonical name is empty after normalization")

	// ErrRejectedCanonicalName is returned when a proposed canonical name is
	// on the blacklist of catch-all values ("other", "unknown", ...). Such a
	// proposal is a resolution failure requiring review, never a write.
	ErrRejectedCanonicalName = errors.New("canonical name is blacklisted")

	// ErrUnknownStore is returned when a price observation names a store that
	// is not part of the known store vocabulary.
	ErrUnknownStore = errors.New("unknown store")

	// ErrPriceNotFound indicates that no live (non-expired) price entry exists
	// for the requested ingredient and store.
	ErrPriceNotFound = errors.New("price not found")

	// ErrInvalidPrice is returned when a price observation carries a
	// non-positive price or quantity.
	ErrInvalidPrice = errors.New("invalid price observation")
)
