package model

import "errors"

// Rejections surfaced synchronously at submission or cancel time.
var (
	// ErrInvalidOrder is returned for a price outside (0,1] or a
	// non-positive quantity. Nothing is mutated.
	ErrInvalidOrder = errors.New("order: invalid price or quantity")

	// ErrInsufficientFunds is returned when the balance check at
	// placement fails. Nothing is mutated.
	ErrInsufficientFunds = errors.New("credits: insufficient funds")

	// ErrInvalidState is returned when cancelling an order that is
	// already filled or cancelled.
	ErrInvalidState = errors.New("order: not cancellable in current state")

	// ErrForbidden is returned when a user acts on an order they do
	// not own.
	ErrForbidden = errors.New("order: not owned by requesting user")

	// ErrNotFound is returned for unknown order, market, or user IDs.
	ErrNotFound = errors.New("not found")

	// ErrMarketClosed is returned when the market is not open for
	// trading.
	ErrMarketClosed = errors.New("market: not open for trading")
)

// ErrMatchingFailure wraps an unexpected storage error during the atomic
// match-and-settle pass. The pass is rolled back; the order stays
// pending/partial and remains matchable.
var ErrMatchingFailure = errors.New("engine: matching failure, rolled back")

// ErrInvariantViolation marks reservation-accounting bugs such as a fill
// debit exceeding the reserved amount. These abort loudly rather than
// clamp-and-continue.
var ErrInvariantViolation = errors.New("engine: accounting invariant violated")
