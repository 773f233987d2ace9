// Package risk enforces exposure limits on order placement.
//
// Markets in the same category (elections, sports, macro) tend to move
// together, so a user loading up on YES across one category carries
// correlated risk. The limiter caps net exposure per market and
// aggregate absolute exposure per category.
package risk

import (
	"errors"

	"github.com/predyx/market-engine/internal/fixed"
)

var (
	// ErrMarketLimitExceeded is returned when an order would push the
	// user's net position in a single market beyond the per-market cap.
	ErrMarketLimitExceeded = errors.New("risk: per-market exposure limit exceeded")

	// ErrCategoryLimitExceeded is returned when an order would push the
	// user's aggregate exposure across a category beyond the cap.
	ErrCategoryLimitExceeded = errors.New("risk: category exposure limit exceeded")
)

// ExposureLimiter caps a user's share exposure. A zero cap disables the
// corresponding check.
type ExposureLimiter struct {
	// MaxPerMarket is the maximum absolute net position (YES − NO
	// shares) in any single market.
	MaxPerMarket fixed.Credits2

	// MaxPerCategory is the maximum aggregate absolute exposure across
	// all markets sharing a category.
	MaxPerCategory fixed.Credits2
}

// NewExposureLimiter creates a limiter with the given caps.
func NewExposureLimiter(maxPerMarket, maxPerCategory fixed.Credits2) *ExposureLimiter {
	return &ExposureLimiter{MaxPerMarket: maxPerMarket, MaxPerCategory: maxPerCategory}
}

// Check validates an order before placement.
//
//   - targetMarket, category: the market being traded and its category
//   - delta: signed exposure change (+qty for YES, −qty for NO)
//   - exposures: the user's current net exposure per market
//   - categoryOf: category lookup for markets the user has exposure in
//
// Returns nil when the order is within limits.
func (l *ExposureLimiter) Check(
	targetMarket, category string,
	delta fixed.Credits2,
	exposures map[string]fixed.Credits2,
	categoryOf map[string]string,
) error {
	newPosition := exposures[targetMarket].Add(delta)

	if l.MaxPerMarket.IsPositive() && abs(newPosition).GreaterThan(l.MaxPerMarket) {
		return ErrMarketLimitExceeded
	}

	if !l.MaxPerCategory.IsPositive() || category == "" {
		return nil
	}

	totalInCategory := abs(newPosition)
	for marketID, exposure := range exposures {
		if marketID == targetMarket {
			continue // already counted via newPosition
		}
		if categoryOf[marketID] == category {
			totalInCategory = totalInCategory.Add(abs(exposure))
		}
	}

	if totalInCategory.GreaterThan(l.MaxPerCategory) {
		return ErrCategoryLimitExceeded
	}
	return nil
}

func abs(c fixed.Credits2) fixed.Credits2 {
	if c.IsNegative() {
		return fixed.ZeroCredits().Sub(c)
	}
	return c
}
