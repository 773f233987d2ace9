// Package model defines the core domain types shared across the market engine.
// All monetary values use the fixed-point types in internal/fixed — never
// float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/predyx/market-engine/internal/fixed"
)

// Side is a binary market outcome side.
type Side int

const (
	// Yes is exposure that pays one credit if the market resolves YES.
	Yes Side = iota
	// No is exposure that pays one credit if the market resolves NO.
	No
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

func (s Side) String() string {
	if s == Yes {
		return "YES"
	}
	return "NO"
}

// ParseSide parses "YES" or "NO".
func ParseSide(v string) (Side, error) {
	switch v {
	case "YES":
		return Yes, nil
	case "NO":
		return No, nil
	}
	return Yes, fmt.Errorf("%w: side must be YES or NO, got %q", ErrInvalidOrder, v)
}

func (s Side) MarshalJSON() ([]byte, error) { return []byte(`"` + s.String() + `"`), nil }

func (s *Side) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("%w: invalid side", ErrInvalidOrder)
	}
	v, err := ParseSide(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPartial   OrderStatus = "partial"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// Open reports whether the order can still match or be cancelled.
func (s OrderStatus) Open() bool {
	return s == StatusPending || s == StatusPartial
}

// Order is a limit order to buy YES or NO exposure. Orders are never
// deleted; terminal orders are retained for audit.
type Order struct {
	ID             string         `json:"id"`
	MarketID       string         `json:"market_id"`
	UserID         string         `json:"user_id"`
	Side           Side           `json:"side"`
	Price          fixed.Price4   `json:"price"`
	Quantity       fixed.Credits2 `json:"quantity"`
	FilledQuantity fixed.Credits2 `json:"filled_quantity"`
	Status         OrderStatus    `json:"status"`

	// Reserved is the credits still committed to this order: the full
	// truncated cost at placement, reduced by each fill's truncated leg
	// cost, refunded on cancel. Tracked explicitly rather than derived
	// from the remaining quantity, because per-fill truncation can leave
	// a residue that price × remaining would strand.
	Reserved fixed.Credits2 `json:"reserved"`

	// Seq is a per-engine monotonic insertion sequence. It is the
	// tie-break for price-time priority, so matching never depends on
	// wall-clock resolution.
	Seq uint64 `json:"seq"`

	CreatedAt time.Time  `json:"created_at"`
	FilledAt  *time.Time `json:"filled_at,omitempty"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() fixed.Credits2 {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is an immutable record of one fill between a YES order and a NO
// order. Each leg carries its own order's limit price, so YesPrice +
// NoPrice need not sum to 1 when the submitter crossed generously.
type Trade struct {
	ID         string         `json:"id"`
	MarketID   string         `json:"market_id"`
	YesOrderID string         `json:"yes_order_id"`
	NoOrderID  string         `json:"no_order_id"`
	YesUserID  string         `json:"yes_user_id"`
	NoUserID   string         `json:"no_user_id"`
	YesPrice   fixed.Price4   `json:"yes_price"`
	NoPrice    fixed.Price4   `json:"no_price"`
	Quantity   fixed.Credits2 `json:"quantity"`

	// TotalValue is the credits both sides paid in combined:
	// YesPrice×Quantity + NoPrice×Quantity.
	TotalValue fixed.Credits2 `json:"total_value"`

	// Seq orders trades globally; newer trades have higher values.
	Seq uint64 `json:"seq"`

	ExecutedAt time.Time `json:"executed_at"`
}

// Position is a user's aggregate holdings in one market. Created lazily
// on first fill, never deleted; shares may reach zero.
type Position struct {
	UserID     string         `json:"user_id"`
	MarketID   string         `json:"market_id"`
	YesShares  fixed.Credits2 `json:"yes_shares"`
	NoShares   fixed.Credits2 `json:"no_shares"`
	YesAvgCost fixed.Price4   `json:"yes_avg_cost"`
	NoAvgCost  fixed.Price4   `json:"no_avg_cost"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Market status values.
const (
	MarketOpen     = "open"
	MarketClosed   = "closed"
	MarketResolved = "resolved"
)

// Market is the price state of one binary prediction market.
// Invariant: YesPrice + NoPrice = 1.0000 exactly, at all times.
type Market struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Question string `json:"question"`
	Category string `json:"category"`
	Status   string `json:"status"`

	YesPrice fixed.Price4 `json:"yes_price"`
	NoPrice  fixed.Price4 `json:"no_price"`

	// TotalVolume accumulates credits traded; TotalLiquidity tracks
	// credits currently committed via open orders.
	TotalVolume    fixed.Credits2 `json:"total_volume"`
	TotalLiquidity fixed.Credits2 `json:"total_liquidity"`

	// LastPricedSeq is the sequence of the newest trade the price
	// discovery engine has folded in; recomputing with an unchanged
	// value is a no-op.
	LastPricedSeq uint64 `json:"last_priced_seq"`

	CreatedAt time.Time `json:"created_at"`
}

// User holds the credit balance the engine is authoritative for. The raw
// stored balance governs spending; any decay/regeneration projection is
// a display concern outside the core.
type User struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`

	// Balance is spendable credits. Reserved is the portion committed
	// to open orders (debited at placement, consumed at fill, refunded
	// on cancel).
	Balance  fixed.Credits2 `json:"balance"`
	Reserved fixed.Credits2 `json:"reserved"`
}
