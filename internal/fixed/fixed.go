// Package fixed pins the two decimal precisions used across the engine:
// prices carry four decimal places, credit amounts and share quantities
// carry two. Construction and every operation that can produce extra
// digits truncate (round down), so rounding policy lives here and cannot
// silently vary between call sites.
//
// All monetary values use shopspring/decimal — never float64 for money.
package fixed

import (
	"github.com/shopspring/decimal"
)

const (
	// PriceScale is the number of decimal places for prices and unit costs.
	PriceScale int32 = 4

	// CreditsScale is the number of decimal places for credit amounts
	// and share quantities.
	CreditsScale int32 = 2
)

// Price4 is a market price or per-share cost with exactly four decimal
// places, truncated on construction.
type Price4 struct {
	d decimal.Decimal
}

// NewPrice4 truncates d to four decimal places.
func NewPrice4(d decimal.Decimal) Price4 {
	return Price4{d.Truncate(PriceScale)}
}

// ParsePrice4 parses a decimal string into a Price4.
func ParsePrice4(s string) (Price4, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price4{}, err
	}
	return NewPrice4(d), nil
}

// PriceFromFloat builds a Price4 from a float literal. Intended for
// configuration defaults and tests, not for money arithmetic.
func PriceFromFloat(f float64) Price4 {
	return NewPrice4(decimal.NewFromFloat(f))
}

// OnePrice is the exact price 1.0000.
func OnePrice() Price4 {
	return Price4{decimal.NewFromInt(1)}
}

// HalfPrice is the exact price 0.5000, the neutral market state.
func HalfPrice() Price4 {
	return Price4{decimal.New(5, -1)}
}

// Complement returns 1.0000 − p, exact at four decimal places.
func (p Price4) Complement() Price4 {
	return Price4{decimal.NewFromInt(1).Sub(p.d)}
}

// Cost returns p × q truncated to two decimal places: the credits a
// fill of q shares at price p costs.
func (p Price4) Cost(q Credits2) Credits2 {
	return Credits2{p.d.Mul(q.d).Truncate(CreditsScale)}
}

func (p Price4) Add(o Price4) Price4      { return Price4{p.d.Add(o.d)} }
func (p Price4) Sub(o Price4) Price4     { return Price4{p.d.Sub(o.d)} }
func (p Price4) Equal(o Price4) bool     { return p.d.Equal(o.d) }
func (p Price4) LessThan(o Price4) bool  { return p.d.LessThan(o.d) }
func (p Price4) LessThanOrEqual(o Price4) bool { return p.d.LessThanOrEqual(o.d) }
func (p Price4) GreaterThan(o Price4) bool     { return p.d.GreaterThan(o.d) }
func (p Price4) IsPositive() bool        { return p.d.IsPositive() }
func (p Price4) IsZero() bool            { return p.d.IsZero() }

// Decimal exposes the underlying value for compound arithmetic; callers
// must re-enter the type through NewPrice4 afterwards.
func (p Price4) Decimal() decimal.Decimal { return p.d }

// String renders with all four decimal places, e.g. "0.6000".
func (p Price4) String() string { return p.d.StringFixed(PriceScale) }

func (p Price4) MarshalJSON() ([]byte, error)  { return []byte(`"` + p.String() + `"`), nil }
func (p *Price4) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*p = NewPrice4(d)
	return nil
}

// Credits2 is a credit amount or share quantity with exactly two decimal
// places, truncated on construction.
type Credits2 struct {
	d decimal.Decimal
}

// NewCredits2 truncates d to two decimal places.
func NewCredits2(d decimal.Decimal) Credits2 {
	return Credits2{d.Truncate(CreditsScale)}
}

// ParseCredits2 parses a decimal string into a Credits2.
func ParseCredits2(s string) (Credits2, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Credits2{}, err
	}
	return NewCredits2(d), nil
}

// CreditsFromFloat builds a Credits2 from a float literal. Intended for
// configuration defaults and tests.
func CreditsFromFloat(f float64) Credits2 {
	return NewCredits2(decimal.NewFromFloat(f))
}

// ZeroCredits is the amount 0.00.
func ZeroCredits() Credits2 { return Credits2{} }

// MinCredits returns the smaller of a and b.
func MinCredits(a, b Credits2) Credits2 {
	if a.d.LessThan(b.d) {
		return a
	}
	return b
}

func (c Credits2) Add(o Credits2) Credits2 { return Credits2{c.d.Add(o.d)} }
func (c Credits2) Sub(o Credits2) Credits2 { return Credits2{c.d.Sub(o.d)} }
func (c Credits2) Equal(o Credits2) bool   { return c.d.Equal(o.d) }
func (c Credits2) LessThan(o Credits2) bool { return c.d.LessThan(o.d) }
func (c Credits2) GreaterThan(o Credits2) bool { return c.d.GreaterThan(o.d) }
func (c Credits2) GreaterThanOrEqual(o Credits2) bool { return c.d.GreaterThanOrEqual(o.d) }
func (c Credits2) IsPositive() bool        { return c.d.IsPositive() }
func (c Credits2) IsNegative() bool        { return c.d.IsNegative() }
func (c Credits2) IsZero() bool            { return c.d.IsZero() }

// ClampZero returns 0.00 when c is negative, otherwise c.
func (c Credits2) ClampZero() Credits2 {
	if c.d.IsNegative() {
		return Credits2{}
	}
	return c
}

// Decimal exposes the underlying value for compound arithmetic.
func (c Credits2) Decimal() decimal.Decimal { return c.d }

// String renders with both decimal places, e.g. "60.00".
func (c Credits2) String() string { return c.d.StringFixed(CreditsScale) }

func (c Credits2) MarshalJSON() ([]byte, error) { return []byte(`"` + c.String() + `"`), nil }
func (c *Credits2) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*c = NewCredits2(d)
	return nil
}

// WeightedAvgCost recomputes a position's average unit cost after a fill:
//
//	(oldAvg × oldQty + fillPrice × fillQty) / (oldQty + fillQty)
//
// truncated to four decimal places. A zero combined quantity yields a
// zero cost basis.
func WeightedAvgCost(oldAvg Price4, oldQty Credits2, fillPrice Price4, fillQty Credits2) Price4 {
	totalQty := oldQty.d.Add(fillQty.d)
	if totalQty.IsZero() {
		return Price4{}
	}
	totalCost := oldAvg.d.Mul(oldQty.d).Add(fillPrice.d.Mul(fillQty.d))
	return NewPrice4(totalCost.Div(totalQty))
}
