// Package pricing recomputes market YES/NO prices from recent trade flow.
//
// The raw signal is a volume-weighted average price over a sliding window
// of trades, blended with the current price for smoothing and then
// normalized so the two outcome prices sum to exactly 1.0000.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/model"
)

const (
	// DefaultWindow is how many recent trades feed the VWAP.
	DefaultWindow = 100

	// DefaultAlpha is the smoothing factor: the weight of the fresh
	// VWAP against the current price. Higher is more reactive.
	DefaultAlpha = 0.7
)

// Engine holds the tunable parameters of price discovery.
type Engine struct {
	window int
	alpha  decimal.Decimal
}

// New creates a price discovery engine. Non-positive parameters fall
// back to the defaults.
func New(window int, alpha decimal.Decimal) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if !alpha.IsPositive() || alpha.GreaterThan(decimal.NewFromInt(1)) {
		alpha = decimal.NewFromFloat(DefaultAlpha)
	}
	return &Engine{window: window, alpha: alpha}
}

// Default returns an engine with the default window and alpha.
func Default() *Engine {
	return New(DefaultWindow, decimal.NewFromFloat(DefaultAlpha))
}

// Update is the outcome of one recomputation.
type Update struct {
	YesPrice fixed.Price4
	NoPrice  fixed.Price4

	// PricedSeq is the sequence of the newest trade folded in; storing
	// it on the market makes recomputation idempotent when no trades
	// have happened since.
	PricedSeq uint64

	// Changed is false when the window held nothing new and the market
	// prices were left untouched.
	Changed bool
}

// Recompute derives new prices for a market from its recent trades,
// ordered newest first. Only the window's worth of trades is read.
//
// Every trade feeds both accumulators: its YES leg price weights the YES
// VWAP and the complement (1 − yes_price) weights the NO VWAP. The
// blended prices are normalized by their sum, the YES price truncates to
// four decimals, and the NO price is forced to 1.0000 − yes exactly so
// the sum invariant holds bit for bit.
func (e *Engine) Recompute(m *model.Market, recent []model.Trade) Update {
	unchanged := Update{YesPrice: m.YesPrice, NoPrice: m.NoPrice, PricedSeq: m.LastPricedSeq}
	if len(recent) == 0 || recent[0].Seq == m.LastPricedSeq {
		return unchanged
	}

	window := recent
	if len(window) > e.window {
		window = window[:e.window]
	}

	var yesValue, noValue, totalQty decimal.Decimal
	one := decimal.NewFromInt(1)
	for _, t := range window {
		q := t.Quantity.Decimal()
		yes := t.YesPrice.Decimal()
		yesValue = yesValue.Add(yes.Mul(q))
		noValue = noValue.Add(one.Sub(yes).Mul(q))
		totalQty = totalQty.Add(q)
	}

	yesVWAP := m.YesPrice.Decimal()
	noVWAP := m.NoPrice.Decimal()
	if totalQty.IsPositive() {
		yesVWAP = yesValue.Div(totalQty)
		noVWAP = noValue.Div(totalQty)
	}

	// Blend: alpha × VWAP + (1 − alpha) × current.
	beta := one.Sub(e.alpha)
	newYes := e.alpha.Mul(yesVWAP).Add(beta.Mul(m.YesPrice.Decimal()))
	newNo := e.alpha.Mul(noVWAP).Add(beta.Mul(m.NoPrice.Decimal()))

	total := newYes.Add(newNo)
	if !total.IsPositive() {
		// Degenerate state: reset to the neutral market.
		return Update{
			YesPrice:  fixed.HalfPrice(),
			NoPrice:   fixed.HalfPrice(),
			PricedSeq: recent[0].Seq,
			Changed:   true,
		}
	}

	yes := fixed.NewPrice4(newYes.Div(total))
	return Update{
		YesPrice:  yes,
		NoPrice:   yes.Complement(),
		PricedSeq: recent[0].Seq,
		Changed:   true,
	}
}
