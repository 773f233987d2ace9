// Package book holds resting orders per market and answers counterparty
// queries for the matching algorithm. It has no side effects of its own;
// the engine serializes access per market.
package book

import (
	"sort"

	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/model"
)

// Book indexes open orders by market.
type Book struct {
	byMarket map[string][]*model.Order
}

// New creates an empty book.
func New() *Book {
	return &Book{byMarket: make(map[string][]*model.Order)}
}

// Add inserts a resting order.
func (b *Book) Add(o *model.Order) {
	b.byMarket[o.MarketID] = append(b.byMarket[o.MarketID], o)
}

// Remove drops an order from its market, typically after it reaches a
// terminal status. Unknown orders are ignored.
func (b *Book) Remove(o *model.Order) {
	orders := b.byMarket[o.MarketID]
	for i, cur := range orders {
		if cur.ID == o.ID {
			b.byMarket[o.MarketID] = append(orders[:i], orders[i+1:]...)
			return
		}
	}
}

// OpenOrders returns the open orders resting on a market, unordered.
func (b *Book) OpenOrders(marketID string) []*model.Order {
	var open []*model.Order
	for _, o := range b.byMarket[marketID] {
		if o.Status.Open() {
			open = append(open, o)
		}
	}
	return open
}

// FindCounterparties returns resting orders eligible to match an incoming
// order, best first. Eligibility: opposite side, still open, different
// owner, and the counter price compatible with the complement of the
// incoming limit (counter.Price ≤ 1 − limitPrice).
//
// Ordering is price-time priority: ascending price, then ascending
// insertion sequence. The sort is stable, so identical inputs always
// yield the same sequence.
func (b *Book) FindCounterparties(marketID string, side model.Side, limitPrice fixed.Price4, userID string) []*model.Order {
	maxCounterPrice := limitPrice.Complement()

	var eligible []*model.Order
	for _, o := range b.byMarket[marketID] {
		if o.Side != side.Opposite() || !o.Status.Open() {
			continue
		}
		if o.UserID == userID {
			continue // no self-trade
		}
		if o.Price.GreaterThan(maxCounterPrice) {
			continue
		}
		eligible = append(eligible, o)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].Price.Equal(eligible[j].Price) {
			return eligible[i].Price.LessThan(eligible[j].Price)
		}
		return eligible[i].Seq < eligible[j].Seq
	})

	return eligible
}
