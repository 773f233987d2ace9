package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/model"
)

func price(s string) fixed.Price4 {
	v, err := fixed.ParsePrice4(s)
	if err != nil {
		panic(err)
	}
	return v
}

func qty(s string) fixed.Credits2 {
	v, err := fixed.ParseCredits2(s)
	if err != nil {
		panic(err)
	}
	return v
}

func neutralMarket() *model.Market {
	return &model.Market{
		ID:       "m1",
		YesPrice: fixed.HalfPrice(),
		NoPrice:  fixed.HalfPrice(),
	}
}

func trade(yesPrice, quantity string, seq uint64) model.Trade {
	return model.Trade{
		MarketID: "m1",
		YesPrice: price(yesPrice),
		Quantity: qty(quantity),
		Seq:      seq,
	}
}

func TestRecompute_SingleTrade(t *testing.T) {
	e := Default()
	m := neutralMarket()

	// VWAP yes = 0.60; blended: 0.7×0.60 + 0.3×0.50 = 0.57.
	upd := e.Recompute(m, []model.Trade{trade("0.60", "100", 7)})

	if !upd.Changed {
		t.Fatal("expected a price change")
	}
	if upd.YesPrice.String() != "0.5700" || upd.NoPrice.String() != "0.4300" {
		t.Errorf("expected 0.5700/0.4300, got %s/%s", upd.YesPrice, upd.NoPrice)
	}
	if upd.PricedSeq != 7 {
		t.Errorf("expected priced seq 7, got %d", upd.PricedSeq)
	}
}

func TestRecompute_VolumeWeighted(t *testing.T) {
	e := Default()
	m := neutralMarket()

	// VWAP yes = (0.70×50 + 0.60×100) / 150 = 0.63333...;
	// blended: 0.7×0.63333 + 0.3×0.50 = 0.59333... → 0.5933.
	recent := []model.Trade{
		trade("0.70", "50", 9),
		trade("0.60", "100", 7),
	}
	upd := e.Recompute(m, recent)

	if upd.YesPrice.String() != "0.5933" || upd.NoPrice.String() != "0.4067" {
		t.Errorf("expected 0.5933/0.4067, got %s/%s", upd.YesPrice, upd.NoPrice)
	}
}

func TestRecompute_PricesSumToOne(t *testing.T) {
	e := Default()
	m := neutralMarket()

	recent := []model.Trade{
		trade("0.8123", "33.33", 3),
		trade("0.1057", "12.01", 2),
		trade("0.5500", "99.99", 1),
	}
	upd := e.Recompute(m, recent)

	if !upd.YesPrice.Add(upd.NoPrice).Equal(fixed.OnePrice()) {
		t.Errorf("prices must sum to 1.0000 exactly, got %s + %s", upd.YesPrice, upd.NoPrice)
	}
}

func TestRecompute_Idempotent(t *testing.T) {
	e := Default()
	m := neutralMarket()
	recent := []model.Trade{trade("0.60", "100", 7)}

	upd := e.Recompute(m, recent)
	m.YesPrice, m.NoPrice, m.LastPricedSeq = upd.YesPrice, upd.NoPrice, upd.PricedSeq

	// Same window head: a no-op, prices stay put.
	again := e.Recompute(m, recent)
	if again.Changed {
		t.Error("recompute with unchanged window should be a no-op")
	}
	if !again.YesPrice.Equal(upd.YesPrice) || !again.NoPrice.Equal(upd.NoPrice) {
		t.Errorf("prices drifted: %s/%s vs %s/%s",
			again.YesPrice, again.NoPrice, upd.YesPrice, upd.NoPrice)
	}
}

func TestRecompute_EmptyWindowIsNoOp(t *testing.T) {
	e := Default()
	m := neutralMarket()

	upd := e.Recompute(m, nil)
	if upd.Changed {
		t.Error("expected no change on empty window")
	}
	if !upd.YesPrice.Equal(m.YesPrice) {
		t.Errorf("expected unchanged price, got %s", upd.YesPrice)
	}
}

func TestRecompute_WindowCap(t *testing.T) {
	// Window of 2: the oldest trade must not influence the VWAP.
	e := New(2, decimal.NewFromFloat(DefaultAlpha))
	m := neutralMarket()

	recent := []model.Trade{
		trade("0.80", "100", 3),
		trade("0.80", "100", 2),
		trade("0.20", "100", 1), // outside the window
	}
	upd := e.Recompute(m, recent)

	// VWAP yes = 0.80; blended: 0.7×0.80 + 0.3×0.50 = 0.71.
	if upd.YesPrice.String() != "0.7100" {
		t.Errorf("expected 0.7100, got %s", upd.YesPrice)
	}
}

func TestRecompute_DegenerateResetsToNeutral(t *testing.T) {
	// Zero market prices and a zero-quantity window produce a zero
	// total; the market resets to 0.5000/0.5000.
	e := Default()
	m := &model.Market{ID: "m1"}

	upd := e.Recompute(m, []model.Trade{trade("0.60", "0", 4)})
	if !upd.Changed {
		t.Fatal("expected degenerate reset to count as a change")
	}
	if upd.YesPrice.String() != "0.5000" || upd.NoPrice.String() != "0.5000" {
		t.Errorf("expected neutral reset, got %s/%s", upd.YesPrice, upd.NoPrice)
	}
}
