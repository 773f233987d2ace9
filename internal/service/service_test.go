package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/predyx/market-engine/internal/engine"
	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/service"
	"github.com/predyx/market-engine/internal/store"
)

// newTestEnv creates a Service over an in-memory engine plus a chi router.
func newTestEnv(t *testing.T) (*engine.Engine, chi.Router) {
	t.Helper()
	eng := engine.New(store.NewMemoryStore(), nil, nil)
	svc := service.NewService(eng, fixed.CreditsFromFloat(10000), nil)

	r := chi.NewRouter()
	r.Post("/api/v1/users", svc.CreateUser)
	r.Get("/api/v1/users/{userID}", svc.GetUser)
	r.Post("/api/v1/markets", svc.CreateMarket)
	r.Get("/api/v1/markets", svc.ListMarkets)
	r.Get("/api/v1/markets/{marketID}", svc.GetMarket)
	r.Get("/api/v1/markets/{marketID}/price", svc.GetPrice)
	r.Get("/api/v1/markets/{marketID}/trades", svc.GetTrades)
	r.Post("/api/v1/orders", svc.SubmitOrder)
	r.Get("/api/v1/orders/{orderID}", svc.GetOrder)
	r.Post("/api/v1/orders/{orderID}/cancel", svc.CancelOrder)
	r.Get("/api/v1/positions/{userID}", svc.GetPositions)

	return eng, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createUser(t *testing.T, router chi.Router, id string) model.User {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/users", service.CreateUserRequest{UserID: id}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var u model.User
	json.Unmarshal(w.Body.Bytes(), &u)
	return u
}

func createMarket(t *testing.T, router chi.Router) model.Market {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/markets", service.CreateMarketRequest{
		Title:    "Rain tomorrow",
		Question: "Will it rain tomorrow?",
		Category: "weather",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create market: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	return m
}

func orderBody(user, market, side, price, qty string) map[string]string {
	return map[string]string{
		"user_id":   user,
		"market_id": market,
		"side":      side,
		"price":     price,
		"quantity":  qty,
	}
}

func TestCreateUser_SeedsStartingBalance(t *testing.T) {
	_, router := newTestEnv(t)

	u := createUser(t, router, "alice")
	if u.Balance.String() != "10000.00" {
		t.Errorf("expected starting balance 10000.00, got %s", u.Balance)
	}

	w := doJSON(t, router, "GET", "/api/v1/users/alice", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateMarket_StartsNeutral(t *testing.T) {
	_, router := newTestEnv(t)

	m := createMarket(t, router)
	if m.YesPrice.String() != "0.5000" || m.NoPrice.String() != "0.5000" {
		t.Errorf("expected neutral prices, got %s/%s", m.YesPrice, m.NoPrice)
	}
	if m.Status != model.MarketOpen {
		t.Errorf("expected open market, got %s", m.Status)
	}
}

func TestSubmitOrder_MatchOverHTTP(t *testing.T) {
	_, router := newTestEnv(t)
	m := createMarket(t, router)
	createUser(t, router, "x")
	createUser(t, router, "y")

	w := doJSON(t, router, "POST", "/api/v1/orders",
		orderBody("x", m.ID, "YES", "0.60", "100"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var first service.OrderResponse
	json.Unmarshal(w.Body.Bytes(), &first)
	if first.Order.Status != model.StatusPending || len(first.Trades) != 0 {
		t.Fatalf("expected resting order, got %s with %d trades",
			first.Order.Status, len(first.Trades))
	}

	w = doJSON(t, router, "POST", "/api/v1/orders",
		orderBody("y", m.ID, "NO", "0.35", "100"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var second service.OrderResponse
	json.Unmarshal(w.Body.Bytes(), &second)
	if len(second.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(second.Trades))
	}

	// The price endpoint reflects the recomputed market.
	w = doJSON(t, router, "GET", "/api/v1/markets/"+m.ID+"/price", nil, nil)
	var prices map[string]fixed.Price4
	json.Unmarshal(w.Body.Bytes(), &prices)
	if prices["yes"].String() != "0.5700" || prices["no"].String() != "0.4300" {
		t.Errorf("expected 0.5700/0.4300, got %s/%s", prices["yes"], prices["no"])
	}

	// Trades endpoint returns the executed fill.
	w = doJSON(t, router, "GET", "/api/v1/markets/"+m.ID+"/trades", nil, nil)
	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 1 || trades[0].Quantity.String() != "100.00" {
		t.Errorf("unexpected trades payload: %s", w.Body.String())
	}

	// Positions endpoint shows the holdings.
	w = doJSON(t, router, "GET", "/api/v1/positions/x", nil, nil)
	var positions []model.Position
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 1 || positions[0].YesShares.String() != "100.00" {
		t.Errorf("unexpected positions payload: %s", w.Body.String())
	}
}

func TestSubmitOrder_ErrorStatuses(t *testing.T) {
	_, router := newTestEnv(t)
	m := createMarket(t, router)
	createUser(t, router, "x")

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing user", orderBody("", m.ID, "YES", "0.60", "100"), http.StatusBadRequest},
		{"missing market", orderBody("x", "", "YES", "0.60", "100"), http.StatusBadRequest},
		{"invalid side", orderBody("x", m.ID, "MAYBE", "0.60", "100"), http.StatusBadRequest},
		{"price out of range", orderBody("x", m.ID, "YES", "1.50", "100"), http.StatusBadRequest},
		{"unknown market", orderBody("x", "nope", "YES", "0.60", "100"), http.StatusNotFound},
		{"unknown user", orderBody("ghost", m.ID, "YES", "0.60", "100"), http.StatusNotFound},
		{"insufficient funds", orderBody("x", m.ID, "YES", "0.90", "999999"), http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/v1/orders", tc.body, nil)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestCancelOrder_OverHTTP(t *testing.T) {
	_, router := newTestEnv(t)
	m := createMarket(t, router)
	createUser(t, router, "x")
	createUser(t, router, "y")

	w := doJSON(t, router, "POST", "/api/v1/orders",
		orderBody("x", m.ID, "YES", "0.50", "100"), nil)
	var resp service.OrderResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	orderID := resp.Order.ID

	// Missing header → 400; wrong owner → 403.
	w = doJSON(t, router, "POST", "/api/v1/orders/"+orderID+"/cancel", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without X-User-ID, got %d", w.Code)
	}
	w = doJSON(t, router, "POST", "/api/v1/orders/"+orderID+"/cancel", nil,
		map[string]string{"X-User-ID": "y"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner, got %d", w.Code)
	}

	// Owner cancels; a second cancel conflicts.
	w = doJSON(t, router, "POST", "/api/v1/orders/"+orderID+"/cancel", nil,
		map[string]string{"X-User-ID": "x"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var cancelled model.Order
	json.Unmarshal(w.Body.Bytes(), &cancelled)
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	w = doJSON(t, router, "POST", "/api/v1/orders/"+orderID+"/cancel", nil,
		map[string]string{"X-User-ID": "x"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on double cancel, got %d", w.Code)
	}

	// The reservation is back in the spendable balance.
	w = doJSON(t, router, "GET", "/api/v1/users/x", nil, nil)
	var u model.User
	json.Unmarshal(w.Body.Bytes(), &u)
	if u.Balance.String() != "10000.00" || !u.Reserved.IsZero() {
		t.Errorf("expected refunded balance, got %s/%s", u.Balance, u.Reserved)
	}
}

func TestListMarkets_CategoryFilter(t *testing.T) {
	eng, router := newTestEnv(t)
	createMarket(t, router) // weather

	other := &model.Market{Title: "Election", Question: "Who wins?", Category: "politics"}
	if err := eng.CreateMarket(context.Background(), other); err != nil {
		t.Fatalf("create market: %v", err)
	}

	w := doJSON(t, router, "GET", "/api/v1/markets?category=weather", nil, nil)
	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 1 || markets[0].Category != "weather" {
		t.Errorf("expected only the weather market, got %s", w.Body.String())
	}

	w = doJSON(t, router, "GET", "/api/v1/markets", nil, nil)
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 2 {
		t.Errorf("expected 2 markets, got %d", len(markets))
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/markets/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
