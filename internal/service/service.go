// Package service provides the HTTP handlers for order placement,
// cancellation, and market/position queries.
//
// All monetary values use the fixed-point types in internal/fixed —
// never float64 for money.
package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/predyx/market-engine/internal/engine"
	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/metrics"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/risk"
)

// Service exposes the engine over HTTP. The engine serializes execution
// per market; handlers stay thin.
type Service struct {
	engine          *engine.Engine
	startingBalance fixed.Credits2
	wsHub           *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(eng *engine.Engine, startingBalance fixed.Credits2, hub *WSHub) *Service {
	s := &Service{engine: eng, startingBalance: startingBalance, wsHub: hub}
	if hub != nil {
		eng.SetPriceListener(s.broadcastPriceUpdate)
	}
	return s
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Title    string `json:"title"`
	Question string `json:"question"`
	Category string `json:"category"`
}

// CreateUserRequest is the JSON body for user creation.
type CreateUserRequest struct {
	UserID string `json:"user_id"` // optional; generated when empty
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	UserID   string         `json:"user_id"`
	MarketID string         `json:"market_id"`
	Side     model.Side     `json:"side"`     // "YES" or "NO"
	Price    fixed.Price4   `json:"price"`    // limit price in (0, 1]
	Quantity fixed.Credits2 `json:"quantity"` // shares, 2dp
}

// OrderResponse is the JSON body returned from POST /orders.
type OrderResponse struct {
	Order  model.Order   `json:"order"`
	Trades []model.Trade `json:"trades"`
}

// --- HTTP Handlers ---

// CreateUser handles POST /api/v1/users
// Creates an account seeded with the starting balance.
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.New().String()
	}

	user, err := s.engine.Deposit(r.Context(), req.UserID, s.startingBalance)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("user created", "user", user.ID, "balance", user.Balance.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// GetUser handles GET /api/v1/users/{userID}
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.UserBalance(chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.Question == "" {
		writeError(w, "title and question are required", http.StatusBadRequest)
		return
	}

	market := &model.Market{
		Title:    req.Title,
		Question: req.Question,
		Category: req.Category,
	}
	if err := s.engine.CreateMarket(r.Context(), market); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"id", market.ID,
		"title", market.Title,
		"category", market.Category,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(market)
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?category=<name>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.engine.ListMarkets()
	if markets == nil {
		markets = []model.Market{}
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if m.Category == category {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.GetMarket(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.GetMarket(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	resp := map[string]fixed.Price4{
		"yes": market.YesPrice,
		"no":  market.NoPrice,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetTrades handles GET /api/v1/markets/{marketID}/trades
// Returns recent trades, newest first.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.GetMarket(chi.URLParam(r, "marketID")); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	trades := s.engine.RecentTrades(chi.URLParam(r, "marketID"), 100)
	if trades == nil {
		trades = []model.Trade{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// SubmitOrder handles POST /api/v1/orders
// Places a limit order and matches it immediately against the book.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" {
		writeError(w, "market_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	order, trades, err := s.engine.SubmitOrder(r.Context(), engine.OrderRequest{
		MarketID: req.MarketID,
		UserID:   req.UserID,
		Side:     req.Side,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	metrics.MatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		countRejection(err)
		writeEngineError(w, err)
		return
	}

	metrics.OrdersTotal.WithLabelValues(order.Side.String()).Inc()
	for _, t := range trades {
		metrics.TradesTotal.Inc()
		metrics.MarketVolume.WithLabelValues(t.MarketID).Add(mustFloat(t.TotalValue))
	}

	slog.Info("order placed",
		"order", order.ID,
		"user", order.UserID,
		"market", order.MarketID,
		"side", order.Side.String(),
		"price", order.Price.String(),
		"qty", order.Quantity.String(),
		"status", string(order.Status),
		"trades", len(trades),
	)

	if trades == nil {
		trades = []model.Trade{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(OrderResponse{Order: *order, Trades: trades})
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.GetOrder(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel
// The X-User-ID header identifies the caller; only the owner may cancel.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	if err := s.engine.CancelOrder(r.Context(), orderID, userID); err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.OrdersCancelled.Inc()
	slog.Info("order cancelled", "order", orderID, "user", userID)

	order, err := s.engine.GetOrder(orderID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// GetPositions handles GET /api/v1/positions/{userID}
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.engine.UserPositions(chi.URLParam(r, "userID"))
	if positions == nil {
		positions = []model.Position{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// --- helpers ---

func (s *Service) broadcastPriceUpdate(m model.Market, trades []model.Trade) {
	last := trades[len(trades)-1]
	s.wsHub.Broadcast(WSMessage{
		Type:     "price_update",
		MarketID: m.ID,
		YesPrice: m.YesPrice.String(),
		NoPrice:  m.NoPrice.String(),
		Quantity: last.Quantity.String(),
		Trades:   len(trades),
	})
}

func countRejection(err error) {
	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		metrics.InsufficientFundsRejections.Inc()
	case errors.Is(err, risk.ErrMarketLimitExceeded), errors.Is(err, risk.ErrCategoryLimitExceeded):
		metrics.ExposureLimitRejections.Inc()
	}
}

// writeEngineError maps domain errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrMarketClosed),
		errors.Is(err, risk.ErrMarketLimitExceeded),
		errors.Is(err, risk.ErrCategoryLimitExceeded):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func mustFloat(c fixed.Credits2) float64 {
	f, _ := c.Decimal().Float64()
	return f
}
