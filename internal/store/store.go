// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/predyx/market-engine/internal/model"
)

// Batch is the full set of mutations produced by one order-processing
// pass (placement, match-and-settle, or cancel). Implementations must
// persist a batch atomically: either every row commits or none do.
type Batch struct {
	Orders    []model.Order
	Trades    []model.Trade
	Positions []model.Position
	Users     []model.User
	Market    *model.Market
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The engine is authoritative
// in memory and writes through; reads back the full state at startup.
type Store interface {
	// --- Atomic writes ---

	// SaveBatch persists one order-processing pass in a single
	// transaction.
	SaveBatch(ctx context.Context, b *Batch) error

	// SaveUser upserts a user's balance state.
	SaveUser(ctx context.Context, u *model.User) error

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// --- Reads ---

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// ListUsers returns all users.
	ListUsers(ctx context.Context) ([]model.User, error)

	// GetMarket retrieves a market by ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// LoadOpenOrders returns pending and partial orders for a market.
	LoadOpenOrders(ctx context.Context, marketID string) ([]model.Order, error)

	// RecentTrades returns up to limit trades for a market, newest
	// first.
	RecentTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error)

	// GetUserPositions returns all positions held by a user.
	GetUserPositions(ctx context.Context, userID string) ([]model.Position, error)
}
