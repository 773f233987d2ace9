package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/predyx/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]model.User
	markets   map[string]model.Market
	orders    map[string]model.Order
	trades    []model.Trade
	positions map[string]model.Position // keyed userID|marketID

	// FailBatch, when set, is consulted before applying a batch; a
	// non-nil return aborts it. Used to exercise match rollback in
	// tests.
	FailBatch func(b *Batch) error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]model.User),
		markets:   make(map[string]model.Market),
		orders:    make(map[string]model.Order),
		positions: make(map[string]model.Position),
	}
}

func (s *MemoryStore) SaveBatch(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailBatch != nil {
		if err := s.FailBatch(b); err != nil {
			return err
		}
	}

	for _, o := range b.Orders {
		s.orders[o.ID] = o
	}
	s.trades = append(s.trades, b.Trades...)
	for _, p := range b.Positions {
		s.positions[p.UserID+"|"+p.MarketID] = p
	}
	for _, u := range b.Users {
		s.users[u.ID] = u
	}
	if b.Market != nil {
		s.markets[b.Market.ID] = *b.Market
	}
	return nil
}

func (s *MemoryStore) SaveUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	s.markets[m.ID] = *m
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, id)
	}
	return &u, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users, nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", model.ErrNotFound, id)
	}
	return &m, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, m)
	}
	return markets, nil
}

func (s *MemoryStore) LoadOpenOrders(_ context.Context, marketID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []model.Order
	for _, o := range s.orders {
		if o.MarketID == marketID && o.Status.Open() {
			open = append(open, o)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Seq < open[j].Seq })
	return open, nil
}

func (s *MemoryStore) RecentTrades(_ context.Context, marketID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var recent []model.Trade
	for i := len(s.trades) - 1; i >= 0 && len(recent) < limit; i-- {
		if s.trades[i].MarketID == marketID {
			recent = append(recent, s.trades[i])
		}
	}
	return recent, nil
}

func (s *MemoryStore) GetUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	return result, nil
}
