package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision
// and scanned back through the fixed-point constructors.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveBatch writes one order-processing pass inside a single transaction,
// so a mid-batch failure leaves no partial state behind.
func (s *PostgresStore) SaveBatch(ctx context.Context, b *Batch) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for i := range b.Orders {
			if err := upsertOrder(ctx, tx, &b.Orders[i]); err != nil {
				return err
			}
		}
		for i := range b.Trades {
			if err := insertTrade(ctx, tx, &b.Trades[i]); err != nil {
				return err
			}
		}
		for i := range b.Positions {
			if err := upsertPosition(ctx, tx, &b.Positions[i]); err != nil {
				return err
			}
		}
		for i := range b.Users {
			if err := upsertUser(ctx, tx, &b.Users[i]); err != nil {
				return err
			}
		}
		if b.Market != nil {
			if err := updateMarket(ctx, tx, b.Market); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresStore) SaveUser(ctx context.Context, u *model.User) error {
	return upsertUser(ctx, s.pool, u)
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, question, category, status,
		                      yes_price, no_price, total_volume, total_liquidity,
		                      last_priced_seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		m.ID, m.Title, m.Question, m.Category, m.Status,
		m.YesPrice.String(), m.NoPrice.String(),
		m.TotalVolume.String(), m.TotalLiquidity.String(),
		int64(m.LastPricedSeq), m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance, reserved string
	err := s.pool.QueryRow(ctx,
		`SELECT id, active, balance::TEXT, reserved::TEXT FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Active, &balance, &reserved)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Balance, _ = fixed.ParseCredits2(balance)
	u.Reserved, _ = fixed.ParseCredits2(reserved)
	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, active, balance::TEXT, reserved::TEXT FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var balance, reserved string
		if err := rows.Scan(&u.ID, &u.Active, &balance, &reserved); err != nil {
			return nil, err
		}
		u.Balance, _ = fixed.ParseCredits2(balance)
		u.Reserved, _ = fixed.ParseCredits2(reserved)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, marketSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, marketSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) LoadOpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, side,
		        price::TEXT, quantity::TEXT, filled_quantity::TEXT, reserved::TEXT,
		        status, seq, created_at, filled_at
		 FROM orders
		 WHERE market_id = $1 AND status IN ('pending', 'partial')
		 ORDER BY seq`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var side, price, qty, filled, reserved string
		var seq int64
		var filledAt *time.Time
		if err := rows.Scan(&o.ID, &o.MarketID, &o.UserID, &side,
			&price, &qty, &filled, &reserved, &o.Status, &seq, &o.CreatedAt, &filledAt); err != nil {
			return nil, err
		}
		o.Side, _ = model.ParseSide(side)
		o.Price, _ = fixed.ParsePrice4(price)
		o.Quantity, _ = fixed.ParseCredits2(qty)
		o.FilledQuantity, _ = fixed.ParseCredits2(filled)
		o.Reserved, _ = fixed.ParseCredits2(reserved)
		o.Seq = uint64(seq)
		o.FilledAt = filledAt
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) RecentTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, yes_order_id, no_order_id, yes_user_id, no_user_id,
		        yes_price::TEXT, no_price::TEXT, quantity::TEXT, total_value::TEXT,
		        seq, executed_at
		 FROM trades WHERE market_id = $1
		 ORDER BY seq DESC LIMIT $2`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var yesPrice, noPrice, qty, total string
		var seq int64
		if err := rows.Scan(&t.ID, &t.MarketID, &t.YesOrderID, &t.NoOrderID,
			&t.YesUserID, &t.NoUserID,
			&yesPrice, &noPrice, &qty, &total, &seq, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.YesPrice, _ = fixed.ParsePrice4(yesPrice)
		t.NoPrice, _ = fixed.ParsePrice4(noPrice)
		t.Quantity, _ = fixed.ParseCredits2(qty)
		t.TotalValue, _ = fixed.ParseCredits2(total)
		t.Seq = uint64(seq)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id,
		        yes_shares::TEXT, no_shares::TEXT,
		        yes_avg_cost::TEXT, no_avg_cost::TEXT, updated_at
		 FROM positions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var yesShares, noShares, yesAvg, noAvg string
		if err := rows.Scan(&p.UserID, &p.MarketID,
			&yesShares, &noShares, &yesAvg, &noAvg, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.YesShares, _ = fixed.ParseCredits2(yesShares)
		p.NoShares, _ = fixed.ParseCredits2(noShares)
		p.YesAvgCost, _ = fixed.ParsePrice4(yesAvg)
		p.NoAvgCost, _ = fixed.ParsePrice4(noAvg)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// --- row helpers ---

// execer covers both pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const marketSelect = `SELECT id, title, question, category, status,
       yes_price::TEXT, no_price::TEXT,
       total_volume::TEXT, total_liquidity::TEXT,
       last_priced_seq, created_at
  FROM markets`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var yesPrice, noPrice, volume, liquidity string
	var pricedSeq int64
	if err := row.Scan(&m.ID, &m.Title, &m.Question, &m.Category, &m.Status,
		&yesPrice, &noPrice, &volume, &liquidity, &pricedSeq, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.YesPrice, _ = fixed.ParsePrice4(yesPrice)
	m.NoPrice, _ = fixed.ParsePrice4(noPrice)
	m.TotalVolume, _ = fixed.ParseCredits2(volume)
	m.TotalLiquidity, _ = fixed.ParseCredits2(liquidity)
	m.LastPricedSeq = uint64(pricedSeq)
	return &m, nil
}

func upsertOrder(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO orders (id, market_id, user_id, side, price, quantity,
		                     filled_quantity, reserved, status, seq, created_at, filled_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE
		 SET filled_quantity = EXCLUDED.filled_quantity,
		     reserved = EXCLUDED.reserved,
		     status = EXCLUDED.status,
		     filled_at = EXCLUDED.filled_at`,
		o.ID, o.MarketID, o.UserID, o.Side.String(),
		o.Price.String(), o.Quantity.String(), o.FilledQuantity.String(), o.Reserved.String(),
		o.Status, int64(o.Seq), o.CreatedAt, o.FilledAt,
	)
	return err
}

func insertTrade(ctx context.Context, tx pgx.Tx, t *model.Trade) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, yes_order_id, no_order_id,
		                     yes_user_id, no_user_id, yes_price, no_price,
		                     quantity, total_value, seq, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12)`,
		t.ID, t.MarketID, t.YesOrderID, t.NoOrderID,
		t.YesUserID, t.NoUserID, t.YesPrice.String(), t.NoPrice.String(),
		t.Quantity.String(), t.TotalValue.String(), int64(t.Seq), t.ExecutedAt,
	)
	return err
}

func upsertPosition(ctx context.Context, tx pgx.Tx, p *model.Position) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, yes_shares, no_shares,
		                        yes_avg_cost, no_avg_cost, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (user_id, market_id) DO UPDATE
		 SET yes_shares = EXCLUDED.yes_shares,
		     no_shares = EXCLUDED.no_shares,
		     yes_avg_cost = EXCLUDED.yes_avg_cost,
		     no_avg_cost = EXCLUDED.no_avg_cost,
		     updated_at = EXCLUDED.updated_at`,
		p.UserID, p.MarketID, p.YesShares.String(), p.NoShares.String(),
		p.YesAvgCost.String(), p.NoAvgCost.String(), p.UpdatedAt,
	)
	return err
}

func upsertUser(ctx context.Context, db execer, u *model.User) error {
	_, err := db.Exec(ctx,
		`INSERT INTO users (id, active, balance, reserved)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET active = EXCLUDED.active,
		     balance = EXCLUDED.balance,
		     reserved = EXCLUDED.reserved`,
		u.ID, u.Active, u.Balance.String(), u.Reserved.String(),
	)
	return err
}

func updateMarket(ctx context.Context, tx pgx.Tx, m *model.Market) error {
	_, err := tx.Exec(ctx,
		`UPDATE markets
		 SET yes_price = $2::NUMERIC, no_price = $3::NUMERIC,
		     total_volume = $4::NUMERIC, total_liquidity = $5::NUMERIC,
		     last_priced_seq = $6, status = $7
		 WHERE id = $1`,
		m.ID, m.YesPrice.String(), m.NoPrice.String(),
		m.TotalVolume.String(), m.TotalLiquidity.String(),
		int64(m.LastPricedSeq), m.Status,
	)
	return err
}
