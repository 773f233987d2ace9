// Package engine implements the trade-matching core: order submission,
// complementary matching, fill settlement, cancellation, and the hook
// into price discovery.
//
// One submission runs as a single pass under the market's lock: reserve
// funds, match against the book, settle each fill against the credit and
// position ledgers, recompute prices, persist. Any failure unwinds the
// pass through an undo journal before the lock is released, so partial
// application never survives.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/predyx/market-engine/internal/book"
	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/ledger"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/pricing"
	"github.com/predyx/market-engine/internal/risk"
	"github.com/predyx/market-engine/internal/store"
)

// tradeWindow caps the per-market trade history kept in memory; it must
// cover at least the price-discovery window.
const tradeWindow = pricing.DefaultWindow

// Engine is the authoritative in-memory core. The store persists
// write-through; state is loaded back at startup.
type Engine struct {
	store     store.Store
	credits   *ledger.CreditLedger
	positions *ledger.PositionLedger
	pricer    *pricing.Engine
	limiter   *risk.ExposureLimiter

	mu          sync.Mutex
	markets     map[string]*model.Market
	orders      map[string]*model.Order
	trades      map[string][]model.Trade // per market, newest first
	marketLocks map[string]*sync.Mutex
	book        *book.Book

	seq atomic.Uint64
	now func() time.Time

	// onPriceUpdate, when set, is invoked after each committed match
	// with the updated market and its trades.
	onPriceUpdate func(model.Market, []model.Trade)
}

// New creates an engine. The limiter may be nil to disable exposure
// limits.
func New(st store.Store, pricer *pricing.Engine, limiter *risk.ExposureLimiter) *Engine {
	if pricer == nil {
		pricer = pricing.Default()
	}
	return &Engine{
		store:       st,
		credits:     ledger.NewCreditLedger(),
		positions:   ledger.NewPositionLedger(),
		pricer:      pricer,
		limiter:     limiter,
		markets:     make(map[string]*model.Market),
		orders:      make(map[string]*model.Order),
		trades:      make(map[string][]model.Trade),
		marketLocks: make(map[string]*sync.Mutex),
		book:        book.New(),
		now:         time.Now,
	}
}

// SetNowFunc overrides the clock, for deterministic tests.
func (e *Engine) SetNowFunc(now func() time.Time) { e.now = now }

// SetPriceListener registers a callback fired after each committed match.
func (e *Engine) SetPriceListener(fn func(model.Market, []model.Trade)) { e.onPriceUpdate = fn }

// Bootstrap loads users, markets, open orders, and recent trades from
// the store into memory. Call once before serving traffic.
func (e *Engine) Bootstrap(ctx context.Context) error {
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap users: %w", err)
	}
	for _, u := range users {
		e.credits.Load(u)
		positions, err := e.store.GetUserPositions(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("bootstrap positions for %s: %w", u.ID, err)
		}
		for _, p := range positions {
			e.positions.Load(p)
		}
	}

	markets, err := e.store.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap markets: %w", err)
	}

	var maxSeq uint64
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range markets {
		m := markets[i]
		e.markets[m.ID] = &m
		if m.LastPricedSeq > maxSeq {
			maxSeq = m.LastPricedSeq
		}
	}
	for id := range e.markets {
		orders, err := e.store.LoadOpenOrders(ctx, id)
		if err != nil {
			return fmt.Errorf("bootstrap orders for %s: %w", id, err)
		}
		for i := range orders {
			o := orders[i]
			e.orders[o.ID] = &o
			e.book.Add(&o)
			if o.Seq > maxSeq {
				maxSeq = o.Seq
			}
		}
		trades, err := e.store.RecentTrades(ctx, id, tradeWindow)
		if err != nil {
			return fmt.Errorf("bootstrap trades for %s: %w", id, err)
		}
		e.trades[id] = trades
		for _, t := range trades {
			if t.Seq > maxSeq {
				maxSeq = t.Seq
			}
		}
	}
	e.seq.Store(maxSeq)
	return nil
}

// OrderRequest is a validated order submission.
type OrderRequest struct {
	MarketID string
	UserID   string
	Side     model.Side
	Price    fixed.Price4
	Quantity fixed.Credits2
}

// SubmitOrder places a limit order and immediately attempts to match it.
//
// Rejections (invalid order, unknown market/user, insufficient funds,
// exposure limits) surface before any state is written. Once the order
// is created, a storage failure during the subsequent match rolls the
// match back, logs it, and still returns the created order with no
// trades: the order stays pending and matchable.
func (e *Engine) SubmitOrder(ctx context.Context, req OrderRequest) (*model.Order, []model.Trade, error) {
	if err := validate(req); err != nil {
		return nil, nil, err
	}

	unlock := e.lockMarket(req.MarketID)
	defer unlock()

	e.mu.Lock()
	market, ok := e.markets[req.MarketID]
	e.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: market %s", model.ErrNotFound, req.MarketID)
	}
	if market.Status != model.MarketOpen {
		return nil, nil, model.ErrMarketClosed
	}

	user, err := e.credits.Snapshot(req.UserID)
	if err != nil {
		return nil, nil, err
	}
	if !user.Active {
		return nil, nil, fmt.Errorf("%w: user %s is inactive", model.ErrForbidden, req.UserID)
	}

	if err := e.checkExposure(req); err != nil {
		return nil, nil, err
	}

	// Reservation model: the full cost is committed at placement.
	cost := req.Price.Cost(req.Quantity)
	if err := e.credits.Reserve(req.UserID, cost); err != nil {
		return nil, nil, err
	}

	j := &journal{}
	j.record(func() { _ = e.credits.Unreserve(req.UserID, cost) })

	order := &model.Order{
		ID:        uuid.New().String(),
		MarketID:  req.MarketID,
		UserID:    req.UserID,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Status:    model.StatusPending,
		Reserved:  cost,
		Seq:       e.seq.Add(1),
		CreatedAt: e.now(),
	}

	// Shared structs are mutated under e.mu so read accessors never see
	// a torn write; the market lock alone only serializes other passes.
	e.mu.Lock()
	marketBefore := *market
	market.TotalLiquidity = market.TotalLiquidity.Add(cost)
	e.orders[order.ID] = order
	e.book.Add(order)
	e.mu.Unlock()
	j.record(func() {
		e.mu.Lock()
		*market = marketBefore
		e.book.Remove(order)
		delete(e.orders, order.ID)
		e.mu.Unlock()
	})

	// Persist placement before matching; a failure here means the
	// order was never created.
	placed := store.Batch{Orders: []model.Order{*order}, Users: []model.User{e.userState(req.UserID)}, Market: copyOf(market)}
	if err := e.store.SaveBatch(ctx, &placed); err != nil {
		j.rollback()
		return nil, nil, fmt.Errorf("place order: %w", err)
	}

	// Match inside its own journal so a failure keeps the placement.
	trades, err := e.matchAndSettle(ctx, order, market)
	if err != nil {
		slog.Error("match rolled back", "order", order.ID, "market", market.ID, "err", err)
		return order, nil, nil
	}

	if len(trades) > 0 && e.onPriceUpdate != nil {
		e.onPriceUpdate(*market, trades)
	}
	return order, trades, nil
}

// matchAndSettle runs the matching algorithm for an already-placed
// order. Caller holds the market lock. On error every mutation made
// here is rolled back and the wrapped ErrMatchingFailure is returned.
func (e *Engine) matchAndSettle(ctx context.Context, order *model.Order, market *model.Market) ([]model.Trade, error) {
	j := &journal{}

	e.mu.Lock()
	marketBefore := *market
	orderBefore := *order
	counterparties := e.book.FindCounterparties(order.MarketID, order.Side, order.Price, order.UserID)
	e.mu.Unlock()
	j.record(func() {
		e.mu.Lock()
		*market = marketBefore
		*order = orderBefore
		e.mu.Unlock()
	})

	var trades []model.Trade
	var touched []*model.Order
	remaining := order.Remaining()

	for _, cp := range counterparties {
		if !remaining.IsPositive() {
			break
		}
		available := cp.Remaining()
		if !available.IsPositive() {
			continue
		}
		fillQty := fixed.MinCredits(remaining, available)

		yesOrder, noOrder := order, cp
		if order.Side == model.No {
			yesOrder, noOrder = cp, order
		}

		trade, err := e.executeFill(j, market, yesOrder, noOrder, fillQty)
		if err != nil {
			j.rollback()
			return nil, fmt.Errorf("%w: %v", model.ErrMatchingFailure, err)
		}
		trades = append(trades, trade)
		touched = append(touched, cp)
		remaining = remaining.Sub(fillQty)
	}

	if len(trades) == 0 {
		return nil, nil
	}

	// Price discovery runs on the prospective window: this pass's
	// trades (newest first) ahead of the existing history.
	e.mu.Lock()
	window := prependNewestFirst(trades, e.trades[market.ID])
	e.mu.Unlock()
	upd := e.pricer.Recompute(market, window)
	e.mu.Lock()
	market.YesPrice = upd.YesPrice
	market.NoPrice = upd.NoPrice
	market.LastPricedSeq = upd.PricedSeq
	e.mu.Unlock()

	batch := e.matchBatch(order, touched, trades, market)
	if err := e.store.SaveBatch(ctx, &batch); err != nil {
		j.rollback()
		return nil, fmt.Errorf("%w: %v", model.ErrMatchingFailure, err)
	}

	// Commit the trade window and prune filled orders from the book.
	e.mu.Lock()
	if len(window) > tradeWindow {
		window = window[:tradeWindow]
	}
	e.trades[market.ID] = window
	for _, cp := range touched {
		if !cp.Status.Open() {
			e.book.Remove(cp)
		}
	}
	if !order.Status.Open() {
		e.book.Remove(order)
	}
	e.mu.Unlock()

	return trades, nil
}

// executeFill settles one fill: both reservations consumed, both
// positions updated, market volume bumped, the immutable trade built.
// Each mutation registers its inverse with the journal.
func (e *Engine) executeFill(j *journal, market *model.Market, yesOrder, noOrder *model.Order, qty fixed.Credits2) (model.Trade, error) {
	yesPrice, noPrice := yesOrder.Price, noOrder.Price
	yesCost, noCost := yesPrice.Cost(qty), noPrice.Cost(qty)

	if err := e.credits.SettleFill(yesOrder.UserID, noOrder.UserID, yesCost, noCost); err != nil {
		return model.Trade{}, err
	}
	j.record(func() { e.credits.UnsettleFill(yesOrder.UserID, noOrder.UserID, yesCost, noCost) })

	now := e.now()
	prevYes, hadYes := e.positions.ApplyFill(yesOrder.UserID, market.ID, model.Yes, qty, yesPrice, now)
	prevNo, hadNo := e.positions.ApplyFill(noOrder.UserID, market.ID, model.No, qty, noPrice, now)
	j.record(func() {
		e.restorePosition(prevNo, hadNo)
		e.restorePosition(prevYes, hadYes)
	})

	e.mu.Lock()
	prevYesOrder, prevNoOrder := *yesOrder, *noOrder
	yesOrder.Reserved = yesOrder.Reserved.Sub(yesCost)
	noOrder.Reserved = noOrder.Reserved.Sub(noCost)
	applyFill(yesOrder, qty, now)
	applyFill(noOrder, qty, now)
	market.TotalVolume = market.TotalVolume.Add(yesCost).Add(noCost)
	e.mu.Unlock()
	j.record(func() {
		e.mu.Lock()
		*yesOrder = prevYesOrder
		*noOrder = prevNoOrder
		e.mu.Unlock()
	})

	// Per-fill costs truncate down, so a fully filled order can finish
	// with a few hundredths still reserved that no fill consumed and no
	// cancel can ever reach. Release that residue at the terminal state.
	for _, o := range []*model.Order{yesOrder, noOrder} {
		if err := e.releaseResidue(j, o); err != nil {
			return model.Trade{}, err
		}
	}

	return model.Trade{
		ID:         uuid.New().String(),
		MarketID:   market.ID,
		YesOrderID: yesOrder.ID,
		NoOrderID:  noOrder.ID,
		YesUserID:  yesOrder.UserID,
		NoUserID:   noOrder.UserID,
		YesPrice:   yesPrice,
		NoPrice:    noPrice,
		Quantity:   qty,
		TotalValue: yesCost.Add(noCost),
		Seq:        e.seq.Add(1),
		ExecutedAt: now,
	}, nil
}

// CancelOrder cancels an open order and refunds the unfilled reservation.
// Only the owner may cancel; filled or cancelled orders reject with
// ErrInvalidState.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID string) error {
	e.mu.Lock()
	order, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: order %s", model.ErrNotFound, orderID)
	}
	if order.UserID != userID {
		return model.ErrForbidden
	}

	unlock := e.lockMarket(order.MarketID)
	defer unlock()

	if !order.Status.Open() {
		return fmt.Errorf("%w: order %s is %s", model.ErrInvalidState, orderID, order.Status)
	}

	e.mu.Lock()
	market := e.markets[order.MarketID]
	refund := order.Reserved
	e.mu.Unlock()

	if err := e.credits.Unreserve(userID, refund); err != nil {
		return err
	}

	j := &journal{}
	j.record(func() { _ = e.credits.Reserve(userID, refund) })

	e.mu.Lock()
	orderBefore, marketBefore := *order, *market
	order.Status = model.StatusCancelled
	order.Reserved = fixed.ZeroCredits()
	market.TotalLiquidity = market.TotalLiquidity.Sub(refund).ClampZero()
	market.TotalVolume = market.TotalVolume.Sub(refund).ClampZero()
	e.mu.Unlock()
	j.record(func() {
		e.mu.Lock()
		*order = orderBefore
		*market = marketBefore
		e.mu.Unlock()
	})

	batch := store.Batch{
		Orders: []model.Order{*order},
		Users:  []model.User{e.userState(userID)},
		Market: copyOf(market),
	}
	if err := e.store.SaveBatch(ctx, &batch); err != nil {
		j.rollback()
		return fmt.Errorf("cancel order: %w", err)
	}

	e.mu.Lock()
	e.book.Remove(order)
	e.mu.Unlock()
	return nil
}

// CreateMarket registers a new market at the neutral 0.5000/0.5000 price.
func (e *Engine) CreateMarket(ctx context.Context, m *model.Market) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.YesPrice = fixed.HalfPrice()
	m.NoPrice = fixed.HalfPrice()
	if m.Status == "" {
		m.Status = model.MarketOpen
	}
	m.CreatedAt = e.now()

	if err := e.store.CreateMarket(ctx, m); err != nil {
		return err
	}
	cp := *m
	e.mu.Lock()
	e.markets[m.ID] = &cp
	e.mu.Unlock()
	return nil
}

// Deposit credits a user's spendable balance, creating the account on
// first use, and persists the new state.
func (e *Engine) Deposit(ctx context.Context, userID string, amount fixed.Credits2) (model.User, error) {
	if amount.IsNegative() {
		return model.User{}, fmt.Errorf("%w: deposit must not be negative", model.ErrInvalidOrder)
	}
	u := e.credits.Deposit(userID, amount)
	if err := e.store.SaveUser(ctx, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// --- Read accessors ---

// GetOrder returns a copy of an order.
func (e *Engine) GetOrder(orderID string) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: order %s", model.ErrNotFound, orderID)
	}
	return *o, nil
}

// GetMarket returns a copy of a market.
func (e *Engine) GetMarket(marketID string) (model.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[marketID]
	if !ok {
		return model.Market{}, fmt.Errorf("%w: market %s", model.ErrNotFound, marketID)
	}
	return *m, nil
}

// ListMarkets returns copies of all markets.
func (e *Engine) ListMarkets() []model.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Market, 0, len(e.markets))
	for _, m := range e.markets {
		out = append(out, *m)
	}
	return out
}

// RecentTrades returns up to limit trades for a market, newest first.
func (e *Engine) RecentTrades(marketID string, limit int) []model.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	trades := e.trades[marketID]
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	out := make([]model.Trade, len(trades))
	copy(out, trades)
	return out
}

// UserPositions returns copies of a user's positions.
func (e *Engine) UserPositions(userID string) []model.Position {
	return e.positions.ForUser(userID)
}

// UserBalance returns a user's account state.
func (e *Engine) UserBalance(userID string) (model.User, error) {
	return e.credits.Snapshot(userID)
}

// --- internals ---

func validate(req OrderRequest) error {
	if !req.Price.IsPositive() || req.Price.GreaterThan(fixed.OnePrice()) {
		return fmt.Errorf("%w: price %s outside (0,1]", model.ErrInvalidOrder, req.Price)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s must be positive", model.ErrInvalidOrder, req.Quantity)
	}
	return nil
}

func (e *Engine) checkExposure(req OrderRequest) error {
	if e.limiter == nil {
		return nil
	}
	delta := req.Quantity
	if req.Side == model.No {
		delta = fixed.ZeroCredits().Sub(delta)
	}

	exposures := make(map[string]fixed.Credits2)
	for _, p := range e.positions.ForUser(req.UserID) {
		exposures[p.MarketID] = p.YesShares.Sub(p.NoShares)
	}

	e.mu.Lock()
	category := ""
	categoryOf := make(map[string]string, len(exposures)+1)
	if m, ok := e.markets[req.MarketID]; ok {
		category = m.Category
	}
	for id := range exposures {
		if m, ok := e.markets[id]; ok {
			categoryOf[id] = m.Category
		}
	}
	e.mu.Unlock()

	return e.limiter.Check(req.MarketID, category, delta, exposures, categoryOf)
}

func (e *Engine) lockMarket(marketID string) func() {
	e.mu.Lock()
	lock, ok := e.marketLocks[marketID]
	if !ok {
		lock = &sync.Mutex{}
		e.marketLocks[marketID] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (e *Engine) userState(userID string) model.User {
	u, _ := e.credits.Snapshot(userID)
	return u
}

// matchBatch assembles the persistence batch for one committed match.
func (e *Engine) matchBatch(order *model.Order, touched []*model.Order, trades []model.Trade, market *model.Market) store.Batch {
	batch := store.Batch{Trades: trades, Market: copyOf(market)}
	batch.Orders = append(batch.Orders, *order)
	for _, cp := range touched {
		batch.Orders = append(batch.Orders, *cp)
	}

	seen := make(map[string]bool)
	for _, t := range trades {
		for _, uid := range []string{t.YesUserID, t.NoUserID} {
			if !seen[uid] {
				seen[uid] = true
				batch.Users = append(batch.Users, e.userState(uid))
				batch.Positions = append(batch.Positions, e.positions.Get(uid, market.ID))
			}
		}
	}
	return batch
}

// restorePosition undoes one ApplyFill: overwrite with the snapshot when
// the position pre-existed, drop the record when that fill created it.
func (e *Engine) restorePosition(p model.Position, existed bool) {
	if existed {
		e.positions.Restore(p)
		return
	}
	e.positions.Drop(p.UserID, p.MarketID)
}

// releaseResidue returns an order's leftover reservation to the owner's
// spendable balance once the order is fully filled.
func (e *Engine) releaseResidue(j *journal, o *model.Order) error {
	e.mu.Lock()
	residue := o.Reserved
	filled := o.Status == model.StatusFilled
	e.mu.Unlock()
	if !filled || !residue.IsPositive() {
		return nil
	}
	if err := e.credits.Unreserve(o.UserID, residue); err != nil {
		return err
	}
	userID := o.UserID
	j.record(func() { _ = e.credits.Reserve(userID, residue) })
	e.mu.Lock()
	o.Reserved = fixed.ZeroCredits()
	e.mu.Unlock()
	return nil
}

func applyFill(o *model.Order, qty fixed.Credits2, now time.Time) {
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.Status = model.StatusFilled
		t := now
		o.FilledAt = &t
	} else {
		o.Status = model.StatusPartial
	}
}

// prependNewestFirst builds a newest-first window from this pass's
// trades (executed oldest first) ahead of the existing history.
func prependNewestFirst(passTrades []model.Trade, history []model.Trade) []model.Trade {
	window := make([]model.Trade, 0, len(passTrades)+len(history))
	for i := len(passTrades) - 1; i >= 0; i-- {
		window = append(window, passTrades[i])
	}
	return append(window, history...)
}

func copyOf(m *model.Market) *model.Market {
	cp := *m
	return &cp
}

// journal collects inverse operations for one pass; rollback applies
// them in reverse order.
type journal struct {
	undos []func()
}

func (j *journal) record(fn func()) { j.undos = append(j.undos, fn) }

func (j *journal) rollback() {
	for i := len(j.undos) - 1; i >= 0; i-- {
		j.undos[i]()
	}
	j.undos = nil
}
