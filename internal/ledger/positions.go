package ledger

import (
	"sync"
	"time"

	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/model"
)

// PositionLedger owns per-user per-market share holdings and their
// weighted average cost. Positions are created lazily on first fill and
// never deleted; shares may reach zero.
type PositionLedger struct {
	mu        sync.RWMutex
	positions map[string]*model.Position // keyed userID|marketID
}

// NewPositionLedger creates an empty ledger.
func NewPositionLedger() *PositionLedger {
	return &PositionLedger{positions: make(map[string]*model.Position)}
}

// Load seeds a position from persisted state.
func (l *PositionLedger) Load(p model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := p
	l.positions[posKey(p.UserID, p.MarketID)] = &cp
}

// ApplyFill mutates one side of a position and returns the state it had
// before the fill plus whether the position already existed, so a failed
// match can restore it — or drop it again when this fill created it.
//
// A positive quantity adds shares and folds the fill price into the
// weighted average cost (truncated to four decimals). A negative
// quantity releases shares: holdings clamp at zero and the average cost
// resets to zero once no shares remain, so an empty position carries no
// stale cost basis.
func (l *PositionLedger) ApplyFill(userID, marketID string, side model.Side, qty fixed.Credits2, price fixed.Price4, at time.Time) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := posKey(userID, marketID)
	pos, existed := l.positions[key]
	if !existed {
		pos = &model.Position{UserID: userID, MarketID: marketID}
		l.positions[key] = pos
	}
	prev := *pos

	shares, avg := pos.YesShares, pos.YesAvgCost
	if side == model.No {
		shares, avg = pos.NoShares, pos.NoAvgCost
	}

	if qty.IsNegative() {
		shares = shares.Add(qty).ClampZero()
		if shares.IsZero() {
			avg = fixed.Price4{}
		}
	} else {
		avg = fixed.WeightedAvgCost(avg, shares, price, qty)
		shares = shares.Add(qty)
	}

	if side == model.Yes {
		pos.YesShares, pos.YesAvgCost = shares, avg
	} else {
		pos.NoShares, pos.NoAvgCost = shares, avg
	}
	pos.UpdatedAt = at
	return prev, existed
}

// Restore overwrites a position with a previously captured snapshot.
// Used only by match rollback.
func (l *PositionLedger) Restore(p model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := p
	l.positions[posKey(p.UserID, p.MarketID)] = &cp
}

// Drop deletes a position record outright. Used only by match rollback
// to undo the lazy creation of a position the failed fill introduced.
func (l *PositionLedger) Drop(userID, marketID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, posKey(userID, marketID))
}

// Get returns a copy of the position for (user, market). The zero
// position is returned when none exists yet.
func (l *PositionLedger) Get(userID, marketID string) model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[posKey(userID, marketID)]; ok {
		return *pos
	}
	return model.Position{UserID: userID, MarketID: marketID}
}

// ForUser returns copies of all positions held by a user.
func (l *PositionLedger) ForUser(userID string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Position
	for _, pos := range l.positions {
		if pos.UserID == userID {
			out = append(out, *pos)
		}
	}
	return out
}

func posKey(userID, marketID string) string {
	return userID + "|" + marketID
}
