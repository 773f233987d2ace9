// Package ledger owns user credit balances and per-market positions.
// Every balance mutation is paired 1:1 with an order or trade event;
// nothing here derives balances from projections.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/model"
)

// CreditLedger tracks spendable and reserved credits per user.
//
// Funds follow the reservation model: Reserve moves credits from the
// spendable balance into the reservation at order placement, SettleFill
// consumes reservations at fill, Refund returns the unfilled remainder
// on cancel. Each operation locks only the accounts it touches; when two
// accounts are involved they are locked in ascending user-ID order.
type CreditLedger struct {
	mu       sync.Mutex
	accounts map[string]*account
}

type account struct {
	mu       sync.Mutex
	balance  fixed.Credits2
	reserved fixed.Credits2
	active   bool
}

// NewCreditLedger creates an empty ledger.
func NewCreditLedger() *CreditLedger {
	return &CreditLedger{accounts: make(map[string]*account)}
}

// Load seeds an account from persisted state, replacing any prior entry.
func (l *CreditLedger) Load(u model.User) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[u.ID] = &account{balance: u.Balance, reserved: u.Reserved, active: u.Active}
}

// Deposit credits a user's spendable balance, creating the account on
// first use.
func (l *CreditLedger) Deposit(userID string, amount fixed.Credits2) model.User {
	acct := l.getOrCreate(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.balance = acct.balance.Add(amount)
	return model.User{ID: userID, Active: acct.active, Balance: acct.balance, Reserved: acct.reserved}
}

// Reserve performs the locked read-check-debit at order placement. It
// fails with ErrInsufficientFunds, reporting required vs available,
// before any order state is written.
func (l *CreditLedger) Reserve(userID string, cost fixed.Credits2) error {
	acct, err := l.account(userID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if acct.balance.LessThan(cost) {
		return fmt.Errorf("%w: need %s, have %s", model.ErrInsufficientFunds, cost, acct.balance)
	}
	acct.balance = acct.balance.Sub(cost)
	acct.reserved = acct.reserved.Add(cost)
	return nil
}

// Unreserve is the exact inverse of Reserve: the reserved amount moves
// back to the spendable balance. Used for cancel refunds and rollback.
func (l *CreditLedger) Unreserve(userID string, amount fixed.Credits2) error {
	acct, err := l.account(userID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if acct.reserved.LessThan(amount) {
		return fmt.Errorf("%w: unreserve %s exceeds reservation %s for user %s",
			model.ErrInvariantViolation, amount, acct.reserved, userID)
	}
	acct.reserved = acct.reserved.Sub(amount)
	acct.balance = acct.balance.Add(amount)
	return nil
}

// SettleFill consumes both sides' reservations for one fill, all or
// nothing. Both account locks are held for the duration, acquired in
// ascending user-ID order so two crossing matches cannot deadlock.
//
// A shortfall here means placement-time reservation accounting is broken
// and is surfaced as ErrInvariantViolation, never clamped.
func (l *CreditLedger) SettleFill(yesUserID, noUserID string, yesCost, noCost fixed.Credits2) error {
	yesAcct, err := l.account(yesUserID)
	if err != nil {
		return err
	}
	noAcct, err := l.account(noUserID)
	if err != nil {
		return err
	}

	unlock := lockOrdered(yesUserID, yesAcct, noUserID, noAcct)
	defer unlock()

	if yesAcct.reserved.LessThan(yesCost) {
		return fmt.Errorf("%w: fill debit %s exceeds reservation %s for user %s",
			model.ErrInvariantViolation, yesCost, yesAcct.reserved, yesUserID)
	}
	if noAcct.reserved.LessThan(noCost) {
		return fmt.Errorf("%w: fill debit %s exceeds reservation %s for user %s",
			model.ErrInvariantViolation, noCost, noAcct.reserved, noUserID)
	}

	yesAcct.reserved = yesAcct.reserved.Sub(yesCost)
	noAcct.reserved = noAcct.reserved.Sub(noCost)
	return nil
}

// UnsettleFill restores both reservations consumed by SettleFill. Used
// only by match rollback.
func (l *CreditLedger) UnsettleFill(yesUserID, noUserID string, yesCost, noCost fixed.Credits2) {
	yesAcct, err := l.account(yesUserID)
	if err != nil {
		return
	}
	noAcct, err := l.account(noUserID)
	if err != nil {
		return
	}
	unlock := lockOrdered(yesUserID, yesAcct, noUserID, noAcct)
	defer unlock()
	yesAcct.reserved = yesAcct.reserved.Add(yesCost)
	noAcct.reserved = noAcct.reserved.Add(noCost)
}

// Snapshot returns a copy of the user's account state.
func (l *CreditLedger) Snapshot(userID string) (model.User, error) {
	acct, err := l.account(userID)
	if err != nil {
		return model.User{}, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return model.User{ID: userID, Active: acct.active, Balance: acct.balance, Reserved: acct.reserved}, nil
}

func (l *CreditLedger) account(userID string) (*account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, userID)
	}
	return acct, nil
}

func (l *CreditLedger) getOrCreate(userID string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		acct = &account{active: true}
		l.accounts[userID] = acct
	}
	return acct
}

// lockOrdered locks two accounts in ascending user-ID order and returns
// the matching unlock. A repeated user locks once.
func lockOrdered(idA string, a *account, idB string, b *account) func() {
	if idA == idB {
		a.mu.Lock()
		return a.mu.Unlock
	}
	ids := []string{idA, idB}
	sort.Strings(ids)
	first, second := a, b
	if ids[0] == idB {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}
