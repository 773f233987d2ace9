package ledger

import (
	"errors"
	"sync"
	"testing"

	"github.com/predyx/market-engine/internal/fixed"
	"github.com/predyx/market-engine/internal/model"
)

func c(s string) fixed.Credits2 {
	v, err := fixed.ParseCredits2(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestReserve(t *testing.T) {
	l := NewCreditLedger()
	l.Deposit("alice", c("100"))

	if err := l.Reserve("alice", c("60")); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	u, _ := l.Snapshot("alice")
	if u.Balance.String() != "40.00" || u.Reserved.String() != "60.00" {
		t.Errorf("expected 40.00/60.00, got %s/%s", u.Balance, u.Reserved)
	}
}

func TestReserve_InsufficientFunds(t *testing.T) {
	l := NewCreditLedger()
	l.Deposit("alice", c("50"))

	err := l.Reserve("alice", c("60"))
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Rejection leaves the account untouched.
	u, _ := l.Snapshot("alice")
	if u.Balance.String() != "50.00" || !u.Reserved.IsZero() {
		t.Errorf("account mutated on rejection: %s/%s", u.Balance, u.Reserved)
	}
}

func TestReserve_UnknownUser(t *testing.T) {
	l := NewCreditLedger()
	if err := l.Reserve("ghost", c("10")); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnreserve_RefundsExactly(t *testing.T) {
	l := NewCreditLedger()
	l.Deposit("alice", c("100"))
	l.Reserve("alice", c("60"))

	if err := l.Unreserve("alice", c("60")); err != nil {
		t.Fatalf("unreserve: %v", err)
	}
	u, _ := l.Snapshot("alice")
	if u.Balance.String() != "100.00" || !u.Reserved.IsZero() {
		t.Errorf("expected full refund, got %s/%s", u.Balance, u.Reserved)
	}
}

func TestUnreserve_ExceedsReservation(t *testing.T) {
	l := NewCreditLedger()
	l.Deposit("alice", c("100"))
	l.Reserve("alice", c("60"))

	err := l.Unreserve("alice", c("70"))
	if !errors.Is(err, model.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestSettleFill(t *testing.T) {
	l := NewCreditLedger()
	l.Deposit("x", c("1000"))
	l.Deposit("y", c("1000"))
	l.Reserve("x", c("60"))
	l.Reserve("y", c("35"))

	if err := l.SettleFill("x", "y", c("60"), c("35")); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Both reservations fully consumed; spendable balances untouched.
	x, _ := l.Snapshot("x")
	y, _ := l.Snapshot("y")
	if x.Balance.String() != "940.00" || !x.Reserved.IsZero() {
		t.Errorf("x: expected 940.00/0.00, got %s/%s", x.Balance, x.Reserved)
	}
	if y.Balance.String() != "965.00" || !y.Reserved.IsZero() {
		t.Errorf("y: expected 965.00/0.00, got %s/%s", y.Balance, y.Reserved)
	}
}

func TestSettleFill_ShortfallIsInvariantViolation(t *testing.T) {
	l := NewCreditLedger()
	l.Deposit("x", c("1000"))
	l.Deposit("y", c("1000"))
	l.Reserve("x", c("60"))
	l.Reserve("y", c("10")) // less than the fill debit

	err := l.SettleFill("x", "y", c("60"), c("35"))
	if !errors.Is(err, model.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}

	// All or nothing: x's reservation must not have been consumed.
	x, _ := l.Snapshot("x")
	if x.Reserved.String() != "60.00" {
		t.Errorf("x reservation mutated on failed settle: %s", x.Reserved)
	}
}

func TestUnsettleFill_RestoresReservations(t *testing.T) {
	l := NewCreditLedger()
	l.Deposit("x", c("1000"))
	l.Deposit("y", c("1000"))
	l.Reserve("x", c("60"))
	l.Reserve("y", c("35"))
	l.SettleFill("x", "y", c("60"), c("35"))

	l.UnsettleFill("x", "y", c("60"), c("35"))

	x, _ := l.Snapshot("x")
	y, _ := l.Snapshot("y")
	if x.Reserved.String() != "60.00" || y.Reserved.String() != "35.00" {
		t.Errorf("expected reservations restored, got %s and %s", x.Reserved, y.Reserved)
	}
}

func TestSettleFill_SameUserBothSides(t *testing.T) {
	// The ledger itself does not forbid a user on both legs (the book
	// prevents self-trades); it must not deadlock on the single lock.
	l := NewCreditLedger()
	l.Deposit("x", c("1000"))
	l.Reserve("x", c("95"))

	if err := l.SettleFill("x", "x", c("60"), c("35")); err != nil {
		t.Fatalf("settle: %v", err)
	}
	x, _ := l.Snapshot("x")
	if !x.Reserved.IsZero() {
		t.Errorf("expected zero reservation, got %s", x.Reserved)
	}
}

func TestSettleFill_ConcurrentOppositeOrder(t *testing.T) {
	// Two goroutines settling the same pair in opposite user order must
	// not deadlock; lock acquisition is by ascending user ID.
	l := NewCreditLedger()
	l.Deposit("a", c("10000"))
	l.Deposit("b", c("10000"))
	l.Reserve("a", c("1000"))
	l.Reserve("b", c("1000"))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.SettleFill("a", "b", c("1"), c("1"))
		}()
		go func() {
			defer wg.Done()
			l.SettleFill("b", "a", c("1"), c("1"))
		}()
	}
	wg.Wait()

	a, _ := l.Snapshot("a")
	b, _ := l.Snapshot("b")
	if !a.Reserved.Add(b.Reserved).Equal(c("1600")) {
		t.Errorf("expected 1600.00 total remaining, got %s", a.Reserved.Add(b.Reserved))
	}
}

func TestLoad_SeedsAccount(t *testing.T) {
	l := NewCreditLedger()
	l.Load(model.User{ID: "alice", Active: true, Balance: c("123.45"), Reserved: c("10.00")})

	u, err := l.Snapshot("alice")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if u.Balance.String() != "123.45" || u.Reserved.String() != "10.00" || !u.Active {
		t.Errorf("unexpected account state: %+v", u)
	}
}
