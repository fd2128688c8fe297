package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDailyStakeBook_ConsumeAndReject(t *testing.T) {
	book := NewDailyStakeBook(100)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := book.TryConsume("alice", 60, now); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if err := book.TryConsume("alice", 40, now); err != nil {
		t.Fatalf("second consume failed: %v", err)
	}

	err := book.TryConsume("alice", 1, now)
	if !errors.Is(err, ErrDailyLimitReached) {
		t.Errorf("expected ErrDailyLimitReached, got %v", err)
	}

	// Other players have independent budgets.
	if err := book.TryConsume("bob", 100, now); err != nil {
		t.Errorf("bob should have a fresh budget: %v", err)
	}
}

func TestDailyStakeBook_ResetAfter24h(t *testing.T) {
	book := NewDailyStakeBook(50)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := book.TryConsume("alice", 50, start); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if err := book.TryConsume("alice", 1, start.Add(23*time.Hour)); !errors.Is(err, ErrDailyLimitReached) {
		t.Errorf("budget should still be exhausted before 24h, got %v", err)
	}
	if err := book.TryConsume("alice", 50, start.Add(24*time.Hour)); err != nil {
		t.Errorf("budget should refill after 24h: %v", err)
	}
}

func TestDailyStakeBook_RollbackCapped(t *testing.T) {
	book := NewDailyStakeBook(100)
	now := time.Now()

	if err := book.TryConsume("alice", 30, now); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	book.Rollback("alice", 1000)

	// Budget must not exceed the cap after rollback.
	if err := book.TryConsume("alice", 100, now); err != nil {
		t.Errorf("expected full budget after capped rollback: %v", err)
	}
	if err := book.TryConsume("alice", 1, now); !errors.Is(err, ErrDailyLimitReached) {
		t.Errorf("expected exhausted budget, got %v", err)
	}
}

func TestDailyStakeBook_Disabled(t *testing.T) {
	book := NewDailyStakeBook(0)
	if err := book.TryConsume("alice", 1<<40, time.Now()); err != nil {
		t.Errorf("disabled book should accept any stake: %v", err)
	}
}
