package engine

import (
	"errors"
	"testing"
	"time"

	"pumparena/internal/domain"
)

func openRound(n uint64) *domain.Round {
	return &domain.Round{Number: n, Phase: domain.PhaseOpen}
}

func TestBetLedger_Place(t *testing.T) {
	round := openRound(5)
	ledger := NewBetLedger("room-1", round, 10)

	bet, err := ledger.Place("alice", domain.DirectionUp, 50, time.Now())
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if bet.Ref == "" {
		t.Error("bet should have a reference")
	}
	if bet.Status != domain.BetPending {
		t.Errorf("status = %s, want pending", bet.Status)
	}
	if round.UpPotUnits != 50 {
		t.Errorf("up pot = %d, want 50", round.UpPotUnits)
	}
	if round.DownPotUnits != 0 {
		t.Errorf("down pot = %d, want 0", round.DownPotUnits)
	}
}

func TestBetLedger_DuplicateBet(t *testing.T) {
	ledger := NewBetLedger("room-1", openRound(1), 1)

	if _, err := ledger.Place("alice", domain.DirectionUp, 50, time.Now()); err != nil {
		t.Fatalf("first place failed: %v", err)
	}

	// A second bet for the same player must always fail, even on the
	// other side.
	_, err := ledger.Place("alice", domain.DirectionDown, 20, time.Now())
	if !errors.Is(err, domain.ErrDuplicateBet) {
		t.Errorf("expected ErrDuplicateBet, got %v", err)
	}
}

func TestBetLedger_RejectedBetAllowsReplacement(t *testing.T) {
	round := openRound(1)
	ledger := NewBetLedger("room-1", round, 1)

	if _, err := ledger.Place("alice", domain.DirectionUp, 50, time.Now()); err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if ledger.Reject("alice") == nil {
		t.Fatal("reject should return the bet")
	}
	if round.UpPotUnits != 0 {
		t.Errorf("pot after reject = %d, want 0", round.UpPotUnits)
	}

	if _, err := ledger.Place("alice", domain.DirectionDown, 30, time.Now()); err != nil {
		t.Errorf("place after rejection failed: %v", err)
	}
}

func TestBetLedger_RoundNotOpen(t *testing.T) {
	round := openRound(1)
	round.Phase = domain.PhaseLocked
	ledger := NewBetLedger("room-1", round, 1)

	_, err := ledger.Place("alice", domain.DirectionUp, 50, time.Now())
	if !errors.Is(err, domain.ErrRoundNotOpen) {
		t.Errorf("expected ErrRoundNotOpen, got %v", err)
	}
}

func TestBetLedger_InvalidStake(t *testing.T) {
	ledger := NewBetLedger("room-1", openRound(1), 10)

	tests := []struct {
		name  string
		stake int64
		dir   domain.Direction
	}{
		{"zero", 0, domain.DirectionUp},
		{"negative", -5, domain.DirectionUp},
		{"below minimum", 9, domain.DirectionUp},
		{"bad direction", 50, domain.Direction("sideways")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Place("alice", tt.dir, tt.stake, time.Now())
			if !errors.Is(err, domain.ErrInvalidStake) {
				t.Errorf("expected ErrInvalidStake, got %v", err)
			}
		})
	}
}

func TestBetLedger_Snapshot(t *testing.T) {
	round := openRound(2)
	ledger := NewBetLedger("room-1", round, 1)

	ledger.Place("carol", domain.DirectionDown, 100, time.Now())
	ledger.Place("alice", domain.DirectionUp, 300, time.Now())
	ledger.Place("bob", domain.DirectionUp, 50, time.Now())
	ledger.Place("dave", domain.DirectionDown, 25, time.Now())
	ledger.Reject("dave")

	round.Phase = domain.PhaseLocked
	snap := ledger.Snapshot()

	if snap.Round != 2 {
		t.Errorf("snapshot round = %d, want 2", snap.Round)
	}
	if len(snap.Bets) != 3 {
		t.Fatalf("snapshot bets = %d, want 3 (rejected excluded)", len(snap.Bets))
	}
	// Sorted by player for deterministic settlement iteration.
	for i, want := range []string{"alice", "bob", "carol"} {
		if snap.Bets[i].Player != want {
			t.Errorf("bets[%d].Player = %s, want %s", i, snap.Bets[i].Player, want)
		}
	}
	if snap.UpPotUnits != 350 || snap.DownPotUnits != 100 {
		t.Errorf("pots = %d/%d, want 350/100", snap.UpPotUnits, snap.DownPotUnits)
	}

	// Mutating the snapshot must not touch ledger state.
	snap.Bets[0].StakeUnits = 0
	if ledger.Get("alice").StakeUnits != 300 {
		t.Error("snapshot mutation leaked into ledger")
	}
}
