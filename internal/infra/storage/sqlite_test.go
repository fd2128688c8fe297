package storage

import (
	"testing"
	"time"

	"pumparena/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	cp := &domain.Checkpoint{
		State: domain.RoomState{
			ID:      "room-1",
			Genesis: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Current: &domain.Round{
				Number:     7,
				Phase:      domain.PhaseOpen,
				UpPotUnits: 120,
			},
			History: []domain.Round{
				{Number: 6, Phase: domain.PhaseClosed, Outcome: &domain.Outcome{
					Kind: domain.OutcomePush, MultiplierNum: 1, MultiplierDen: 1,
				}},
			},
			PriceUnits: 42,
		},
		Limits:       []domain.DailyStakeLimit{{Player: "alice", RemainingUnits: 500}},
		Balances:     []domain.BalanceDelta{{Player: "alice", NetUnits: -30, LastRound: 6}},
		LastObserved: time.Now().UTC(),
	}

	if err := s.SaveCheckpoint(cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := s.LoadCheckpoint("room-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("loaded checkpoint is nil")
	}
	if loaded.State.Current.Number != 7 {
		t.Errorf("current round = %d, want 7", loaded.State.Current.Number)
	}
	if len(loaded.State.History) != 1 || loaded.State.History[0].Outcome.Kind != domain.OutcomePush {
		t.Error("history round lost in round trip")
	}
	if loaded.State.PriceUnits != 42 {
		t.Errorf("price = %d, want 42", loaded.State.PriceUnits)
	}
	if len(loaded.Limits) != 1 || loaded.Limits[0].RemainingUnits != 500 {
		t.Error("limits lost in round trip")
	}
	if len(loaded.Balances) != 1 || loaded.Balances[0].NetUnits != -30 {
		t.Error("balances lost in round trip")
	}
}

func TestLoadCheckpoint_Missing(t *testing.T) {
	s := setupTestStore(t)

	cp, err := s.LoadCheckpoint("no-such-room")
	if err != nil {
		t.Fatalf("missing checkpoint should not error: %v", err)
	}
	if cp != nil {
		t.Error("missing checkpoint should be nil")
	}
}

func TestCheckpoint_Overwrite(t *testing.T) {
	s := setupTestStore(t)

	cp := &domain.Checkpoint{State: domain.RoomState{
		ID:      "room-1",
		Current: &domain.Round{Number: 1, Phase: domain.PhaseOpen},
	}}
	if err := s.SaveCheckpoint(cp); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	cp.State.Current.Number = 2
	cp.State.Current.Phase = domain.PhaseLocked
	if err := s.SaveCheckpoint(cp); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	loaded, err := s.LoadCheckpoint("room-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.State.Current.Number != 2 || loaded.State.Current.Phase != domain.PhaseLocked {
		t.Error("checkpoint overwrite did not persist latest state")
	}
}

func TestBetsForRound(t *testing.T) {
	s := setupTestStore(t)

	bets := []domain.Bet{
		{Ref: "b1", RoomID: "room-1", Round: 3, Player: "carol", Direction: domain.DirectionUp, StakeUnits: 10, Status: domain.BetPending},
		{Ref: "b2", RoomID: "room-1", Round: 3, Player: "alice", Direction: domain.DirectionDown, StakeUnits: 20, Status: domain.BetPending},
		{Ref: "b3", RoomID: "room-1", Round: 4, Player: "alice", Direction: domain.DirectionUp, StakeUnits: 30, Status: domain.BetPending},
		{Ref: "b4", RoomID: "room-2", Round: 3, Player: "alice", Direction: domain.DirectionUp, StakeUnits: 40, Status: domain.BetPending},
	}
	for i := range bets {
		if err := s.SaveBet(&bets[i]); err != nil {
			t.Fatalf("SaveBet failed: %v", err)
		}
	}

	got, err := s.BetsForRound("room-1", 3)
	if err != nil {
		t.Fatalf("BetsForRound failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bets, want 2", len(got))
	}
	// Ordered by player.
	if got[0].Player != "alice" || got[1].Player != "carol" {
		t.Errorf("unexpected order: %s, %s", got[0].Player, got[1].Player)
	}
}

func TestSettlementLifecycle(t *testing.T) {
	s := setupTestStore(t)

	rec := &domain.SettlementRecord{
		Key:         domain.SettlementKey("room-1", 5, "alice"),
		RoomID:      "room-1",
		Round:       5,
		Player:      "alice",
		BetRef:      "b1",
		PayoutUnits: 200,
		Status:      domain.SettlementUnconfirmed,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.SaveSettlement(rec); err != nil {
		t.Fatalf("SaveSettlement failed: %v", err)
	}

	pending, err := s.UnconfirmedSettlements("room-1")
	if err != nil {
		t.Fatalf("UnconfirmedSettlements failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d unconfirmed, want 1", len(pending))
	}

	rec.Status = domain.SettlementConfirmed
	rec.Attempts = 2
	if err := s.SaveSettlement(rec); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	loaded, err := s.SettlementByKey(rec.Key)
	if err != nil {
		t.Fatalf("SettlementByKey failed: %v", err)
	}
	if loaded.Status != domain.SettlementConfirmed || loaded.Attempts != 2 {
		t.Errorf("record = %+v, want confirmed with 2 attempts", loaded)
	}

	pending, _ = s.UnconfirmedSettlements("room-1")
	if len(pending) != 0 {
		t.Errorf("confirmed record still listed as unconfirmed")
	}
}

func TestFailedSettlements(t *testing.T) {
	s := setupTestStore(t)

	for i, status := range []domain.SettlementStatus{
		domain.SettlementFailed,
		domain.SettlementConfirmed,
		domain.SettlementFailed,
	} {
		rec := &domain.SettlementRecord{
			Key:    domain.SettlementKey("room-1", uint64(i), "alice"),
			RoomID: "room-1",
			Round:  uint64(i),
			Player: "alice",
			Status: status,
		}
		if err := s.SaveSettlement(rec); err != nil {
			t.Fatalf("SaveSettlement failed: %v", err)
		}
	}

	failed, err := s.FailedSettlements(10)
	if err != nil {
		t.Fatalf("FailedSettlements failed: %v", err)
	}
	if len(failed) != 2 {
		t.Errorf("got %d failed records, want 2", len(failed))
	}
}

func TestSettlementsForPlayer_NewestFirst(t *testing.T) {
	s := setupTestStore(t)

	for round := uint64(1); round <= 5; round++ {
		rec := &domain.SettlementRecord{
			Key:    domain.SettlementKey("room-1", round, "alice"),
			RoomID: "room-1",
			Round:  round,
			Player: "alice",
			Status: domain.SettlementConfirmed,
		}
		if err := s.SaveSettlement(rec); err != nil {
			t.Fatalf("SaveSettlement failed: %v", err)
		}
	}

	recs, err := s.SettlementsForPlayer("room-1", "alice", 3)
	if err != nil {
		t.Fatalf("SettlementsForPlayer failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Round != 5 || recs[2].Round != 3 {
		t.Errorf("records not newest-first: %d..%d", recs[0].Round, recs[2].Round)
	}
}
