package event

import (
	"time"

	"pumparena/internal/domain"
)

// Event is a message processed by a room coordinator. All mutations
// of room state travel through the coordinator's inbox as events; the
// coordinator goroutine is the only consumer.
type Event interface {
	Type() string
}

// TickEvent advances the round clock. The coordinator compares Now
// against the last observed time and replays every boundary crossed
// in between, so a late tick catches up instead of skipping rounds.
type TickEvent struct {
	Now time.Time
}

func (*TickEvent) Type() string { return "tick" }

// PlaceBetResult is the synchronous reply to a PlaceBetEvent.
type PlaceBetResult struct {
	Bet   *domain.Bet
	Round uint64
	Phase domain.Phase
	// ClosesAt lets the client render the remaining betting window.
	ClosesAt time.Time
	Err      error
}

// PlaceBetEvent submits a bet for the current round. Reply must be
// buffered with capacity 1; the coordinator sends exactly one result.
type PlaceBetEvent struct {
	Player     string
	Direction  domain.Direction
	StakeUnits int64
	ReceivedAt time.Time
	Reply      chan PlaceBetResult
}

func (*PlaceBetEvent) Type() string { return "place_bet" }

// SettlementResultEvent reports a ledger dispatch outcome back into
// the coordinator, which is the only writer of settlement status.
type SettlementResultEvent struct {
	Key      string
	Status   domain.SettlementStatus
	Attempts int
	Err      string
}

func (*SettlementResultEvent) Type() string { return "settlement_result" }

// ForfeitStaleEvent asks the coordinator to reject the pending bets
// of players with no live session. Sent during room teardown only.
type ForfeitStaleEvent struct {
	// Alive reports session liveness; consulted per pending bet.
	Alive func(player string) bool
	Done  chan struct{}
}

func (*ForfeitStaleEvent) Type() string { return "forfeit_stale" }
