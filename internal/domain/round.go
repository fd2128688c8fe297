package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the lifecycle stage of a round. Transitions are strictly
// Open -> Locked -> Settling -> Closed, driven only by the coordinator.
type Phase string

const (
	PhaseOpen     Phase = "open"
	PhaseLocked   Phase = "locked"
	PhaseSettling Phase = "settling"
	PhaseClosed   Phase = "closed"
)

// OutcomeKind classifies how a round resolved.
type OutcomeKind string

const (
	OutcomeUpWins   OutcomeKind = "up_wins"
	OutcomeDownWins OutcomeKind = "down_wins"
	// OutcomePush refunds every stake at 1.0x: one side was empty or
	// the pots cancelled out exactly.
	OutcomePush OutcomeKind = "push"
	// OutcomeVoid is an empty round; no settlement work exists.
	OutcomeVoid OutcomeKind = "void"
)

// Outcome is the resolved result of a round. Multiplier arithmetic is
// kept as an integer ratio so settlement stays reproducible; the
// decimal form is for client display only.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Winner is meaningful only for OutcomeUpWins / OutcomeDownWins.
	Winner Direction `json:"winner,omitempty"`
	// MultiplierNum/Den encode the winning side's payout multiplier
	// as totalPot/winningPot. For a push both are 1.
	MultiplierNum int64 `json:"multiplier_num"`
	MultiplierDen int64 `json:"multiplier_den"`
}

// Multiplier returns the payout multiplier as a decimal ratio.
func (o Outcome) Multiplier() decimal.Decimal {
	if o.MultiplierDen == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(o.MultiplierNum).Div(decimal.NewFromInt(o.MultiplierDen))
}

// Round is one betting window plus its resolution. Round numbers are
// strictly increasing per room with no gaps; a Closed round is
// immutable.
type Round struct {
	Number        uint64    `json:"number"`
	OpensAt       time.Time `json:"opens_at"`
	ClosesAt      time.Time `json:"closes_at"`
	Phase         Phase     `json:"phase"`
	UpPotUnits    int64     `json:"up_pot_units"`
	DownPotUnits  int64     `json:"down_pot_units"`
	Outcome       *Outcome  `json:"outcome,omitempty"`
	PriceOpen     int64     `json:"price_open"`
	PriceClose    int64     `json:"price_close"` // set at lock time
	BetCount      int       `json:"bet_count"`
	PlayerCount   int       `json:"player_count"`
	SettledAtUnix int64     `json:"settled_at_unix,omitempty"`
}

// TotalPotUnits is the combined stake across both sides.
func (r *Round) TotalPotUnits() int64 {
	return r.UpPotUnits + r.DownPotUnits
}

// RoundSnapshot is the immutable view of a round's bets handed to the
// outcome engine after the round locks. No mutation races it: the
// coordinator takes it on its own goroutine once betting is closed.
type RoundSnapshot struct {
	RoomID       string
	Round        uint64
	UpPotUnits   int64
	DownPotUnits int64
	PriceOpen    int64
	Bets         []Bet // sorted by player for deterministic iteration
}

// TotalPotUnits is the combined stake across both sides.
func (s *RoundSnapshot) TotalPotUnits() int64 {
	return s.UpPotUnits + s.DownPotUnits
}

// PotUnits returns the pot for one side.
func (s *RoundSnapshot) PotUnits(d Direction) int64 {
	if d == DirectionUp {
		return s.UpPotUnits
	}
	return s.DownPotUnits
}
