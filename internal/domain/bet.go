package domain

import "time"

// Direction is the side of a round a bet is placed on.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// BetStatus tracks a bet through its gameplay lifecycle.
type BetStatus string

const (
	BetPending  BetStatus = "pending"
	BetSettled  BetStatus = "settled"
	BetRejected BetStatus = "rejected"
)

// Bet is one player's stake on one round. At most one non-rejected
// bet may exist per (player, round); the bet ledger enforces this.
type Bet struct {
	Ref         string    `json:"ref"`
	RoomID      string    `json:"room_id"`
	Round       uint64    `json:"round"`
	Player      string    `json:"player"`
	Direction   Direction `json:"direction"`
	StakeUnits  int64     `json:"stake_units"`
	PlacedAt    time.Time `json:"placed_at"`
	Status      BetStatus `json:"status"`
	PayoutUnits int64     `json:"payout_units"` // set once the round settles
}
