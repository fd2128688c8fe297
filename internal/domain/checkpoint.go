package domain

import "time"

// Checkpoint is the durable image of one room, written on every
// committed state transition and loaded on actor activation. A
// restart resumes from the last Closed round boundary without loss:
// the clock replays anything missed since LastObserved.
type Checkpoint struct {
	State        RoomState         `json:"state"`
	Limits       []DailyStakeLimit `json:"limits"`
	Balances     []BalanceDelta    `json:"balances"`
	LastObserved time.Time         `json:"last_observed"`
}
