package domain

import "time"

// RoomState is the authoritative state of one game room. It is owned
// exclusively by that room's coordinator; nothing else writes it.
type RoomState struct {
	ID string `json:"id"`
	// Genesis anchors the round clock; round N spans
	// [Genesis + N*duration, Genesis + (N+1)*duration).
	Genesis time.Time `json:"genesis"`
	Current *Round    `json:"current"`
	// History holds recently closed rounds, newest last, trimmed to
	// the configured retention.
	History []Round `json:"history"`
	// PriceUnits is the room's running price signal. Every accepted
	// bet moves it by its stake in the bet's direction.
	PriceUnits int64 `json:"price_units"`
}

// LastClosedRound returns the most recently closed round, or nil.
func (r *RoomState) LastClosedRound() *Round {
	if len(r.History) == 0 {
		return nil
	}
	return &r.History[len(r.History)-1]
}

// TrimHistory drops closed rounds beyond the retention bound.
func (r *RoomState) TrimHistory(keep int) {
	if keep > 0 && len(r.History) > keep {
		r.History = append(r.History[:0], r.History[len(r.History)-keep:]...)
	}
}
