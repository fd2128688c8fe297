package domain

import "time"

// SettlementOutcome is one line of a player's recent history as shown
// to clients.
type SettlementOutcome struct {
	Round       uint64           `json:"round"`
	Direction   Direction        `json:"direction"`
	StakeUnits  int64            `json:"stake_units"`
	PayoutUnits int64            `json:"payout_units"`
	Status      SettlementStatus `json:"status"`
}

// PlayerSessionView is the derived, read-only projection served to a
// client. It is rebuilt on demand from the coordinator's committed
// snapshot and never persisted independently.
type PlayerSessionView struct {
	RoomID          string              `json:"room_id"`
	Round           uint64              `json:"round"`
	Phase           Phase               `json:"phase"`
	ClosesAt        time.Time           `json:"closes_at"`
	RemainingMS     int64               `json:"remaining_ms"`
	PriceUnits      int64               `json:"price_units"`
	UpPotUnits      int64               `json:"up_pot_units"`
	DownPotUnits    int64               `json:"down_pot_units"`
	LastOutcome     *Outcome            `json:"last_outcome,omitempty"`
	PendingBet      *Bet                `json:"pending_bet,omitempty"`
	BalanceUnits    int64               `json:"balance_units"`
	RecentOutcomes  []SettlementOutcome `json:"recent_outcomes"`
	ConnectedPeers  int                 `json:"connected_peers"`
	GeneratedAtUnix int64               `json:"generated_at_unix"`
}

// RoomEvent is a message broadcast to a room's websocket subscribers.
type RoomEvent struct {
	Type       string `json:"type"` // round_opened, round_locked, round_closed, bet_placed, settlement
	RoomID     string `json:"room_id"`
	Round      uint64 `json:"round"`
	Phase      Phase  `json:"phase"`
	PriceUnits int64  `json:"price_units"`
	// Payload carries event-specific data (outcome, bet, settlement).
	Payload any `json:"payload,omitempty"`
}
