package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SettlementStatus is the ledger-confirmation state of a settlement
// record, tracked independently of round finality.
type SettlementStatus string

const (
	SettlementUnconfirmed SettlementStatus = "unconfirmed"
	SettlementConfirmed   SettlementStatus = "confirmed"
	SettlementFailed      SettlementStatus = "failed"
)

// SettlementRecord is the audit-trail entry for one bet's payout.
// Records are appended when a round closes and mutated only by
// ledger-response handling; they are never deleted.
type SettlementRecord struct {
	Key         string           `json:"key"`
	RoomID      string           `json:"room_id"`
	Round       uint64           `json:"round"`
	Player      string           `json:"player"`
	BetRef      string           `json:"bet_ref"`
	Direction   Direction        `json:"direction"`
	StakeUnits  int64            `json:"stake_units"`
	PayoutUnits int64            `json:"payout_units"` // zero for losers
	Status      SettlementStatus `json:"status"`
	Attempts    int              `json:"attempts"`
	LastError   string           `json:"last_error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// SettlementKey derives the idempotency key for a (room, round,
// player) settlement. It is deterministic so repeated dispatch after a
// crash reuses the same key and the ledger can deduplicate.
func SettlementKey(roomID string, round uint64, player string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", roomID, round, player)))
	return hex.EncodeToString(sum[:])
}
