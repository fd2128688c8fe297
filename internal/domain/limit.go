package domain

import "time"

// DailyStakeLimit enforces a rolling 24h cumulative stake cap for one
// player. The remaining budget refills in full once 24h have passed
// since the last reset.
type DailyStakeLimit struct {
	Player         string    `json:"player"`
	RemainingUnits int64     `json:"remaining_units"`
	LastReset      time.Time `json:"last_reset"`
}

// DailyStakeBook tracks per-player daily limits for one room. Owned
// by the room's coordinator.
type DailyStakeBook struct {
	capUnits int64
	limits   map[string]*DailyStakeLimit
}

// NewDailyStakeBook creates a book with the given per-player cap.
// A non-positive cap disables the limit entirely.
func NewDailyStakeBook(capUnits int64) *DailyStakeBook {
	return &DailyStakeBook{
		capUnits: capUnits,
		limits:   make(map[string]*DailyStakeLimit),
	}
}

// TryConsume deducts amount from the player's daily budget, resetting
// it first if 24h have elapsed. Returns ErrDailyLimitReached without
// mutation when the budget is insufficient.
func (db *DailyStakeBook) TryConsume(player string, amount int64, now time.Time) error {
	if db.capUnits <= 0 {
		return nil
	}

	l, ok := db.limits[player]
	if !ok {
		l = &DailyStakeLimit{Player: player, RemainingUnits: db.capUnits, LastReset: now}
		db.limits[player] = l
	}

	if now.Sub(l.LastReset) >= 24*time.Hour {
		l.RemainingUnits = db.capUnits
		l.LastReset = now
	}

	if l.RemainingUnits < amount {
		return ErrDailyLimitReached
	}
	l.RemainingUnits -= amount
	return nil
}

// Rollback returns amount to the player's budget, capped at the
// configured maximum. Used when a consumed stake is later forfeited
// or the bet insert fails.
func (db *DailyStakeBook) Rollback(player string, amount int64) {
	l, ok := db.limits[player]
	if !ok {
		return
	}
	l.RemainingUnits += amount
	if l.RemainingUnits > db.capUnits {
		l.RemainingUnits = db.capUnits
	}
}

// Snapshot returns a copy of all limits (for checkpointing).
func (db *DailyStakeBook) Snapshot() []DailyStakeLimit {
	result := make([]DailyStakeLimit, 0, len(db.limits))
	for _, l := range db.limits {
		result = append(result, *l)
	}
	return result
}

// Restore replaces the book's contents, used on room activation.
func (db *DailyStakeBook) Restore(limits []DailyStakeLimit) {
	db.limits = make(map[string]*DailyStakeLimit, len(limits))
	for i := range limits {
		l := limits[i]
		db.limits[l.Player] = &l
	}
}
