package domain

// BalanceDelta is a player's net winnings projection for display.
// The authoritative balance lives in the external ledger; this tracks
// the confirmed deltas this room has produced so clients see results
// without waiting for a ledger round trip.
type BalanceDelta struct {
	Player    string `json:"player"`
	NetUnits  int64  `json:"net_units"`
	LastRound uint64 `json:"last_round"` // last round that modified this
}

// Credit applies a confirmed payout to the projection.
func (b *BalanceDelta) Credit(units int64, round uint64) {
	b.NetUnits += units
	b.LastRound = round
}

// Debit applies a confirmed stake deduction to the projection.
func (b *BalanceDelta) Debit(units int64, round uint64) {
	b.NetUnits -= units
	b.LastRound = round
}

// BalanceBook manages the per-player projections for one room.
// It is owned by the room's coordinator; no locking needed.
type BalanceBook struct {
	deltas map[string]*BalanceDelta
}

// NewBalanceBook creates a new balance book.
func NewBalanceBook() *BalanceBook {
	return &BalanceBook{
		deltas: make(map[string]*BalanceDelta),
	}
}

// Get returns the projection for a player, creating if not exists.
func (bb *BalanceBook) Get(player string) *BalanceDelta {
	b, ok := bb.deltas[player]
	if !ok {
		b = &BalanceDelta{Player: player}
		bb.deltas[player] = b
	}
	return b
}

// Snapshot returns a copy of all projections (for state dump).
func (bb *BalanceBook) Snapshot() map[string]BalanceDelta {
	result := make(map[string]BalanceDelta, len(bb.deltas))
	for k, v := range bb.deltas {
		result[k] = *v
	}
	return result
}

// List returns a copy of all projections as a slice (for checkpointing).
func (bb *BalanceBook) List() []BalanceDelta {
	result := make([]BalanceDelta, 0, len(bb.deltas))
	for _, v := range bb.deltas {
		result = append(result, *v)
	}
	return result
}

// Restore replaces the book's contents, used on room activation.
func (bb *BalanceBook) Restore(deltas []BalanceDelta) {
	bb.deltas = make(map[string]*BalanceDelta, len(deltas))
	for i := range deltas {
		d := deltas[i]
		bb.deltas[d.Player] = &d
	}
}
