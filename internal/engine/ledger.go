package engine

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"pumparena/internal/domain"
)

// BetLedger holds the bets of the room's current round. It lives
// inside the coordinator's single-writer loop, so the duplicate check
// and pot aggregation need no locking.
type BetLedger struct {
	roomID        string
	round         *domain.Round
	minStakeUnits int64
	bets          map[string]*domain.Bet // player -> bet
}

// NewBetLedger creates a ledger bound to the given open round.
func NewBetLedger(roomID string, round *domain.Round, minStakeUnits int64) *BetLedger {
	return &BetLedger{
		roomID:        roomID,
		round:         round,
		minStakeUnits: minStakeUnits,
		bets:          make(map[string]*domain.Bet),
	}
}

// Place validates and inserts a bet for the current round. On success
// the round's pot for that direction grows by the stake. Rejections
// mutate nothing.
func (l *BetLedger) Place(player string, direction domain.Direction, stakeUnits int64, at time.Time) (*domain.Bet, error) {
	if l.round.Phase != domain.PhaseOpen {
		return nil, domain.NewValidationError("place", domain.ErrRoundNotOpen)
	}
	if !direction.Valid() {
		return nil, domain.NewValidationError("place", domain.ErrInvalidStake)
	}
	if stakeUnits <= 0 || stakeUnits < l.minStakeUnits {
		return nil, domain.NewValidationError("place", domain.ErrInvalidStake)
	}
	if existing, ok := l.bets[player]; ok && existing.Status != domain.BetRejected {
		return nil, domain.NewValidationError("place", domain.ErrDuplicateBet)
	}

	bet := &domain.Bet{
		Ref:        uuid.NewString(),
		RoomID:     l.roomID,
		Round:      l.round.Number,
		Player:     player,
		Direction:  direction,
		StakeUnits: stakeUnits,
		PlacedAt:   at,
		Status:     domain.BetPending,
	}
	l.bets[player] = bet

	if direction == domain.DirectionUp {
		l.round.UpPotUnits += stakeUnits
	} else {
		l.round.DownPotUnits += stakeUnits
	}
	l.round.BetCount++
	l.round.PlayerCount = l.liveCount()

	return bet, nil
}

// Reject marks a player's pending bet rejected and reverses its pot
// contribution. Used when forfeiting stale sessions at teardown.
func (l *BetLedger) Reject(player string) *domain.Bet {
	bet, ok := l.bets[player]
	if !ok || bet.Status != domain.BetPending {
		return nil
	}
	bet.Status = domain.BetRejected
	if bet.Direction == domain.DirectionUp {
		l.round.UpPotUnits -= bet.StakeUnits
	} else {
		l.round.DownPotUnits -= bet.StakeUnits
	}
	l.round.BetCount--
	l.round.PlayerCount = l.liveCount()
	return bet
}

// Get returns the player's bet for this round, or nil.
func (l *BetLedger) Get(player string) *domain.Bet {
	return l.bets[player]
}

// Bets returns a copy of all bets keyed by player, for committed
// read snapshots.
func (l *BetLedger) Bets() map[string]domain.Bet {
	out := make(map[string]domain.Bet, len(l.bets))
	for p, b := range l.bets {
		out[p] = *b
	}
	return out
}

// Restore inserts a previously persisted bet without validation.
// Used on room activation; pots are restored from the checkpoint.
func (l *BetLedger) Restore(bet *domain.Bet) {
	l.bets[bet.Player] = bet
}

// Snapshot returns an immutable copy of all non-rejected bets, sorted
// by player. Called only after the round transitions to Locked.
func (l *BetLedger) Snapshot() domain.RoundSnapshot {
	snap := domain.RoundSnapshot{
		RoomID:       l.roomID,
		Round:        l.round.Number,
		UpPotUnits:   l.round.UpPotUnits,
		DownPotUnits: l.round.DownPotUnits,
		PriceOpen:    l.round.PriceOpen,
		Bets:         make([]domain.Bet, 0, len(l.bets)),
	}
	for _, b := range l.bets {
		if b.Status == domain.BetRejected {
			continue
		}
		snap.Bets = append(snap.Bets, *b)
	}
	sort.Slice(snap.Bets, func(i, j int) bool {
		return snap.Bets[i].Player < snap.Bets[j].Player
	})
	return snap
}

func (l *BetLedger) liveCount() int {
	n := 0
	for _, b := range l.bets {
		if b.Status != domain.BetRejected {
			n++
		}
	}
	return n
}
