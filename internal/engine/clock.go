package engine

import "time"

// RoundClock maps wall-clock time to round boundaries for one room.
// Pure and deterministic: round N spans
// [genesis + N*duration, genesis + (N+1)*duration).
type RoundClock struct {
	Genesis  time.Time
	Duration time.Duration
}

// RoundAt returns the round number containing t. Times before genesis
// clamp to round 0.
func (c RoundClock) RoundAt(t time.Time) uint64 {
	if !t.After(c.Genesis) {
		return 0
	}
	return uint64(t.Sub(c.Genesis) / c.Duration)
}

// Bounds returns the open and close instants of round n.
func (c RoundClock) Bounds(n uint64) (opens, closes time.Time) {
	opens = c.Genesis.Add(time.Duration(n) * c.Duration)
	closes = opens.Add(c.Duration)
	return opens, closes
}

// Crossed reports every round whose close boundary falls in
// (last, now], in order. A coordinator that missed ticks (process
// suspended) replays each returned round rather than skipping ahead,
// so round numbers stay gapless and every round gets a settlement
// attempt even with zero bets.
func (c RoundClock) Crossed(last, now time.Time) []uint64 {
	if !now.After(last) {
		return nil
	}

	first := c.RoundAt(last)
	cur := c.RoundAt(now)
	if cur == first {
		return nil
	}

	crossed := make([]uint64, 0, cur-first)
	for n := first; n < cur; n++ {
		crossed = append(crossed, n)
	}
	return crossed
}

// Remaining returns the time left in round n at instant t, floored at
// zero.
func (c RoundClock) Remaining(n uint64, t time.Time) time.Duration {
	_, closes := c.Bounds(n)
	if !closes.After(t) {
		return 0
	}
	return closes.Sub(t)
}
