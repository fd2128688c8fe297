package engine

import (
	"math/bits"

	"pumparena/internal/domain"
)

// Payout pairs a settled bet with its computed payout.
type Payout struct {
	Bet         domain.Bet
	PayoutUnits int64
}

// Resolve computes a locked round's outcome from its bet snapshot.
// Pure and deterministic: identical snapshots always produce identical
// outcomes, which external settlement audits rely on. All arithmetic
// is integer; the winning multiplier is carried as the exact ratio
// totalPot/winningPot.
//
// Direction follows the room's price signal: every Up stake moves the
// signal up by its amount and every Down stake moves it down, so the
// net movement over the round is upPot - downPot. Positive movement
// means Up wins, negative means Down wins. Zero movement, or a round
// where one side is empty, is a push and every stake refunds at 1.0x.
func Resolve(snap domain.RoundSnapshot) domain.Outcome {
	up, down := snap.UpPotUnits, snap.DownPotUnits

	if up == 0 && down == 0 {
		return domain.Outcome{Kind: domain.OutcomeVoid, MultiplierNum: 1, MultiplierDen: 1}
	}
	if up == 0 || down == 0 || up == down {
		return domain.Outcome{Kind: domain.OutcomePush, MultiplierNum: 1, MultiplierDen: 1}
	}

	winner := domain.DirectionUp
	kind := domain.OutcomeUpWins
	if down > up {
		winner = winner.Opposite()
		kind = domain.OutcomeDownWins
	}

	return domain.Outcome{
		Kind:          kind,
		Winner:        winner,
		MultiplierNum: snap.TotalPotUnits(),
		MultiplierDen: snap.PotUnits(winner),
	}
}

// Payouts applies an outcome to every bet in the snapshot. Winners
// receive stake * totalPot / winningPot in floor division, losers
// zero, and a push refunds every stake unchanged. A void round
// returns no work.
func Payouts(snap domain.RoundSnapshot, outcome domain.Outcome) []Payout {
	if outcome.Kind == domain.OutcomeVoid {
		return nil
	}

	payouts := make([]Payout, 0, len(snap.Bets))
	for _, bet := range snap.Bets {
		var units int64
		switch outcome.Kind {
		case domain.OutcomePush:
			units = bet.StakeUnits
		case domain.OutcomeUpWins, domain.OutcomeDownWins:
			if bet.Direction == outcome.Winner {
				units = winnings(bet.StakeUnits, outcome.MultiplierNum, outcome.MultiplierDen)
			}
		}
		payouts = append(payouts, Payout{Bet: bet, PayoutUnits: units})
	}
	return payouts
}

// winnings computes stake * num / den through a 128-bit intermediate.
// The stake is part of the winning pot, so stake <= den and the
// quotient never exceeds num; the result fits in int64 even when the
// naive product would not.
func winnings(stake, num, den int64) int64 {
	hi, lo := bits.Mul64(uint64(stake), uint64(num))
	if hi == 0 {
		return int64(lo / uint64(den))
	}
	quo, _ := bits.Div64(hi, lo, uint64(den))
	return int64(quo)
}
