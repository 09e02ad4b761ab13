// Crash payout evaluation. The multiplier timeline itself lives in the
// crash round engine; this file only turns a resolved bet into money.
package payout

import (
	"math"

	"github.com/pitboss/gse/internal/domain"
)

// Crash computes the payout for a resolved crash bet: stake times the
// cash-out multiplier when the player cashed out, zero when the round
// reached the crash point first.
func Crash(out *domain.CrashOutcome, stake domain.Money) domain.Money {
	if !out.Win {
		return domain.Money{Amount: 0, Currency: stake.Currency}
	}

	amount := int64(math.Round(float64(stake.Amount) * out.CashoutAt))
	return domain.Money{Amount: amount, Currency: stake.Currency}
}

// CashoutBeatsCrash decides a cash-out evaluated at a tick where the
// multiplier has reached both the cash-out threshold and possibly the
// crash point. The crash event and the standing cash-out instruction
// are logically simultaneous, so the tie goes to the player: the
// cash-out wins whenever the multiplier has reached it, even on the
// crash tick itself.
func CashoutBeatsCrash(multiplier, cashoutAt, crashPoint float64) bool {
	return multiplier >= cashoutAt && cashoutAt <= crashPoint
}
