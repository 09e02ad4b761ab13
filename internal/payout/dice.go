// Package payout contains the pure payout calculators. Every function
// here is deterministic: outcome + stake + configuration in, amount
// out. No entropy is consumed and no balance is touched.
package payout

import (
	"errors"
	"fmt"
	"math"

	"github.com/pitboss/gse/internal/domain"
)

var (
	ErrStakeOutOfBounds = errors.New("stake outside configured bounds")
	ErrInvalidTarget    = errors.New("dice target must be between 1 and 99")
	ErrInvalidDirection = errors.New("dice direction must be over or under")
)

// ValidateStake rejects a stake outside [minStake, maxStake]. Called
// before any outcome is drawn so a bad stake never consumes entropy.
func ValidateStake(stake domain.Money, cfg *domain.GameConfig) error {
	if stake.Amount < cfg.MinStake.Amount || stake.Amount > cfg.MaxStake.Amount {
		return fmt.Errorf("%w: %d not in [%d, %d]",
			ErrStakeOutOfBounds, stake.Amount, cfg.MinStake.Amount, cfg.MaxStake.Amount)
	}
	return nil
}

// DiceWinProbability returns the win probability for a target and
// direction. Target t wins on roll > t (over) or roll < t (under),
// with rolls uniform on 1..100.
func DiceWinProbability(target int, direction domain.DiceDirection) (float64, error) {
	if target < 1 || target > 99 {
		return 0, ErrInvalidTarget
	}
	switch direction {
	case domain.DiceOver:
		return float64(100-target) / 100.0, nil
	case domain.DiceUnder:
		return float64(target) / 100.0, nil
	default:
		return 0, ErrInvalidDirection
	}
}

// DiceMultiplier returns the payout multiplier (1 - houseEdge) / p.
// This exact formula is what bakes the house edge into every bet
// regardless of the chosen target; it is not an approximation.
func DiceMultiplier(target int, direction domain.DiceDirection, houseEdge float64) (float64, error) {
	p, err := DiceWinProbability(target, direction)
	if err != nil {
		return 0, err
	}
	return (1 - houseEdge) / p, nil
}

// Dice computes the payout for a settled dice outcome: stake times the
// multiplier on a win, zero on a loss. Rounded to the nearest cent.
func Dice(out *domain.DiceOutcome, stake domain.Money, cfg *domain.GameConfig) (domain.Money, error) {
	if !out.Win {
		return domain.Money{Amount: 0, Currency: stake.Currency}, nil
	}

	mult, err := DiceMultiplier(out.Target, out.Direction, cfg.HouseEdge)
	if err != nil {
		return domain.Money{}, err
	}

	amount := int64(math.Round(float64(stake.Amount) * mult))
	return domain.Money{Amount: amount, Currency: stake.Currency}, nil
}

// DiceWin reports whether a roll beats the target in the given direction.
func DiceWin(roll, target int, direction domain.DiceDirection) bool {
	switch direction {
	case domain.DiceOver:
		return roll > target
	case domain.DiceUnder:
		return roll < target
	default:
		return false
	}
}
