// Slot payout evaluation over a 3x3 grid with a fixed set of 8
// paylines: three rows, three columns and both diagonals.
package payout

import (
	"math"

	"github.com/pitboss/gse/internal/domain"
)

// payline cell coordinates as (row, col) triples.
var paylines = [8][3][2]int{
	{{0, 0}, {0, 1}, {0, 2}}, // top row
	{{1, 0}, {1, 1}, {1, 2}}, // middle row
	{{2, 0}, {2, 1}, {2, 2}}, // bottom row
	{{0, 0}, {1, 0}, {2, 0}}, // left column
	{{0, 1}, {1, 1}, {2, 1}}, // middle column
	{{0, 2}, {1, 2}, {2, 2}}, // right column
	{{0, 0}, {1, 1}, {2, 2}}, // diagonal
	{{0, 2}, {1, 1}, {2, 0}}, // anti-diagonal
}

// PaylineCount is the number of evaluated lines per spin.
const PaylineCount = len(paylines)

// Slots evaluates all paylines on the grid. A line pays
// stake * symbolMultiplier when all three cells share a symbol; the
// total payout is the sum over all winning lines.
func Slots(grid [3][3]string, stake domain.Money, cfg *domain.GameConfig) ([]domain.WinLine, domain.Money) {
	var winLines []domain.WinLine
	var total int64

	for i, line := range paylines {
		a := grid[line[0][0]][line[0][1]]
		b := grid[line[1][0]][line[1][1]]
		c := grid[line[2][0]][line[2][1]]

		if a != b || b != c {
			continue
		}

		mult, ok := cfg.SymbolMultipliers[a]
		if !ok {
			continue
		}

		amount := int64(math.Round(float64(stake.Amount) * mult))
		winLines = append(winLines, domain.WinLine{
			Line:       i + 1,
			Symbol:     a,
			Multiplier: mult,
			Payout:     amount,
		})
		total += amount
	}

	return winLines, domain.Money{Amount: total, Currency: stake.Currency}
}
