// Package domain contains the core domain models of the settlement engine:
// accounts, bets, game outcomes and per-game configuration.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Money represents monetary values in minor units (cents) to avoid
// floating point drift in balances.
type Money struct {
	Amount   int64  `json:"amount"`   // Amount in smallest unit (cents)
	Currency string `json:"currency"` // ISO 4217 currency code
}

// NewMoney creates a new Money value from the major unit.
func NewMoney(amount float64, currency string) Money {
	return Money{
		Amount:   int64(amount * 100),
		Currency: currency,
	}
}

// Float64 returns the monetary value as a float
func (m Money) Float64() float64 {
	return float64(m.Amount) / 100.0
}

// Add adds two money values
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Sub subtracts money value
func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// AccountStatus represents the lifecycle state of an account. Accounts
// are never deleted; misbehaving accounts are banned instead.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusBanned AccountStatus = "banned"
)

// Account represents a player account. Balance is mutated only by the
// settlement coordinator and is never negative at any observable time.
type Account struct {
	ID        string        `json:"id" db:"id"`
	Balance   Money         `json:"balance" db:"balance"`
	Version   int64         `json:"version" db:"version"` // optimistic concurrency version
	Status    AccountStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// GameType identifies a game variant.
type GameType string

const (
	GameDice  GameType = "dice"
	GameSlots GameType = "slots"
	GameCrash GameType = "crash"
)

// BetStatus represents the terminal state of a bet record.
type BetStatus string

const (
	// BetStatusSettled means the stake was debited and the payout (possibly
	// zero) was credited and recorded, exactly once.
	BetStatusSettled BetStatus = "settled"
	// BetStatusFailed means the stake was debited but settlement could not
	// be recorded after bounded retries. Requires compensation.
	BetStatusFailed BetStatus = "failed"
)

// Bet is an immutable, append-only ledger record of one settled play.
// It is created atomically with the credit of its payout and never
// updated afterwards.
type Bet struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	GameType      GameType        `json:"game_type" db:"game_type"`
	Stake         Money           `json:"stake" db:"stake"`
	Payout        Money           `json:"payout" db:"payout"`
	Outcome       json.RawMessage `json:"outcome" db:"outcome"`
	Status        BetStatus       `json:"status" db:"status"`
	BalanceBefore Money           `json:"balance_before" db:"balance_before"`
	BalanceAfter  Money           `json:"balance_after" db:"balance_after"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// DiceDirection is the side of the target the player bets on.
type DiceDirection string

const (
	DiceOver  DiceDirection = "over"
	DiceUnder DiceDirection = "under"
)

// DiceOutcome is the result of one dice play.
type DiceOutcome struct {
	Roll      int           `json:"roll"` // 1..100
	Target    int           `json:"target"`
	Direction DiceDirection `json:"direction"`
	Win       bool          `json:"win"`
}

// SlotOutcome is the result of one slot spin on a 3x3 grid.
type SlotOutcome struct {
	Grid     [3][3]string `json:"grid"`
	WinLines []WinLine    `json:"win_lines"`
	IsWin    bool         `json:"is_win"`
}

// WinLine is one payline on which all cells matched.
type WinLine struct {
	Line       int     `json:"line"`
	Symbol     string  `json:"symbol"`
	Multiplier float64 `json:"multiplier"`
	Payout     int64   `json:"payout"` // in cents
}

// CrashOutcome is the result of one crash bet.
type CrashOutcome struct {
	RoundID    string  `json:"round_id"`
	CrashPoint float64 `json:"crash_point"`
	CashoutAt  float64 `json:"cashout_at,omitempty"` // 0 when the bet rode into the crash
	Win        bool    `json:"win"`
}

// GameConfig holds the per-game parameters consumed by the payout
// calculator. Read-only during play; changed only through the
// administrative path.
type GameConfig struct {
	GameType  GameType `json:"game_type"`
	HouseEdge float64  `json:"house_edge"` // fraction in (0, 1)
	MinStake  Money    `json:"min_stake"`
	MaxStake  Money    `json:"max_stake"`

	// Slots only: multiplier applied to the stake per matched line.
	SymbolMultipliers map[string]float64 `json:"symbol_multipliers,omitempty"`

	// Crash only.
	MaxCrashMultiplier float64 `json:"max_crash_multiplier,omitempty"`
}

var (
	ErrInvalidHouseEdge  = errors.New("house edge must be strictly between 0 and 1")
	ErrInvalidStakeRange = errors.New("min stake must be positive and not exceed max stake")
	ErrEmptyPaytable     = errors.New("slot symbol multiplier table is empty")
	ErrInvalidCrashCap   = errors.New("max crash multiplier must exceed 1.0")
)

// Validate checks the configuration invariants. A config that fails
// validation must never reach the payout calculator.
func (c *GameConfig) Validate() error {
	if c.HouseEdge <= 0 || c.HouseEdge >= 1 {
		return fmt.Errorf("%s: %w", c.GameType, ErrInvalidHouseEdge)
	}
	if c.MinStake.Amount <= 0 || c.MinStake.Amount > c.MaxStake.Amount {
		return fmt.Errorf("%s: %w", c.GameType, ErrInvalidStakeRange)
	}
	if c.GameType == GameSlots && len(c.SymbolMultipliers) == 0 {
		return fmt.Errorf("%s: %w", c.GameType, ErrEmptyPaytable)
	}
	if c.GameType == GameCrash && c.MaxCrashMultiplier <= 1.0 {
		return fmt.Errorf("%s: %w", c.GameType, ErrInvalidCrashCap)
	}
	return nil
}

// RTP returns the configured return-to-player fraction.
func (c *GameConfig) RTP() float64 {
	return 1 - c.HouseEdge
}

// EventSeverity represents audit event severity
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// AuditEvent represents a significant event: settlement failures,
// compensation requirements, large wins, RNG health checks.
type AuditEvent struct {
	ID          string          `json:"id" db:"id"`
	Type        string          `json:"type" db:"type"`
	Severity    EventSeverity   `json:"severity" db:"severity"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	AccountID   *string         `json:"account_id,omitempty" db:"account_id"`
	BetID       *string         `json:"bet_id,omitempty" db:"bet_id"`
	Description string          `json:"description" db:"description"`
	Data        json.RawMessage `json:"data,omitempty" db:"data"`
	Component   string          `json:"component" db:"component"`
}
