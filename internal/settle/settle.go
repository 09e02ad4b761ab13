// Package settle implements the settlement coordinator: the only
// component allowed to mutate account balances or append to the bet
// ledger. Every play moves through
// Validated -> Debited -> OutcomeDrawn -> Settled, or terminates in
// Rejected (pre-debit, no side effects) or Failed (post-debit,
// compensation required).
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pitboss/gse/internal/audit"
	"github.com/pitboss/gse/internal/domain"
	"github.com/pitboss/gse/internal/payout"
	"github.com/pitboss/gse/internal/rng"
	"github.com/pitboss/gse/internal/store"
)

var (
	// Rejected family: no side effects, safe to retry with corrected input.
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountBanned     = errors.New("account is banned")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidStake      = errors.New("invalid stake")
	ErrUnknownGame       = errors.New("unknown game type")
	ErrGamingDisabled    = errors.New("gaming is currently disabled")

	// ErrSettlementFailed: the stake was debited but the settlement could
	// not be recorded after bounded retries. Surfaced to the caller as
	// "bet pending resolution" and to operators for compensation.
	ErrSettlementFailed = errors.New("settlement failed after debit")
)

// State names one step of the per-play state machine.
type State string

const (
	StateValidated    State = "validated"
	StateDebited      State = "debited"
	StateOutcomeDrawn State = "outcome_drawn"
	StateSettled      State = "settled"
	StateRejected     State = "rejected"
	StateFailed       State = "failed"
)

// largeWinThreshold triggers a significant-event audit entry, in cents.
const largeWinThreshold = 10000

// Coordinator drives bets through the settlement state machine against
// the external balance store.
type Coordinator struct {
	store store.BalanceStore
	rng   *rng.Service
	audit *audit.Service
	log   *logrus.Logger

	configs map[domain.GameType]*domain.GameConfig

	// Operator kill switch: plays are rejected while gaming is disabled.
	gamingEnabled atomic.Bool

	maxAttempts int
	baseBackoff time.Duration
}

// New creates a coordinator. Configurations are validated up front; a
// malformed configuration is a fatal error, never something to settle
// bets against.
func New(st store.BalanceStore, gen *rng.Service, auditSvc *audit.Service, log *logrus.Logger, configs []*domain.GameConfig) (*Coordinator, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &Coordinator{
		store:       st,
		rng:         gen,
		audit:       auditSvc,
		log:         log,
		configs:     make(map[domain.GameType]*domain.GameConfig),
		maxAttempts: 5,
		baseBackoff: 50 * time.Millisecond,
	}
	c.gamingEnabled.Store(true)

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid game configuration: %w", err)
		}
		c.configs[cfg.GameType] = cfg
	}

	return c, nil
}

// Config returns the configuration for a game type.
func (c *Coordinator) Config(game domain.GameType) (*domain.GameConfig, error) {
	cfg, ok := c.configs[game]
	if !ok {
		return nil, ErrUnknownGame
	}
	return cfg, nil
}

// Configs returns all registered game configurations.
func (c *Coordinator) Configs() []*domain.GameConfig {
	out := make([]*domain.GameConfig, 0, len(c.configs))
	for _, cfg := range c.configs {
		out = append(out, cfg)
	}
	return out
}

// RNG exposes the outcome generator to game engines that draw outside
// the one-shot Play path (the crash round).
func (c *Coordinator) RNG() *rng.Service {
	return c.rng
}

// GamingEnabled reports the operator kill switch state.
func (c *Coordinator) GamingEnabled() bool {
	return c.gamingEnabled.Load()
}

// SetGamingEnabled flips the operator kill switch and records the
// change as a significant event.
func (c *Coordinator) SetGamingEnabled(ctx context.Context, enabled bool, authorizedBy, reason string) {
	c.gamingEnabled.Store(enabled)

	eventType := audit.EventGamingEnabled
	severity := domain.SeverityInfo
	if !enabled {
		eventType = audit.EventGamingDisabled
		severity = domain.SeverityCritical
	}
	if c.audit != nil {
		c.audit.Log(ctx, eventType, severity,
			fmt.Sprintf("Gaming %s by %s: %s", map[bool]string{true: "enabled", false: "disabled"}[enabled], authorizedBy, reason),
			map[string]string{"authorized_by": authorizedBy, "reason": reason})
	}
}

// PendingBet is a play that has been validated and debited but not yet
// settled. The bet ID is fixed before the debit and serves as the
// idempotency key for every later step.
type PendingBet struct {
	BetID         string
	AccountID     string
	GameType      domain.GameType
	Stake         domain.Money
	BalanceBefore domain.Money
	State         State
	DebitedAt     time.Time
}

// PlayParams carries the game-specific player choices for one play.
type PlayParams struct {
	// Dice
	Target    int                  `json:"target,omitempty"`
	Direction domain.DiceDirection `json:"direction,omitempty"`
}

// Result is the outcome of a settled play.
type Result struct {
	Bet        *domain.Bet
	NewBalance domain.Money
}

// Play runs a complete one-shot play: validate, debit, draw, settle.
// Crash bets do not go through here; the crash round engine drives
// Begin and Resolve around its own timeline.
func (c *Coordinator) Play(ctx context.Context, accountID string, game domain.GameType, stake domain.Money, params PlayParams) (*Result, error) {
	cfg, err := c.Config(game)
	if err != nil {
		return nil, err
	}

	var (
		outcome json.RawMessage
		pay     domain.Money
	)

	switch game {
	case domain.GameDice:
		// Validate player choices before any money moves.
		if _, err := payout.DiceMultiplier(params.Target, params.Direction, cfg.HouseEdge); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStake, err)
		}
	case domain.GameSlots:
		// No player choices beyond the stake.
	default:
		return nil, ErrUnknownGame
	}

	pending, err := c.Begin(ctx, accountID, game, stake)
	if err != nil {
		return nil, err
	}

	// Debited -> OutcomeDrawn. Pure and local; a failure here is a
	// programmer error, but the stake is already gone so the play is
	// resolved as a refund rather than dropped.
	switch game {
	case domain.GameDice:
		outcome, pay, err = c.drawDice(params, stake, cfg)
	case domain.GameSlots:
		outcome, pay, err = c.drawSlots(stake, cfg)
	}
	if err != nil {
		c.log.WithError(err).WithField("bet_id", pending.BetID).Error("outcome generation failed, refunding stake")
		refund := stake
		return c.Resolve(ctx, pending, json.RawMessage(`{"voided":true}`), refund)
	}
	pending.State = StateOutcomeDrawn

	return c.Resolve(ctx, pending, outcome, pay)
}

func (c *Coordinator) drawDice(params PlayParams, stake domain.Money, cfg *domain.GameConfig) (json.RawMessage, domain.Money, error) {
	roll, err := c.rng.IntRange(1, 100)
	if err != nil {
		return nil, domain.Money{}, err
	}

	out := &domain.DiceOutcome{
		Roll:      int(roll),
		Target:    params.Target,
		Direction: params.Direction,
	}
	out.Win = payout.DiceWin(out.Roll, out.Target, out.Direction)

	pay, err := payout.Dice(out, stake, cfg)
	if err != nil {
		return nil, domain.Money{}, err
	}

	raw, err := json.Marshal(out)
	return raw, pay, err
}

// slotSymbols is the symbol strip indexed by the uniform grid draw.
// Weighting is uniform per cell; the paytable sets the returns.
var slotSymbols = []string{"7", "BAR", "BELL", "CHERRY", "LEMON", "ORANGE", "PLUM", "GRAPES"}

func (c *Coordinator) drawSlots(stake domain.Money, cfg *domain.GameConfig) (json.RawMessage, domain.Money, error) {
	cells, err := c.rng.Grid(int64(len(slotSymbols)), 3, 3)
	if err != nil {
		return nil, domain.Money{}, err
	}

	var grid [3][3]string
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			grid[r][col] = slotSymbols[cells[r][col]]
		}
	}

	lines, pay := payout.Slots(grid, stake, cfg)
	out := &domain.SlotOutcome{
		Grid:     grid,
		WinLines: lines,
		IsWin:    len(lines) > 0,
	}

	raw, err := json.Marshal(out)
	return raw, pay, err
}

// Begin performs Received -> Validated -> Debited: checks the account,
// the kill switch and the stake bounds, then atomically debits the
// stake. Concurrent plays on one account serialize on the balance
// version; a lost race re-reads and retries.
func (c *Coordinator) Begin(ctx context.Context, accountID string, game domain.GameType, stake domain.Money) (*PendingBet, error) {
	if !c.gamingEnabled.Load() {
		return nil, ErrGamingDisabled
	}

	cfg, err := c.Config(game)
	if err != nil {
		return nil, err
	}

	// Fail fast: a bad stake consumes no entropy and touches no balance.
	if err := payout.ValidateStake(stake, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStake, err)
	}

	banned, err := c.store.IsBanned(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	if banned {
		return nil, ErrAccountBanned
	}

	betID := uuid.New().String()

	for attempt := 0; ; attempt++ {
		bal, err := c.store.GetBalance(ctx, accountID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return nil, ErrAccountNotFound
			}
			return nil, fmt.Errorf("failed to read balance: %w", err)
		}

		if bal.Amount.Amount < stake.Amount {
			return nil, ErrInsufficientFunds
		}

		_, err = c.store.AtomicAdjustBalance(ctx, accountID, -stake.Amount, bal.Version)
		if err == nil {
			return &PendingBet{
				BetID:         betID,
				AccountID:     accountID,
				GameType:      game,
				Stake:         stake,
				BalanceBefore: bal.Amount,
				State:         StateDebited,
				DebitedAt:     time.Now().UTC(),
			}, nil
		}

		switch {
		case errors.Is(err, store.ErrConflict):
			// Another play won the version race; re-read and retry.
			if attempt+1 >= c.maxAttempts {
				return nil, fmt.Errorf("debit contention exhausted retries: %w", err)
			}
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		case errors.Is(err, store.ErrInsufficientFunds):
			return nil, ErrInsufficientFunds
		default:
			return nil, fmt.Errorf("failed to debit stake: %w", err)
		}
	}
}

// Resolve performs OutcomeDrawn -> Settled: credits the payout and
// appends the bet record atomically, retrying idempotently on transient
// store failures. After bounded retries the play transitions to Failed
// and the debited stake is logged for compensation; it is never
// silently dropped.
func (c *Coordinator) Resolve(ctx context.Context, pending *PendingBet, outcome json.RawMessage, pay domain.Money) (*Result, error) {
	bet := &domain.Bet{
		ID:            pending.BetID,
		AccountID:     pending.AccountID,
		GameType:      pending.GameType,
		Stake:         pending.Stake,
		Payout:        pay,
		Outcome:       outcome,
		Status:        domain.BetStatusSettled,
		BalanceBefore: pending.BalanceBefore,
		CreatedAt:     time.Now().UTC(),
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		bal, err := c.store.CreditSettlement(ctx, bet)
		if err == nil {
			pending.State = StateSettled
			bet.BalanceAfter = bal.Amount

			if bet.Payout.Amount >= largeWinThreshold && c.audit != nil {
				c.audit.Log(ctx, audit.EventLargeWin, domain.SeverityInfo,
					fmt.Sprintf("Large win: %.2f %s", bet.Payout.Float64(), bet.Payout.Currency),
					map[string]interface{}{
						"game_type": bet.GameType,
						"stake":     bet.Stake.Float64(),
						"payout":    bet.Payout.Float64(),
					},
					audit.WithAccount(bet.AccountID), audit.WithBet(bet.ID))
			}

			return &Result{Bet: bet, NewBalance: bal.Amount}, nil
		}

		lastErr = err
		c.log.WithError(err).WithFields(logrus.Fields{
			"bet_id":  bet.ID,
			"attempt": attempt + 1,
		}).Warn("settlement attempt failed, retrying")

		if err := c.backoff(ctx, attempt); err != nil {
			break
		}
	}

	// Terminal Failed: the debit happened and must be compensated.
	pending.State = StateFailed
	c.log.WithFields(logrus.Fields{
		"bet_id":     bet.ID,
		"account_id": bet.AccountID,
		"stake":      bet.Stake.Amount,
	}).WithError(lastErr).Error("settlement failed after bounded retries, compensation required")

	if c.audit != nil {
		c.audit.Log(ctx, audit.EventCompensationRequired, domain.SeverityCritical,
			fmt.Sprintf("Debited stake of %.2f %s pending resolution", bet.Stake.Float64(), bet.Stake.Currency),
			map[string]interface{}{
				"game_type": bet.GameType,
				"stake":     bet.Stake.Float64(),
				"payout":    bet.Payout.Float64(),
				"outcome":   json.RawMessage(outcome),
			},
			audit.WithAccount(bet.AccountID), audit.WithBet(bet.ID))
	}

	return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, lastErr)
}

// backoff sleeps for an exponentially growing interval, honoring
// context cancellation.
func (c *Coordinator) backoff(ctx context.Context, attempt int) error {
	d := c.baseBackoff << uint(attempt)
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetBalance reads the current balance for presentation callers.
func (c *Coordinator) GetBalance(ctx context.Context, accountID string) (domain.Money, error) {
	bal, err := c.store.GetBalance(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return domain.Money{}, ErrAccountNotFound
		}
		return domain.Money{}, err
	}
	return bal.Amount, nil
}

// GetBets returns recent bet records for an account.
func (c *Coordinator) GetBets(ctx context.Context, accountID string, limit int) ([]*domain.Bet, error) {
	return c.store.GetBets(ctx, accountID, limit)
}

// IsRejection reports whether err belongs to the pre-debit rejection
// family (no side effects occurred).
func IsRejection(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountBanned) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidStake) ||
		errors.Is(err, ErrUnknownGame) ||
		errors.Is(err, ErrGamingDisabled)
}
