// Package crash runs the shared crash round: one multiplier climbing
// from 1.00 until a secretly drawn crash point, with many players
// riding it and cashing out independently. A single goroutine owns all
// round state; players and readers reach it only through commands and
// the event broadcast.
package crash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pitboss/gse/internal/audit"
	"github.com/pitboss/gse/internal/domain"
	"github.com/pitboss/gse/internal/payout"
	"github.com/pitboss/gse/internal/settle"
)

var (
	ErrBettingClosed  = errors.New("betting is closed for this round")
	ErrAlreadyInRound = errors.New("account already has a bet in this round")
	ErrNoActiveBet    = errors.New("no active bet to cash out")
	ErrEngineStopped  = errors.New("crash engine is not running")
)

// Phase is the stage the shared round is in.
type Phase string

const (
	PhaseBetting Phase = "betting"
	PhaseRunning Phase = "running"
	PhaseCrashed Phase = "crashed"
)

// Event is pushed to every subscriber. CrashPoint is only populated on
// the crash event; it stays secret while the round runs.
type Event struct {
	Type       string    `json:"type"`
	RoundID    string    `json:"round_id"`
	Phase      Phase     `json:"phase"`
	Multiplier float64   `json:"multiplier,omitempty"`
	CrashPoint float64   `json:"crash_point,omitempty"`
	AccountID  string    `json:"account_id,omitempty"`
	CashoutAt  float64   `json:"cashout_at,omitempty"`
	Payout     float64   `json:"payout,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	EventPhaseChange = "phase_change"
	EventTick        = "tick"
	EventCashout     = "cashout"
	EventCrash       = "crash"
)

// RoundInfo is a read-only snapshot for HTTP callers.
type RoundInfo struct {
	RoundID    string  `json:"round_id"`
	Phase      Phase   `json:"phase"`
	Multiplier float64 `json:"multiplier"`
	Players    int     `json:"players"`
}

// Options tune the round timeline. Zero values fall back to defaults.
type Options struct {
	TickInterval  time.Duration
	BettingWindow time.Duration
	CrashedPause  time.Duration
}

type placeBetCmd struct {
	accountID   string
	stake       domain.Money
	autoCashout float64
	reply       chan placeBetResult
}

type placeBetResult struct {
	betID string
	err   error
}

type cashoutCmd struct {
	accountID string
	reply     chan cashoutResult
}

type cashoutResult struct {
	result *settle.Result
	err    error
}

// liveBet is a debited stake riding the current round.
type liveBet struct {
	pending     *settle.PendingBet
	autoCashout float64
}

// Engine drives consecutive crash rounds. All round state is owned by
// the Run goroutine; PlaceBet and Cashout are serialized through the
// command channel, so command arrival order is settlement order.
type Engine struct {
	coord *settle.Coordinator
	cfg   *domain.GameConfig
	audit *audit.Service
	log   *logrus.Logger

	tickInterval  time.Duration
	bettingWindow time.Duration
	crashedPause  time.Duration

	commands chan interface{}
	stopped  chan struct{}

	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	info        RoundInfo
}

func New(coord *settle.Coordinator, auditSvc *audit.Service, log *logrus.Logger, opts Options) (*Engine, error) {
	cfg, err := coord.Config(domain.GameCrash)
	if err != nil {
		return nil, fmt.Errorf("crash is not configured: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.BettingWindow <= 0 {
		opts.BettingWindow = 5 * time.Second
	}
	if opts.CrashedPause <= 0 {
		opts.CrashedPause = 3 * time.Second
	}

	return &Engine{
		coord:         coord,
		cfg:           cfg,
		audit:         auditSvc,
		log:           log,
		tickInterval:  opts.TickInterval,
		bettingWindow: opts.BettingWindow,
		crashedPause:  opts.CrashedPause,
		commands:      make(chan interface{}),
		stopped:       make(chan struct{}),
		subscribers:   make(map[chan Event]struct{}),
	}, nil
}

// Run drives rounds back to back until the context is cancelled. Open
// bets are refunded on shutdown; a round is never abandoned with money
// held.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.runRound(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// An entropy or store failure aborts the round; keep the
			// engine alive and try again after the pause.
			e.log.WithError(err).Error("crash round aborted")
			select {
			case <-time.After(e.crashedPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (e *Engine) runRound(ctx context.Context) error {
	roundID := uuid.New().String()

	// The crash point is committed before the first bet is taken and
	// revealed only when the round ends.
	crashPoint, err := e.coord.RNG().CrashPoint(e.cfg.HouseEdge, e.cfg.MaxCrashMultiplier)
	if err != nil {
		return fmt.Errorf("failed to draw crash point: %w", err)
	}

	bets := make(map[string]*liveBet)

	e.setInfo(RoundInfo{RoundID: roundID, Phase: PhaseBetting, Multiplier: 1.0})
	e.broadcast(Event{Type: EventPhaseChange, RoundID: roundID, Phase: PhaseBetting, Multiplier: 1.0, Timestamp: time.Now().UTC()})

	bettingTimer := time.NewTimer(e.bettingWindow)
	defer bettingTimer.Stop()

	for betting := true; betting; {
		select {
		case <-ctx.Done():
			e.refundAll(roundID, bets)
			return ctx.Err()
		case raw := <-e.commands:
			switch cmd := raw.(type) {
			case placeBetCmd:
				cmd.reply <- e.handlePlaceBet(ctx, roundID, bets, cmd)
			case cashoutCmd:
				cmd.reply <- cashoutResult{err: ErrNoActiveBet}
			}
		case <-bettingTimer.C:
			betting = false
		}
	}

	multiplier := 1.0
	e.setInfo(RoundInfo{RoundID: roundID, Phase: PhaseRunning, Multiplier: multiplier, Players: len(bets)})
	e.broadcast(Event{Type: EventPhaseChange, RoundID: roundID, Phase: PhaseRunning, Multiplier: multiplier, Timestamp: time.Now().UTC()})

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.refundAll(roundID, bets)
			return ctx.Err()

		case raw := <-e.commands:
			switch cmd := raw.(type) {
			case placeBetCmd:
				cmd.reply <- placeBetResult{err: ErrBettingClosed}
			case cashoutCmd:
				cmd.reply <- e.handleCashout(ctx, roundID, crashPoint, multiplier, bets, cmd)
			}

		case <-ticker.C:
			next := math.Round((multiplier+0.01)*100) / 100

			// Auto cash-outs resolve before the crash check: a cash-out
			// equal to the crash point pays.
			for accountID, lb := range bets {
				if lb.autoCashout > 0 && payout.CashoutBeatsCrash(next, lb.autoCashout, crashPoint) {
					e.settleWin(ctx, roundID, crashPoint, lb, lb.autoCashout)
					delete(bets, accountID)
				}
			}

			if next > crashPoint {
				e.finishRound(ctx, roundID, crashPoint, bets)
				return nil
			}

			multiplier = next
			e.setInfo(RoundInfo{RoundID: roundID, Phase: PhaseRunning, Multiplier: multiplier, Players: len(bets)})
			e.broadcast(Event{Type: EventTick, RoundID: roundID, Phase: PhaseRunning, Multiplier: multiplier, Timestamp: time.Now().UTC()})
		}
	}
}

func (e *Engine) handlePlaceBet(ctx context.Context, roundID string, bets map[string]*liveBet, cmd placeBetCmd) placeBetResult {
	if _, dup := bets[cmd.accountID]; dup {
		return placeBetResult{err: ErrAlreadyInRound}
	}
	if cmd.autoCashout != 0 && cmd.autoCashout < 1.01 {
		return placeBetResult{err: fmt.Errorf("%w: auto cash-out must be at least 1.01", settle.ErrInvalidStake)}
	}

	pending, err := e.coord.Begin(ctx, cmd.accountID, domain.GameCrash, cmd.stake)
	if err != nil {
		return placeBetResult{err: err}
	}

	bets[cmd.accountID] = &liveBet{pending: pending, autoCashout: cmd.autoCashout}
	return placeBetResult{betID: pending.BetID}
}

func (e *Engine) handleCashout(ctx context.Context, roundID string, crashPoint, multiplier float64, bets map[string]*liveBet, cmd cashoutCmd) cashoutResult {
	lb, ok := bets[cmd.accountID]
	if !ok {
		return cashoutResult{err: ErrNoActiveBet}
	}

	// The round is still running, so the current multiplier has not
	// passed the crash point; a manual cash-out here always pays.
	res, err := e.settleWin(ctx, roundID, crashPoint, lb, multiplier)
	if err != nil {
		return cashoutResult{err: err}
	}
	delete(bets, cmd.accountID)
	return cashoutResult{result: res}
}

func (e *Engine) settleWin(ctx context.Context, roundID string, crashPoint float64, lb *liveBet, cashoutAt float64) (*settle.Result, error) {
	out := &domain.CrashOutcome{
		RoundID:    roundID,
		CrashPoint: crashPoint,
		CashoutAt:  cashoutAt,
		Win:        true,
	}
	pay := payout.Crash(out, lb.pending.Stake)

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	res, err := e.coord.Resolve(ctx, lb.pending, raw, pay)
	if err != nil {
		// Compensation is already audited by the coordinator.
		e.log.WithError(err).WithField("bet_id", lb.pending.BetID).Error("crash cash-out settlement failed")
		return nil, err
	}

	e.broadcast(Event{
		Type:      EventCashout,
		RoundID:   roundID,
		Phase:     PhaseRunning,
		AccountID: lb.pending.AccountID,
		CashoutAt: cashoutAt,
		Payout:    pay.Float64(),
		Timestamp: time.Now().UTC(),
	})
	return res, nil
}

// finishRound settles every bet still riding as a loss and reveals the
// crash point.
func (e *Engine) finishRound(ctx context.Context, roundID string, crashPoint float64, bets map[string]*liveBet) {
	for _, lb := range bets {
		out := &domain.CrashOutcome{
			RoundID:    roundID,
			CrashPoint: crashPoint,
			Win:        false,
		}
		raw, err := json.Marshal(out)
		if err != nil {
			e.log.WithError(err).Error("failed to encode crash outcome")
			continue
		}
		if _, err := e.coord.Resolve(ctx, lb.pending, raw, domain.Money{Amount: 0, Currency: lb.pending.Stake.Currency}); err != nil {
			e.log.WithError(err).WithField("bet_id", lb.pending.BetID).Error("crash loss settlement failed")
		}
	}

	e.setInfo(RoundInfo{RoundID: roundID, Phase: PhaseCrashed, Multiplier: crashPoint})
	e.broadcast(Event{
		Type:       EventCrash,
		RoundID:    roundID,
		Phase:      PhaseCrashed,
		Multiplier: crashPoint,
		CrashPoint: crashPoint,
		Timestamp:  time.Now().UTC(),
	})

	if e.audit != nil {
		e.audit.Log(context.WithoutCancel(ctx), audit.EventRoundCrashed, domain.SeverityInfo,
			fmt.Sprintf("Round crashed at %.2fx", crashPoint),
			map[string]interface{}{"round_id": roundID, "crash_point": crashPoint},
			audit.WithComponent("crash"))
	}

	// Pause so clients can show the crash before the next betting window.
	select {
	case <-time.After(e.crashedPause):
	case <-ctx.Done():
	}
}

// refundAll voids open bets on shutdown. The parent context is already
// cancelled, so refunds run on their own deadline.
func (e *Engine) refundAll(roundID string, bets map[string]*liveBet) {
	if len(bets) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, lb := range bets {
		outcome := json.RawMessage(fmt.Sprintf(`{"round_id":%q,"voided":true}`, roundID))
		if _, err := e.coord.Resolve(ctx, lb.pending, outcome, lb.pending.Stake); err != nil {
			e.log.WithError(err).WithField("bet_id", lb.pending.BetID).Error("failed to refund open crash bet")
		}
	}
}

// PlaceBet joins the current round during its betting window. The
// stake is debited immediately; autoCashout of zero means manual only.
func (e *Engine) PlaceBet(ctx context.Context, accountID string, stake domain.Money, autoCashout float64) (string, error) {
	cmd := placeBetCmd{accountID: accountID, stake: stake, autoCashout: autoCashout, reply: make(chan placeBetResult, 1)}

	select {
	case e.commands <- cmd:
	case <-e.stopped:
		return "", ErrEngineStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.betID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Cashout cashes out the caller's bet at the multiplier the round is
// showing when the command is received.
func (e *Engine) Cashout(ctx context.Context, accountID string) (*settle.Result, error) {
	cmd := cashoutCmd{accountID: accountID, reply: make(chan cashoutResult, 1)}

	select {
	case e.commands <- cmd:
	case <-e.stopped:
		return nil, ErrEngineStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers an event feed. Slow subscribers lose events
// rather than stalling the round.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()

	return ch, func() {
		e.mu.Lock()
		// No broadcast can hold the channel once it leaves the map, so
		// closing here is safe.
		delete(e.subscribers, ch)
		close(ch)
		e.mu.Unlock()
	}
}

// Info returns the current round snapshot.
func (e *Engine) Info() RoundInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info
}

func (e *Engine) setInfo(info RoundInfo) {
	e.mu.Lock()
	e.info = info
	e.mu.Unlock()
}

func (e *Engine) broadcast(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
