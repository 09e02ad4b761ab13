package crash

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pitboss/gse/internal/audit"
	"github.com/pitboss/gse/internal/domain"
	"github.com/pitboss/gse/internal/rng"
	"github.com/pitboss/gse/internal/settle"
	"github.com/pitboss/gse/internal/store"
)

func usd(amount int64) domain.Money {
	return domain.Money{Amount: amount, Currency: "USD"}
}

// fixedEntropy replays one 63-bit value forever. Values below 2^53
// pass through Float() unchanged, so the crash point is
// floor(100 * (1 - edge) / (value / 2^53)) / 100 on every round.
type fixedEntropy struct {
	value uint64
}

func (f *fixedEntropy) Read(p []byte) (int, error) {
	v := f.value << 1
	for i := len(p) - 1; i >= 0; i-- {
		p[i] = byte(v)
		v >>= 8
	}
	return len(p), nil
}

// entropyForFloat builds the fixed draw that makes Float() return
// approximately f.
func entropyForFloat(f float64) *fixedEntropy {
	return &fixedEntropy{value: uint64(f * float64(1<<53))}
}

func newTestEngine(t *testing.T, st *store.MemoryStore, entropy *fixedEntropy, opts Options) *Engine {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	cfg := &domain.GameConfig{
		GameType:           domain.GameCrash,
		HouseEdge:          0.01,
		MinStake:           usd(10),
		MaxStake:           usd(100000),
		MaxCrashMultiplier: 10000,
	}

	gen := rng.New()
	if entropy != nil {
		gen = rng.NewWithEntropy(entropy)
	}

	coord, err := settle.New(st, gen, audit.New(nil, log), log, []*domain.GameConfig{cfg})
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	eng, err := New(coord, audit.New(nil, log), log, opts)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func waitForEvent(t *testing.T, events <-chan Event, eventType string, timeout time.Duration) Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %q event", eventType)
		}
	}
}

// One full round: a fixed draw crashes at 2.50x, one player rides an
// auto cash-out at 2.00x, the other never cashes out.
func TestRoundAutoCashout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	st.CreateAccount(ctx, "rider", usd(10000))
	st.CreateAccount(ctx, "holder", usd(10000))

	// Float ~= 0.3952 -> crash point 2.50.
	eng := newTestEngine(t, st, entropyForFloat(0.3952), Options{
		TickInterval:  time.Millisecond,
		BettingWindow: 300 * time.Millisecond,
		CrashedPause:  time.Millisecond,
	})

	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	if _, err := eng.PlaceBet(ctx, "rider", usd(500), 2.0); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	if _, err := eng.PlaceBet(ctx, "holder", usd(500), 0); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}

	crash := waitForEvent(t, events, EventCrash, 10*time.Second)
	if math.Abs(crash.CrashPoint-2.50) > 1e-9 {
		t.Errorf("Expected crash point 2.50, got %v", crash.CrashPoint)
	}

	cancel()
	<-done

	// $5 at 2.00x pays $10; the holder loses the stake.
	riderBal, _ := st.GetBalance(ctx, "rider")
	if riderBal.Amount.Amount != 10000-500+1000 {
		t.Errorf("Expected rider balance 10500, got %d", riderBal.Amount.Amount)
	}
	holderBal, _ := st.GetBalance(ctx, "holder")
	if holderBal.Amount.Amount != 9500 {
		t.Errorf("Expected holder balance 9500, got %d", holderBal.Amount.Amount)
	}

	bets, _ := st.GetBets(ctx, "rider", 10)
	if len(bets) != 1 {
		t.Fatalf("Expected 1 rider bet, got %d", len(bets))
	}
	var out domain.CrashOutcome
	if err := json.Unmarshal(bets[0].Outcome, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Win || out.CashoutAt != 2.0 || out.CrashPoint != 2.50 {
		t.Errorf("Unexpected rider outcome: %+v", out)
	}

	bets, _ = st.GetBets(ctx, "holder", 10)
	if len(bets) != 1 {
		t.Fatalf("Expected 1 holder bet, got %d", len(bets))
	}
	if bets[0].Payout.Amount != 0 {
		t.Errorf("Holder should have lost, payout %d", bets[0].Payout.Amount)
	}
}

func TestManualCashout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	st.CreateAccount(ctx, "acct-1", usd(10000))

	// Float ~= 0.0099 -> crash point 100.00: plenty of room to cash out.
	eng := newTestEngine(t, st, entropyForFloat(0.0099), Options{
		TickInterval:  time.Millisecond,
		BettingWindow: 300 * time.Millisecond,
		CrashedPause:  time.Millisecond,
	})

	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	if _, err := eng.PlaceBet(ctx, "acct-1", usd(500), 0); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}

	waitForEvent(t, events, EventTick, 10*time.Second)

	res, err := eng.Cashout(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Cashout failed: %v", err)
	}

	var out domain.CrashOutcome
	if err := json.Unmarshal(res.Bet.Outcome, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Win {
		t.Error("Manual cash-out before the crash must win")
	}
	if out.CashoutAt < 1.01 || out.CashoutAt > 100.0 {
		t.Errorf("Cash-out multiplier out of range: %v", out.CashoutAt)
	}
	want := int64(math.Round(500 * out.CashoutAt))
	if res.Bet.Payout.Amount != want {
		t.Errorf("Payout %d does not match stake * %.2f = %d", res.Bet.Payout.Amount, out.CashoutAt, want)
	}

	// A second cash-out finds nothing to settle.
	if _, err := eng.Cashout(ctx, "acct-1"); !errors.Is(err, ErrNoActiveBet) {
		t.Errorf("Expected ErrNoActiveBet, got %v", err)
	}

	cancel()
	<-done
}

func TestBettingWindowRules(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	st.CreateAccount(ctx, "acct-1", usd(10000))
	st.CreateAccount(ctx, "acct-2", usd(10000))

	eng := newTestEngine(t, st, entropyForFloat(0.0099), Options{
		TickInterval:  time.Millisecond,
		BettingWindow: 200 * time.Millisecond,
		CrashedPause:  time.Millisecond,
	})

	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	if _, err := eng.PlaceBet(ctx, "acct-1", usd(100), 0); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}

	// Doubling up in the same round is rejected and the stake untouched.
	if _, err := eng.PlaceBet(ctx, "acct-1", usd(100), 0); !errors.Is(err, ErrAlreadyInRound) {
		t.Errorf("Expected ErrAlreadyInRound, got %v", err)
	}
	bal, _ := st.GetBalance(ctx, "acct-1")
	if bal.Amount.Amount != 9900 {
		t.Errorf("Duplicate bet moved money: %d", bal.Amount.Amount)
	}

	// After the round starts, bets are closed.
	waitForEvent(t, events, EventTick, 10*time.Second)
	if _, err := eng.PlaceBet(ctx, "acct-2", usd(100), 0); !errors.Is(err, ErrBettingClosed) {
		t.Errorf("Expected ErrBettingClosed, got %v", err)
	}

	cancel()
	<-done
}

func TestCashoutWithoutBet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	st.CreateAccount(ctx, "acct-1", usd(10000))

	eng := newTestEngine(t, st, nil, Options{
		TickInterval:  time.Millisecond,
		BettingWindow: time.Hour,
		CrashedPause:  time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	if _, err := eng.Cashout(ctx, "acct-1"); !errors.Is(err, ErrNoActiveBet) {
		t.Errorf("Expected ErrNoActiveBet, got %v", err)
	}

	cancel()
	<-done
}

// Shutting the engine down with bets held must give the stakes back.
func TestShutdownRefundsOpenBets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	st := store.NewMemoryStore()
	st.CreateAccount(ctx, "acct-1", usd(10000))

	eng := newTestEngine(t, st, nil, Options{
		TickInterval:  time.Millisecond,
		BettingWindow: time.Hour, // hold the round in its betting phase
		CrashedPause:  time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	if _, err := eng.PlaceBet(ctx, "acct-1", usd(500), 0); err != nil {
		t.Fatalf("PlaceBet failed: %v", err)
	}
	bal, _ := st.GetBalance(context.Background(), "acct-1")
	if bal.Amount.Amount != 9500 {
		t.Fatalf("Expected debited balance 9500, got %d", bal.Amount.Amount)
	}

	cancel()
	<-done

	bal, _ = st.GetBalance(context.Background(), "acct-1")
	if bal.Amount.Amount != 10000 {
		t.Errorf("Expected refunded balance 10000, got %d", bal.Amount.Amount)
	}

	if _, err := eng.PlaceBet(context.Background(), "acct-1", usd(100), 0); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Expected ErrEngineStopped, got %v", err)
	}
}

func TestInfoSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, nil, Options{
		TickInterval:  time.Millisecond,
		BettingWindow: time.Hour,
		CrashedPause:  time.Millisecond,
	})

	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	waitForEvent(t, events, EventPhaseChange, 10*time.Second)

	info := eng.Info()
	if info.Phase != PhaseBetting {
		t.Errorf("Expected betting phase, got %s", info.Phase)
	}
	if info.RoundID == "" {
		t.Error("Round ID missing from snapshot")
	}

	cancel()
	<-done
}
