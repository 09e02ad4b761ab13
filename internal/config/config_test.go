package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Games.Currency != "USD" {
		t.Errorf("Expected default currency USD, got %s", cfg.Games.Currency)
	}
	if cfg.Crash.TickInterval != 100*time.Millisecond {
		t.Errorf("Unexpected tick interval %s", cfg.Crash.TickInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GSE_PORT", "9000")
	t.Setenv("GSE_DICE_HOUSE_EDGE", "0.02")
	t.Setenv("GSE_MIN_STAKE", "25")
	t.Setenv("GSE_CRASH_TICK", "50ms")

	cfg := Load()

	if cfg.Server.Port != "9000" {
		t.Errorf("Expected port 9000, got %s", cfg.Server.Port)
	}
	if cfg.Games.DiceHouseEdge != 0.02 {
		t.Errorf("Expected dice edge 0.02, got %v", cfg.Games.DiceHouseEdge)
	}
	if cfg.Games.MinStake.Amount != 25 {
		t.Errorf("Expected min stake 25, got %d", cfg.Games.MinStake.Amount)
	}
	if cfg.Crash.TickInterval != 50*time.Millisecond {
		t.Errorf("Expected 50ms tick, got %s", cfg.Crash.TickInterval)
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("GSE_DICE_HOUSE_EDGE", "not-a-number")
	t.Setenv("GSE_CRASH_TICK", "soon")

	cfg := Load()

	if cfg.Games.DiceHouseEdge != 0.01 {
		t.Errorf("Expected fallback edge 0.01, got %v", cfg.Games.DiceHouseEdge)
	}
	if cfg.Crash.TickInterval != 100*time.Millisecond {
		t.Errorf("Expected fallback tick 100ms, got %s", cfg.Crash.TickInterval)
	}
}

func TestGameConfigsValidate(t *testing.T) {
	cfg := Load()

	for _, gc := range cfg.GameConfigs() {
		if err := gc.Validate(); err != nil {
			t.Errorf("Default %s configuration invalid: %v", gc.GameType, err)
		}
	}
}
