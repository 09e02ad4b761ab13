// Package config provides configuration management for the settlement engine
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/pitboss/gse/internal/domain"
)

// Config holds all configuration for the engine
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Games    GamesConfig
	Crash    CrashConfig
	Wallet   WalletConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// AuthConfig holds token verification configuration. Tokens are issued
// by the platform; the engine only verifies them.
type AuthConfig struct {
	JWTSecret string
}

// GamesConfig holds per-game math configuration
type GamesConfig struct {
	Currency string

	DiceHouseEdge  float64
	SlotsHouseEdge float64
	CrashHouseEdge float64

	MinStake domain.Money
	MaxStake domain.Money

	MaxCrashMultiplier float64
}

// CrashConfig holds the shared crash round timeline
type CrashConfig struct {
	TickInterval  time.Duration
	BettingWindow time.Duration
	CrashedPause  time.Duration
}

// WalletConfig holds the remote wallet integration. When the base URL
// is empty, balances live in the local database.
type WalletConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
}

// Load loads configuration from environment with defaults. A .env file
// in the working directory is read first when present.
func Load() *Config {
	godotenv.Load()

	currency := getEnv("GSE_CURRENCY", "USD")

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("GSE_PORT", "8080"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: getEnv("GSE_DB_DRIVER", "postgres"),
			DSN:    getEnv("GSE_DB_DSN", "host=localhost dbname=gse sslmode=disable"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("GSE_JWT_SECRET", "gse-dev-secret-change-in-production"),
		},
		Games: GamesConfig{
			Currency:           currency,
			DiceHouseEdge:      getEnvFloat("GSE_DICE_HOUSE_EDGE", 0.01),
			SlotsHouseEdge:     getEnvFloat("GSE_SLOTS_HOUSE_EDGE", 0.04),
			CrashHouseEdge:     getEnvFloat("GSE_CRASH_HOUSE_EDGE", 0.01),
			MinStake:           domain.Money{Amount: getEnvInt64("GSE_MIN_STAKE", 10), Currency: currency},
			MaxStake:           domain.Money{Amount: getEnvInt64("GSE_MAX_STAKE", 100000), Currency: currency},
			MaxCrashMultiplier: getEnvFloat("GSE_MAX_CRASH_MULTIPLIER", 10000),
		},
		Crash: CrashConfig{
			TickInterval:  getEnvDuration("GSE_CRASH_TICK", 100*time.Millisecond),
			BettingWindow: getEnvDuration("GSE_CRASH_BETTING_WINDOW", 5*time.Second),
			CrashedPause:  getEnvDuration("GSE_CRASH_PAUSE", 3*time.Second),
		},
		Wallet: WalletConfig{
			BaseURL:   getEnv("GSE_WALLET_URL", ""),
			APIKey:    getEnv("GSE_WALLET_API_KEY", ""),
			SecretKey: getEnv("GSE_WALLET_SECRET", ""),
			Timeout:   getEnvDuration("GSE_WALLET_TIMEOUT", 5*time.Second),
		},
	}
}

// GameConfigs expands the flat environment settings into the per-game
// configurations the coordinator validates at startup.
func (c *Config) GameConfigs() []*domain.GameConfig {
	return []*domain.GameConfig{
		{
			GameType:  domain.GameDice,
			HouseEdge: c.Games.DiceHouseEdge,
			MinStake:  c.Games.MinStake,
			MaxStake:  c.Games.MaxStake,
		},
		{
			GameType:  domain.GameSlots,
			HouseEdge: c.Games.SlotsHouseEdge,
			MinStake:  c.Games.MinStake,
			MaxStake:  c.Games.MaxStake,
			// With 8 uniform symbols and 8 paylines the expected return
			// is (sum of multipliers) / 64; these sum to 61.5 for an RTP
			// of ~0.96.
			SymbolMultipliers: map[string]float64{
				"7":      25,
				"BAR":    12,
				"BELL":   8,
				"CHERRY": 6,
				"LEMON":  4,
				"ORANGE": 3,
				"PLUM":   2,
				"GRAPES": 1.5,
			},
		},
		{
			GameType:           domain.GameCrash,
			HouseEdge:          c.Games.CrashHouseEdge,
			MinStake:           c.Games.MinStake,
			MaxStake:           c.Games.MaxStake,
			MaxCrashMultiplier: c.Games.MaxCrashMultiplier,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
