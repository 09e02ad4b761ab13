package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/pitboss/gse/internal/audit"
	"github.com/pitboss/gse/internal/crash"
	"github.com/pitboss/gse/internal/domain"
	"github.com/pitboss/gse/internal/rng"
	"github.com/pitboss/gse/internal/settle"
	"github.com/pitboss/gse/internal/store"
)

const testSecret = "test-secret"

func newTestHandler(t *testing.T) (*Handler, *store.MemoryStore) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st := store.NewMemoryStore()
	auditSvc := audit.New(nil, log)

	configs := []*domain.GameConfig{
		{
			GameType:  domain.GameDice,
			HouseEdge: 0.01,
			MinStake:  domain.Money{Amount: 10, Currency: "USD"},
			MaxStake:  domain.Money{Amount: 100000, Currency: "USD"},
		},
		{
			GameType:           domain.GameCrash,
			HouseEdge:          0.01,
			MinStake:           domain.Money{Amount: 10, Currency: "USD"},
			MaxStake:           domain.Money{Amount: 100000, Currency: "USD"},
			MaxCrashMultiplier: 10000,
		},
	}

	coord, err := settle.New(st, rng.New(), auditSvc, log, configs)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	engine, err := crash.New(coord, auditSvc, log, crash.Options{
		TickInterval:  time.Millisecond,
		BettingWindow: time.Hour,
		CrashedPause:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create crash engine: %v", err)
	}

	return New(coord, engine, auditSvc, testSecret, log), st
}

func signToken(t *testing.T, accountID, role string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var resp struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v (%s)", err, rec.Body.String())
	}
	return resp.Data
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.SetupRouter()

	rec := doRequest(t, router, "GET", "/health", "", nil)

	// The statistical self-test has a small false-alarm rate, so only
	// the response shape is pinned here.
	if rec.Code != http.StatusOK && rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 200 or 503, got %d: %s", rec.Code, rec.Body.String())
	}

	data := decodeData(t, rec)
	if data["status"] != "healthy" && data["status"] != "degraded" {
		t.Errorf("Unexpected status %v", data["status"])
	}
	if _, ok := data["rng_status"]; !ok {
		t.Error("Missing rng_status")
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.SetupRouter()

	t.Run("MissingToken", func(t *testing.T) {
		rec := doRequest(t, router, "GET", "/api/v1/wallet/balance", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("GarbageToken", func(t *testing.T) {
		rec := doRequest(t, router, "GET", "/api/v1/wallet/balance", "not-a-jwt", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "acct-1"})
		signed, _ := token.SignedString([]byte("other-secret"))
		rec := doRequest(t, router, "GET", "/api/v1/wallet/balance", signed, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})
}

func TestGetBalance(t *testing.T) {
	h, st := newTestHandler(t)
	st.CreateAccount(context.Background(), "acct-1", domain.Money{Amount: 12345, Currency: "USD"})
	router := h.SetupRouter()

	rec := doRequest(t, router, "GET", "/api/v1/wallet/balance", signToken(t, "acct-1", ""), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	data := decodeData(t, rec)
	if data["balance"].(float64) != 123.45 {
		t.Errorf("Expected balance 123.45, got %v", data["balance"])
	}
}

func TestPlayEndpoint(t *testing.T) {
	h, st := newTestHandler(t)
	st.CreateAccount(context.Background(), "acct-1", domain.Money{Amount: 10000, Currency: "USD"})
	router := h.SetupRouter()
	token := signToken(t, "acct-1", "")

	t.Run("DicePlay", func(t *testing.T) {
		rec := doRequest(t, router, "POST", "/api/v1/games/play", token, PlayRequest{
			GameType:  domain.GameDice,
			Stake:     1.00,
			Target:    50,
			Direction: domain.DiceOver,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		data := decodeData(t, rec)
		if data["bet_id"] == "" {
			t.Error("Missing bet_id")
		}
		if data["stake"].(float64) != 1.00 {
			t.Errorf("Expected stake 1.00, got %v", data["stake"])
		}
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		rec := doRequest(t, router, "POST", "/api/v1/games/play", token, PlayRequest{
			GameType:  domain.GameDice,
			Stake:     1000.00,
			Target:    50,
			Direction: domain.DiceOver,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("UnknownGame", func(t *testing.T) {
		rec := doRequest(t, router, "POST", "/api/v1/games/play", token, PlayRequest{
			GameType: domain.GameType("roulette"),
			Stake:    1.00,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})

	t.Run("BetHistory", func(t *testing.T) {
		rec := doRequest(t, router, "GET", "/api/v1/bets", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
	})
}

func TestAdminRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.SetupRouter()

	t.Run("ForbiddenForPlayers", func(t *testing.T) {
		rec := doRequest(t, router, "POST", "/api/v1/admin/gaming", signToken(t, "acct-1", ""), map[string]interface{}{
			"enabled": false, "reason": "test",
		})
		if rec.Code != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", rec.Code)
		}
	})

	t.Run("KillSwitch", func(t *testing.T) {
		token := signToken(t, "operator-1", "admin")

		rec := doRequest(t, router, "POST", "/api/v1/admin/gaming", token, map[string]interface{}{
			"enabled": false, "reason": "maintenance",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		data := decodeData(t, rec)
		if data["gaming_enabled"].(bool) {
			t.Error("Expected gaming disabled")
		}

		// Plays are rejected while disabled.
		playRec := doRequest(t, router, "POST", "/api/v1/games/play", signToken(t, "acct-1", ""), PlayRequest{
			GameType: domain.GameDice, Stake: 1.00, Target: 50, Direction: domain.DiceOver,
		})
		if playRec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", playRec.Code)
		}
	})
}

func TestCrashRoundInfo(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.SetupRouter()

	rec := doRequest(t, router, "GET", "/api/v1/crash/round", signToken(t, "acct-1", ""), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}
