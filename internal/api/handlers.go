// Package api provides HTTP API handlers for the settlement engine
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pitboss/gse/internal/audit"
	"github.com/pitboss/gse/internal/crash"
	"github.com/pitboss/gse/internal/domain"
	"github.com/pitboss/gse/internal/settle"
)

// Handler contains all HTTP handlers
type Handler struct {
	coord     *settle.Coordinator
	crash     *crash.Engine
	audit     *audit.Service
	jwtSecret []byte
	log       *logrus.Logger
}

// New creates a new API handler
func New(coord *settle.Coordinator, crashEngine *crash.Engine, auditSvc *audit.Service, jwtSecret string, log *logrus.Logger) *Handler {
	return &Handler{
		coord:     coord,
		crash:     crashEngine,
		audit:     auditSvc,
		jwtSecret: []byte(jwtSecret),
		log:       log,
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondPlayError maps coordinator errors onto the API error taxonomy.
// Rejections are client errors; a settlement failure is the one case
// where money moved and the caller must not simply retry.
func respondPlayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settle.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
	case errors.Is(err, settle.ErrAccountBanned):
		respondError(w, http.StatusForbidden, "ACCOUNT_BANNED", "Account is banned")
	case errors.Is(err, settle.ErrInsufficientFunds):
		respondError(w, http.StatusBadRequest, "INSUFFICIENT_FUNDS", "Insufficient funds")
	case errors.Is(err, settle.ErrInvalidStake):
		respondError(w, http.StatusBadRequest, "INVALID_STAKE", err.Error())
	case errors.Is(err, settle.ErrUnknownGame):
		respondError(w, http.StatusBadRequest, "UNKNOWN_GAME", "Unknown game type")
	case errors.Is(err, settle.ErrGamingDisabled):
		respondError(w, http.StatusServiceUnavailable, "GAMING_DISABLED", "Gaming is temporarily disabled")
	case errors.Is(err, settle.ErrSettlementFailed):
		respondError(w, http.StatusInternalServerError, "BET_PENDING", "Bet is pending resolution")
	case errors.Is(err, crash.ErrBettingClosed):
		respondError(w, http.StatusConflict, "BETTING_CLOSED", "Betting is closed for this round")
	case errors.Is(err, crash.ErrAlreadyInRound):
		respondError(w, http.StatusConflict, "ALREADY_IN_ROUND", "Account already has a bet in this round")
	case errors.Is(err, crash.ErrNoActiveBet):
		respondError(w, http.StatusConflict, "NO_ACTIVE_BET", "No active bet to cash out")
	default:
		respondError(w, http.StatusInternalServerError, "GAME_ERROR", "Play failed")
	}
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	rngHealth, err := h.coord.RNG().HealthCheck()

	status := "healthy"
	httpStatus := http.StatusOK
	if err != nil || !rngHealth.Healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	respondJSON(w, httpStatus, map[string]interface{}{
		"status":         status,
		"rng_status":     rngHealth,
		"gaming_enabled": h.coord.GamingEnabled(),
	})
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "GSE",
		"version":     "1.0.0",
		"description": "Game Outcome & Settlement Engine",
	})
}

// === Games ===

// GetGames handles GET /api/v1/games
func (h *Handler) GetGames(w http.ResponseWriter, r *http.Request) {
	configs := h.coord.Configs()

	gameList := make([]map[string]interface{}, len(configs))
	for i, cfg := range configs {
		gameList[i] = map[string]interface{}{
			"game_type":       cfg.GameType,
			"theoretical_rtp": cfg.RTP(),
			"min_stake":       cfg.MinStake.Float64(),
			"max_stake":       cfg.MaxStake.Float64(),
			"currency":        cfg.MinStake.Currency,
		}
	}

	respondJSON(w, http.StatusOK, gameList)
}

// PlayRequest is the body of POST /api/v1/games/play.
type PlayRequest struct {
	GameType  domain.GameType      `json:"game_type"`
	Stake     float64              `json:"stake"`
	Target    int                  `json:"target,omitempty"`
	Direction domain.DiceDirection `json:"direction,omitempty"`
}

// Play handles POST /api/v1/games/play for the one-shot games.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	accountID := r.Context().Value("account_id").(string)

	var req PlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Stake <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_STAKE", "Stake must be positive")
		return
	}

	cfg, err := h.coord.Config(req.GameType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "UNKNOWN_GAME", "Unknown game type")
		return
	}

	stake := domain.NewMoney(req.Stake, cfg.MinStake.Currency)
	result, err := h.coord.Play(r.Context(), accountID, req.GameType, stake, settle.PlayParams{
		Target:    req.Target,
		Direction: req.Direction,
	})
	if err != nil {
		respondPlayError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bet_id":  result.Bet.ID,
		"outcome": result.Bet.Outcome,
		"stake":   result.Bet.Stake.Float64(),
		"payout":  result.Bet.Payout.Float64(),
		"balance": result.NewBalance.Float64(),
	})
}

// GetBetHistory handles GET /api/v1/bets
func (h *Handler) GetBetHistory(w http.ResponseWriter, r *http.Request) {
	accountID := r.Context().Value("account_id").(string)

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	bets, err := h.coord.GetBets(r.Context(), accountID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "HISTORY_ERROR", "Failed to get bet history")
		return
	}

	betList := make([]map[string]interface{}, len(bets))
	for i, b := range bets {
		betList[i] = map[string]interface{}{
			"bet_id":         b.ID,
			"game_type":      b.GameType,
			"stake":          b.Stake.Float64(),
			"payout":         b.Payout.Float64(),
			"outcome":        b.Outcome,
			"status":         b.Status,
			"balance_before": b.BalanceBefore.Float64(),
			"balance_after":  b.BalanceAfter.Float64(),
			"created_at":     b.CreatedAt,
		}
	}

	respondJSON(w, http.StatusOK, betList)
}

// === Wallet ===

// GetBalance handles GET /api/v1/wallet/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := r.Context().Value("account_id").(string)

	balance, err := h.coord.GetBalance(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, settle.ErrAccountNotFound) {
			respondError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "BALANCE_ERROR", "Failed to get balance")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"balance":  balance.Float64(),
		"currency": balance.Currency,
	})
}

// === Crash ===

// GetCrashRound handles GET /api/v1/crash/round
func (h *Handler) GetCrashRound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.crash.Info())
}

// CrashBet handles POST /api/v1/crash/bet
func (h *Handler) CrashBet(w http.ResponseWriter, r *http.Request) {
	accountID := r.Context().Value("account_id").(string)

	var req struct {
		Stake       float64 `json:"stake"`
		AutoCashout float64 `json:"auto_cashout,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Stake <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_STAKE", "Stake must be positive")
		return
	}

	cfg, err := h.coord.Config(domain.GameCrash)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "UNKNOWN_GAME", "Crash is not available")
		return
	}

	stake := domain.NewMoney(req.Stake, cfg.MinStake.Currency)
	betID, err := h.crash.PlaceBet(r.Context(), accountID, stake, req.AutoCashout)
	if err != nil {
		respondPlayError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"bet_id":       betID,
		"round_id":     h.crash.Info().RoundID,
		"stake":        stake.Float64(),
		"auto_cashout": req.AutoCashout,
	})
}

// CrashCashout handles POST /api/v1/crash/cashout
func (h *Handler) CrashCashout(w http.ResponseWriter, r *http.Request) {
	accountID := r.Context().Value("account_id").(string)

	result, err := h.crash.Cashout(r.Context(), accountID)
	if err != nil {
		respondPlayError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bet_id":  result.Bet.ID,
		"outcome": result.Bet.Outcome,
		"payout":  result.Bet.Payout.Float64(),
		"balance": result.NewBalance.Float64(),
	})
}

// === Admin ===

// SetGaming handles POST /api/v1/admin/gaming: the operator kill switch.
func (h *Handler) SetGaming(w http.ResponseWriter, r *http.Request) {
	accountID := r.Context().Value("account_id").(string)

	var req struct {
		Enabled bool   `json:"enabled"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	h.coord.SetGamingEnabled(r.Context(), req.Enabled, accountID, req.Reason)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"gaming_enabled": h.coord.GamingEnabled(),
	})
}

// GetAuditEvents handles GET /api/v1/admin/audit
func (h *Handler) GetAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter := &audit.EventFilter{Limit: 100}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	if et := r.URL.Query().Get("type"); et != "" {
		filter.Type = et
	}
	if acct := r.URL.Query().Get("account_id"); acct != "" {
		filter.AccountID = acct
	}

	events, err := h.audit.GetEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "AUDIT_ERROR", "Failed to get audit events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}
