package walletclient

import (
	"encoding/json"
	"time"

	"github.com/pitboss/gse/internal/domain"
)

// Error codes returned by the wallet API
const (
	ErrCodeUnexpectedError     = "UNEXPECTED_ERROR"
	ErrCodeNotAuthorized       = "NOT_AUTHORIZED"
	ErrCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeVersionConflict     = "VERSION_CONFLICT"
	ErrCodeDuplicateBet        = "BET_ALREADY_EXISTS"
)

// APIError represents an error response from the API
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Response wraps the API response with either result or error
type Response[T any] struct {
	Result *T        `json:"result,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// BalanceRequest is the request body for /balance
type BalanceRequest struct {
	AccountID string `json:"accountId"`
}

// BalanceResult is the result of a balance query
type BalanceResult struct {
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
	Version  int64  `json:"version"`
	Banned   bool   `json:"banned"`
}

// AdjustRequest is the request body for /adjust: a compare-and-set
// balance change guarded by the version read earlier.
type AdjustRequest struct {
	AccountID       string `json:"accountId"`
	Delta           int64  `json:"delta"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

// AdjustResult is the result of a successful adjustment
type AdjustResult struct {
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
	Version  int64  `json:"version"`
}

// SettleRequest is the request body for /settle. BetID doubles as the
// idempotency key; replaying a settled bet is a no-op on the wallet.
type SettleRequest struct {
	BetID         string          `json:"betId"`
	AccountID     string          `json:"accountId"`
	GameType      string          `json:"gameType"`
	Stake         int64           `json:"stake"`
	Payout        int64           `json:"payout"`
	Currency      string          `json:"currency"`
	Outcome       json.RawMessage `json:"outcome,omitempty"`
	BalanceBefore int64           `json:"balanceBefore"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SettleResult is the result of a settlement
type SettleResult struct {
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
	Version  int64  `json:"version"`
}

// BetsRequest is the request body for /bets
type BetsRequest struct {
	AccountID string `json:"accountId"`
	Limit     int    `json:"limit"`
}

// BetsResult is the result of a bet history query
type BetsResult struct {
	Bets []*domain.Bet `json:"bets"`
}
