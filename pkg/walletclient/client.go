package walletclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pitboss/gse/internal/domain"
	"github.com/pitboss/gse/internal/store"
)

// Config holds the wallet API connection settings
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	RetryCount int
}

// Client is an operator wallet API client. It implements
// store.BalanceStore, so the coordinator can settle against a remote
// wallet exactly as it does against the local database.
type Client struct {
	config     *Config
	httpClient *http.Client
}

var _ store.BalanceStore = (*Client)(nil)

// New creates a new wallet API client
func New(config *Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// NewWithHTTPClient creates a new wallet API client with a custom HTTP client
func NewWithHTTPClient(config *Config, httpClient *http.Client) *Client {
	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// computeHMAC computes the HMAC-SHA256 signature for the request body
func (c *Client) computeHMAC(body []byte) string {
	h := hmac.New(sha256.New, []byte(c.config.APISecret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest performs an HTTP request with HMAC signing
func (c *Client) doRequest(ctx context.Context, endpoint string, reqBody interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.config.BaseURL + endpoint

	retryCount := c.config.RetryCount
	if retryCount == 0 {
		retryCount = 1
	}

	var resp *http.Response
	var lastErr error
	for i := 0; i < retryCount; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.config.APIKey)
		req.Header.Set("x-api-hmac", c.computeHMAC(bodyBytes))

		resp, lastErr = c.httpClient.Do(req)
		if lastErr == nil {
			break
		}
	}

	if resp == nil {
		return fmt.Errorf("request failed after %d retries: %w", retryCount, lastErr)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

// mapError translates wallet API error codes to the store sentinels.
func mapError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeAccountNotFound:
			return store.ErrAccountNotFound
		case ErrCodeInsufficientBalance:
			return store.ErrInsufficientFunds
		case ErrCodeVersionConflict:
			return store.ErrConflict
		case ErrCodeDuplicateBet:
			return store.ErrDuplicateBet
		}
	}
	return err
}

// GetBalance retrieves the account's current balance and version.
func (c *Client) GetBalance(ctx context.Context, accountID string) (store.Balance, error) {
	var resp Response[BalanceResult]
	if err := c.doRequest(ctx, "/balance", &BalanceRequest{AccountID: accountID}, &resp); err != nil {
		return store.Balance{}, err
	}
	if resp.Error != nil {
		return store.Balance{}, mapError(resp.Error)
	}

	return store.Balance{
		Amount:  domain.Money{Amount: resp.Result.Balance, Currency: resp.Result.Currency},
		Version: resp.Result.Version,
	}, nil
}

// IsBanned reports whether the account is blocked from play.
func (c *Client) IsBanned(ctx context.Context, accountID string) (bool, error) {
	var resp Response[BalanceResult]
	if err := c.doRequest(ctx, "/balance", &BalanceRequest{AccountID: accountID}, &resp); err != nil {
		return false, err
	}
	if resp.Error != nil {
		return false, mapError(resp.Error)
	}
	return resp.Result.Banned, nil
}

// AtomicAdjustBalance applies a compare-and-set balance change.
func (c *Client) AtomicAdjustBalance(ctx context.Context, accountID string, delta int64, expectedVersion int64) (store.Balance, error) {
	req := &AdjustRequest{
		AccountID:       accountID,
		Delta:           delta,
		ExpectedVersion: expectedVersion,
	}

	var resp Response[AdjustResult]
	if err := c.doRequest(ctx, "/adjust", req, &resp); err != nil {
		return store.Balance{}, err
	}
	if resp.Error != nil {
		return store.Balance{}, mapError(resp.Error)
	}

	return store.Balance{
		Amount:  domain.Money{Amount: resp.Result.Balance, Currency: resp.Result.Currency},
		Version: resp.Result.Version,
	}, nil
}

// AppendBetRecord records a bet on the wallet ledger.
func (c *Client) AppendBetRecord(ctx context.Context, bet *domain.Bet) (string, error) {
	var resp Response[SettleResult]
	if err := c.doRequest(ctx, "/bets/append", settleRequestFromBet(bet), &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", mapError(resp.Error)
	}
	return bet.ID, nil
}

// CreditSettlement atomically credits the payout and records the bet.
// A replayed bet ID returns the current balance without crediting
// again, matching the local stores.
func (c *Client) CreditSettlement(ctx context.Context, bet *domain.Bet) (store.Balance, error) {
	var resp Response[SettleResult]
	if err := c.doRequest(ctx, "/settle", settleRequestFromBet(bet), &resp); err != nil {
		return store.Balance{}, err
	}
	if resp.Error != nil {
		if mapped := mapError(resp.Error); errors.Is(mapped, store.ErrDuplicateBet) {
			return c.GetBalance(ctx, bet.AccountID)
		}
		return store.Balance{}, mapError(resp.Error)
	}

	return store.Balance{
		Amount:  domain.Money{Amount: resp.Result.Balance, Currency: resp.Result.Currency},
		Version: resp.Result.Version,
	}, nil
}

// GetBets returns recent bet records for an account.
func (c *Client) GetBets(ctx context.Context, accountID string, limit int) ([]*domain.Bet, error) {
	var resp Response[BetsResult]
	if err := c.doRequest(ctx, "/bets", &BetsRequest{AccountID: accountID, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, mapError(resp.Error)
	}
	return resp.Result.Bets, nil
}

func settleRequestFromBet(bet *domain.Bet) *SettleRequest {
	return &SettleRequest{
		BetID:         bet.ID,
		AccountID:     bet.AccountID,
		GameType:      string(bet.GameType),
		Stake:         bet.Stake.Amount,
		Payout:        bet.Payout.Amount,
		Currency:      bet.Stake.Currency,
		Outcome:       bet.Outcome,
		BalanceBefore: bet.BalanceBefore.Amount,
		CreatedAt:     bet.CreatedAt,
	}
}
