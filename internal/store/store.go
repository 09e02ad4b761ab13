// Package store defines the balance store capability consumed by the
// settlement coordinator. The coordinator never imports a concrete
// persistence SDK; any backend that can do an atomic compare-and-set
// on a balance and an idempotent ledger append can sit behind this
// interface.
package store

import (
	"context"
	"errors"

	"github.com/pitboss/gse/internal/domain"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConflict signals a concurrent mutation raced the caller's
	// read; the caller re-reads and retries.
	ErrConflict = errors.New("balance version conflict")
	// ErrDuplicateBet signals the bet record already exists. Settlement
	// retries treat it as success.
	ErrDuplicateBet = errors.New("bet already recorded")
)

// Balance is a point-in-time read of an account balance together with
// the optimistic concurrency version that guarded it.
type Balance struct {
	Amount  domain.Money
	Version int64
}

// BalanceStore is the narrow capability interface over the external
// persistence/identity collaborator. Account balance is the only
// mutable shared resource; it is owned by the store and reached only
// through these atomic primitives. The engine never caches a writable
// balance across requests.
type BalanceStore interface {
	// GetBalance returns the current balance and its version.
	GetBalance(ctx context.Context, accountID string) (Balance, error)

	// IsBanned reports whether the account is soft-banned.
	IsBanned(ctx context.Context, accountID string) (bool, error)

	// AtomicAdjustBalance applies delta to the balance if and only if
	// the stored version still equals expectedVersion and the resulting
	// balance is non-negative. Returns ErrConflict on a version race and
	// ErrInsufficientFunds when the delta would drive the balance
	// negative.
	AtomicAdjustBalance(ctx context.Context, accountID string, delta int64, expectedVersion int64) (Balance, error)

	// AppendBetRecord appends an immutable bet record to the ledger.
	// Returns ErrDuplicateBet if the bet ID was already recorded.
	AppendBetRecord(ctx context.Context, bet *domain.Bet) (string, error)

	// CreditSettlement credits bet.Payout and appends the bet record as
	// one atomic operation, idempotent on bet.ID: retrying after a
	// partial failure never double-credits. Returns the balance after
	// settlement.
	CreditSettlement(ctx context.Context, bet *domain.Bet) (Balance, error)

	// GetBets returns the most recent bet records for an account.
	GetBets(ctx context.Context, accountID string, limit int) ([]*domain.Bet, error)
}

// AccountAdmin is the administrative surface used by provisioning and
// tests, outside the settlement path.
type AccountAdmin interface {
	CreateAccount(ctx context.Context, accountID string, initial domain.Money) error
	SetBanned(ctx context.Context, accountID string, banned bool) error
}
