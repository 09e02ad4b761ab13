package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pitboss/gse/internal/domain"
)

// PostgresStore implements BalanceStore on top of database/sql. The
// debit/credit path relies on single-statement compare-and-set updates
// guarded by the account version column; the settlement path runs in
// one transaction keyed by the bet ID so retries are idempotent.
type PostgresStore struct {
	db       *sql.DB
	currency string
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB, currency string) *PostgresStore {
	return &PostgresStore{db: db, currency: currency}
}

// CreateAccount provisions an account with an initial balance.
func (s *PostgresStore) CreateAccount(ctx context.Context, accountID string, initial domain.Money) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, currency, version, status, created_at, updated_at)
		VALUES ($1, $2, $3, 1, 'active', $4, $4)
	`, accountID, initial.Amount, initial.Currency, now)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// SetBanned flips the soft-ban flag. Accounts are never deleted.
func (s *PostgresStore) SetBanned(ctx context.Context, accountID string, banned bool) error {
	status := domain.AccountStatusActive
	if banned {
		status = domain.AccountStatusBanned
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	var amount, version int64
	var currency string

	err := s.db.QueryRowContext(ctx, `
		SELECT balance, currency, version FROM accounts WHERE id = $1
	`, accountID).Scan(&amount, &currency, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrAccountNotFound
		}
		return Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}

	return Balance{
		Amount:  domain.Money{Amount: amount, Currency: currency},
		Version: version,
	}, nil
}

func (s *PostgresStore) IsBanned(ctx context.Context, accountID string) (bool, error) {
	var status domain.AccountStatus

	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM accounts WHERE id = $1
	`, accountID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("failed to get account status: %w", err)
	}

	return status == domain.AccountStatusBanned, nil
}

// AtomicAdjustBalance is a single guarded UPDATE: the version check
// serializes concurrent plays on one account and the balance guard
// keeps the non-negative invariant inside the statement itself.
func (s *PostgresStore) AtomicAdjustBalance(ctx context.Context, accountID string, delta int64, expectedVersion int64) (Balance, error) {
	var amount, version int64
	var currency string

	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND balance + $1 >= 0
		RETURNING balance, currency, version
	`, delta, time.Now().UTC(), accountID, expectedVersion).Scan(&amount, &currency, &version)
	if err == nil {
		return Balance{
			Amount:  domain.Money{Amount: amount, Currency: currency},
			Version: version,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Balance{}, fmt.Errorf("failed to adjust balance: %w", err)
	}

	// No row matched: distinguish a stale version from a shortfall.
	current, getErr := s.GetBalance(ctx, accountID)
	if getErr != nil {
		return Balance{}, getErr
	}
	if current.Version != expectedVersion {
		return Balance{}, ErrConflict
	}
	return Balance{}, ErrInsufficientFunds
}

func (s *PostgresStore) AppendBetRecord(ctx context.Context, bet *domain.Bet) (string, error) {
	if err := s.insertBet(ctx, s.db, bet); err != nil {
		return "", err
	}
	return bet.ID, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *PostgresStore) insertBet(ctx context.Context, db execer, bet *domain.Bet) error {
	createdAt := bet.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO bets (id, account_id, game_type, stake, payout, currency, outcome, status, balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, bet.ID, bet.AccountID, bet.GameType, bet.Stake.Amount, bet.Payout.Amount, bet.Stake.Currency,
		string(bet.Outcome), bet.Status, bet.BalanceBefore.Amount, bet.BalanceAfter.Amount, createdAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return ErrDuplicateBet
		}
		return fmt.Errorf("failed to append bet record: %w", err)
	}
	return nil
}

// CreditSettlement credits the payout and appends the bet record in one
// transaction. The bets primary key makes a retried settlement a no-op:
// the duplicate insert aborts the transaction before the second credit
// can commit.
func (s *PostgresStore) CreditSettlement(ctx context.Context, bet *domain.Bet) (Balance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertBet(ctx, tx, bet); err != nil {
		if errors.Is(err, ErrDuplicateBet) {
			// Already settled by an earlier attempt.
			return s.GetBalance(ctx, bet.AccountID)
		}
		return Balance{}, err
	}

	var amount, version int64
	var currency string
	err = tx.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = $2
		WHERE id = $3
		RETURNING balance, currency, version
	`, bet.Payout.Amount, time.Now().UTC(), bet.AccountID).Scan(&amount, &currency, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrAccountNotFound
		}
		return Balance{}, fmt.Errorf("failed to credit settlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Balance{}, fmt.Errorf("failed to commit settlement: %w", err)
	}

	return Balance{
		Amount:  domain.Money{Amount: amount, Currency: currency},
		Version: version,
	}, nil
}

func (s *PostgresStore) GetBets(ctx context.Context, accountID string, limit int) ([]*domain.Bet, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, game_type, stake, payout, currency, outcome, status, balance_before, balance_after, created_at
		FROM bets WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bets: %w", err)
	}
	defer rows.Close()

	var bets []*domain.Bet
	for rows.Next() {
		var bet domain.Bet
		var stake, payout, balBefore, balAfter int64
		var currency, outcome string

		err := rows.Scan(&bet.ID, &bet.AccountID, &bet.GameType, &stake, &payout, &currency,
			&outcome, &bet.Status, &balBefore, &balAfter, &bet.CreatedAt)
		if err != nil {
			return nil, err
		}

		bet.Stake = domain.Money{Amount: stake, Currency: currency}
		bet.Payout = domain.Money{Amount: payout, Currency: currency}
		bet.BalanceBefore = domain.Money{Amount: balBefore, Currency: currency}
		bet.BalanceAfter = domain.Money{Amount: balAfter, Currency: currency}
		bet.Outcome = []byte(outcome)

		bets = append(bets, &bet)
	}

	return bets, rows.Err()
}
