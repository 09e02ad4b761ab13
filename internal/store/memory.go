package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pitboss/gse/internal/domain"
)

// MemoryStore is an in-process BalanceStore used by tests and by the
// concurrency property suite. It honors the same CAS and idempotency
// contract as the Postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*memAccount
	bets     map[string]*domain.Bet
}

type memAccount struct {
	balance domain.Money
	version int64
	banned  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*memAccount),
		bets:     make(map[string]*domain.Bet),
	}
}

// CreateAccount provisions an account with an initial balance.
func (s *MemoryStore) CreateAccount(ctx context.Context, accountID string, initial domain.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[accountID] = &memAccount{balance: initial, version: 1}
	return nil
}

// SetBanned flips the soft-ban flag.
func (s *MemoryStore) SetBanned(ctx context.Context, accountID string, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.banned = banned
	return nil
}

func (s *MemoryStore) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return Balance{}, ErrAccountNotFound
	}
	return Balance{Amount: acct.balance, Version: acct.version}, nil
}

func (s *MemoryStore) IsBanned(ctx context.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return false, ErrAccountNotFound
	}
	return acct.banned, nil
}

func (s *MemoryStore) AtomicAdjustBalance(ctx context.Context, accountID string, delta int64, expectedVersion int64) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return Balance{}, ErrAccountNotFound
	}
	if acct.version != expectedVersion {
		return Balance{}, ErrConflict
	}
	if acct.balance.Amount+delta < 0 {
		return Balance{}, ErrInsufficientFunds
	}

	acct.balance.Amount += delta
	acct.version++
	return Balance{Amount: acct.balance, Version: acct.version}, nil
}

func (s *MemoryStore) AppendBetRecord(ctx context.Context, bet *domain.Bet) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bets[bet.ID]; exists {
		return bet.ID, ErrDuplicateBet
	}

	stored := *bet
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.bets[bet.ID] = &stored
	return bet.ID, nil
}

func (s *MemoryStore) CreditSettlement(ctx context.Context, bet *domain.Bet) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[bet.AccountID]
	if !ok {
		return Balance{}, ErrAccountNotFound
	}

	// Already settled: the retry must not credit again.
	if _, exists := s.bets[bet.ID]; exists {
		return Balance{Amount: acct.balance, Version: acct.version}, nil
	}

	if bet.Payout.Amount > 0 {
		acct.balance.Amount += bet.Payout.Amount
		acct.version++
	}

	stored := *bet
	stored.BalanceAfter = acct.balance
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.bets[bet.ID] = &stored

	return Balance{Amount: acct.balance, Version: acct.version}, nil
}

func (s *MemoryStore) GetBets(ctx context.Context, accountID string, limit int) ([]*domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bets []*domain.Bet
	for _, b := range s.bets {
		if b.AccountID == accountID {
			bets = append(bets, b)
		}
	}
	sort.Slice(bets, func(i, j int) bool {
		return bets[i].CreatedAt.After(bets[j].CreatedAt)
	})
	if limit > 0 && len(bets) > limit {
		bets = bets[:limit]
	}
	return bets, nil
}
