// Package database provides database access for the settlement engine
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Migrate creates all required tables
func (db *DB) Migrate() error {
	schema := `
	-- Accounts: the balance of record plus the optimistic-lock version.
	CREATE TABLE IF NOT EXISTS accounts (
		id VARCHAR(255) PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		currency VARCHAR(3) NOT NULL DEFAULT 'USD',
		version BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CONSTRAINT balance_non_negative CHECK (balance >= 0)
	);

	-- Bets: the immutable settlement ledger. The primary key doubles as
	-- the settlement idempotency key.
	CREATE TABLE IF NOT EXISTS bets (
		id UUID PRIMARY KEY,
		account_id VARCHAR(255) NOT NULL REFERENCES accounts(id),
		game_type VARCHAR(50) NOT NULL,
		stake BIGINT NOT NULL,
		payout BIGINT NOT NULL DEFAULT 0,
		currency VARCHAR(3) NOT NULL,
		outcome JSONB,
		status VARCHAR(50) NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	-- Audit Events: significant-event trail.
	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		type VARCHAR(100) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		account_id VARCHAR(255),
		bet_id UUID,
		description TEXT NOT NULL,
		data JSONB,
		component VARCHAR(100) NOT NULL
	);

	-- Indexes for performance
	CREATE INDEX IF NOT EXISTS idx_bets_account ON bets(account_id);
	CREATE INDEX IF NOT EXISTS idx_bets_created ON bets(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_account ON audit_events(account_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Reset drops all tables (for testing)
func (db *DB) Reset() error {
	_, err := db.Exec(`
		DROP TABLE IF EXISTS audit_events CASCADE;
		DROP TABLE IF EXISTS bets CASCADE;
		DROP TABLE IF EXISTS accounts CASCADE;
	`)
	return err
}

// CleanData truncates all tables without dropping them (for testing)
func (db *DB) CleanData() error {
	_, err := db.Exec(`
		TRUNCATE TABLE audit_events, bets, accounts CASCADE;
	`)
	return err
}
