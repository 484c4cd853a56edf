// Package database provides Postgres persistence for the ledger
package database

import (
	"context"
	"database/sql"
	"fmt"

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

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Health pings the database
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Migrate creates all required tables
func (db *DB) Migrate() error {
	schema := `
	-- Ledger accounts
	CREATE TABLE IF NOT EXISTS accounts (
		address VARCHAR(42) PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		pending_bet BIGINT NOT NULL DEFAULT 0 CHECK (pending_bet >= 0),
		updated_at TIMESTAMP NOT NULL
	);

	-- Admins, operators and blacklisted addresses
	CREATE TABLE IF NOT EXISTS role_members (
		kind VARCHAR(20) NOT NULL,
		address VARCHAR(42) NOT NULL,
		added_by VARCHAR(42),
		added_at TIMESTAMP NOT NULL,
		position BIGSERIAL,
		PRIMARY KEY (kind, address)
	);

	-- Pause switch, fee configuration and running totals
	CREATE TABLE IF NOT EXISTS system_state (
		key VARCHAR(100) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_by VARCHAR(42),
		updated_at TIMESTAMP NOT NULL
	);

	-- Audit log
	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		sequence BIGINT UNIQUE NOT NULL,
		type VARCHAR(100) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		actor VARCHAR(42),
		subject VARCHAR(42),
		description TEXT NOT NULL,
		data JSONB,
		component VARCHAR(100) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_role_members_position ON role_members(kind, position);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor);
	CREATE INDEX IF NOT EXISTS idx_audit_events_subject ON audit_events(subject);
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
		DROP TABLE IF EXISTS system_state CASCADE;
		DROP TABLE IF EXISTS role_members CASCADE;
		DROP TABLE IF EXISTS accounts CASCADE;
	`)
	return err
}

// CleanData truncates all tables without dropping them (for testing)
func (db *DB) CleanData() error {
	_, err := db.Exec(`
		TRUNCATE TABLE audit_events, system_state, role_members, accounts CASCADE;
	`)
	return err
}
