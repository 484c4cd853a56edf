package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/betledger/internal/domain"
	"github.com/alexbotov/betledger/internal/ledger"
)

const totalsKey = "totals"

// AccountStore implements ledger.Store and ledger.TotalsStore
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db.DB}
}

func (s *AccountStore) GetAccount(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	acct := &domain.Account{Address: addr}
	err := s.db.QueryRowContext(ctx, `
		SELECT balance, pending_bet, updated_at FROM accounts WHERE address = $1
	`, string(addr)).Scan(&acct.Balance, &acct.PendingBet, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acct, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

func (s *AccountStore) SaveAccount(ctx context.Context, acct *domain.Account) error {
	updatedAt := acct.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (address, balance, pending_bet, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE
		SET balance = EXCLUDED.balance, pending_bet = EXCLUDED.pending_bet, updated_at = EXCLUDED.updated_at
	`, string(acct.Address), acct.Balance, acct.PendingBet, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *AccountStore) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, balance, pending_bet, updated_at FROM accounts ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		var acct domain.Account
		var addr string
		if err := rows.Scan(&addr, &acct.Balance, &acct.PendingBet, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		acct.Address = domain.Address(addr)
		accounts = append(accounts, &acct)
	}
	return accounts, rows.Err()
}

// LoadTotals reads the running totals; a fresh database reads as zero
func (s *AccountStore) LoadTotals(ctx context.Context) (ledger.Totals, error) {
	var totals ledger.Totals
	value, ok, err := getState(ctx, s.db, totalsKey)
	if err != nil || !ok {
		return totals, err
	}
	if err := json.Unmarshal([]byte(value), &totals); err != nil {
		return totals, fmt.Errorf("failed to decode totals: %w", err)
	}
	return totals, nil
}

func (s *AccountStore) SaveTotals(ctx context.Context, totals ledger.Totals) error {
	data, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	return setState(ctx, s.db, totalsKey, string(data), "")
}

// RoleStore implements access.Store
type RoleStore struct {
	db *sql.DB
}

func NewRoleStore(db *DB) *RoleStore {
	return &RoleStore{db: db.DB}
}

func (s *RoleStore) AddMember(ctx context.Context, kind string, addr, by domain.Address) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_members (kind, address, added_by, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, address) DO NOTHING
	`, kind, string(addr), nullString(string(by)), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", kind, err)
	}
	return nil
}

func (s *RoleStore) RemoveMember(ctx context.Context, kind string, addr domain.Address) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM role_members WHERE kind = $1 AND address = $2
	`, kind, string(addr))
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", kind, err)
	}
	return nil
}

// ListMembers returns members in insertion order
func (s *RoleStore) ListMembers(ctx context.Context, kind string) ([]domain.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address FROM role_members WHERE kind = $1 ORDER BY position
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var members []domain.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		members = append(members, domain.Address(addr))
	}
	return members, rows.Err()
}

// StateStore implements control.StateStore over system_state
type StateStore struct {
	db *sql.DB
}

func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db.DB}
}

func (s *StateStore) SetState(ctx context.Context, key, value string, updatedBy domain.Address) error {
	return setState(ctx, s.db, key, value, updatedBy)
}

func (s *StateStore) GetState(ctx context.Context, key string) (string, bool, error) {
	return getState(ctx, s.db, key)
}

func setState(ctx context.Context, db *sql.DB, key, value string, updatedBy domain.Address) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
	`, key, value, nullString(string(updatedBy)), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func getState(ctx context.Context, db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM system_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
