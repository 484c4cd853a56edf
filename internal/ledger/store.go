package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/alexbotov/betledger/internal/domain"
)

// Store persists accounts. GetAccount returns a zero account for unknown
// addresses.
type Store interface {
	GetAccount(ctx context.Context, addr domain.Address) (*domain.Account, error)
	SaveAccount(ctx context.Context, account *domain.Account) error
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
}

// TotalsStore is implemented by stores that persist the running totals
type TotalsStore interface {
	LoadTotals(ctx context.Context) (Totals, error)
	SaveTotals(ctx context.Context, totals Totals) error
}

// MemoryStore keeps accounts in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[domain.Address]domain.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[domain.Address]domain.Account)}
}

func (m *MemoryStore) GetAccount(_ context.Context, addr domain.Address) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[addr]
	if !ok {
		return &domain.Account{Address: addr}, nil
	}
	return &acct, nil
}

func (m *MemoryStore) SaveAccount(_ context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Address] = *account
	return nil
}

// ListAccounts returns all accounts ordered by address
func (m *MemoryStore) ListAccounts(_ context.Context) ([]*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*domain.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		acct := acct
		result = append(result, &acct)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})
	return result, nil
}
