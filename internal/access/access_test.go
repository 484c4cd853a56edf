package access

import (
	"context"
	"errors"
	"testing"

	"github.com/alexbotov/betledger/internal/audit"
	"github.com/alexbotov/betledger/internal/domain"
)

var (
	admin    = domain.MustParseAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	operator = domain.MustParseAddress("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
	user     = domain.MustParseAddress("0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb")
	other    = domain.MustParseAddress("0xd1220a0cf47c7b9be7a2e6ba89f429762e7b9adb")
)

// memoryStore is a Store that records membership in maps
type memoryStore struct {
	members map[string][]domain.Address
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{members: make(map[string][]domain.Address)}
}

func (m *memoryStore) AddMember(_ context.Context, kind string, addr, _ domain.Address) error {
	if m.err != nil {
		return m.err
	}
	m.members[kind] = append(m.members[kind], addr)
	return nil
}

func (m *memoryStore) RemoveMember(_ context.Context, kind string, addr domain.Address) error {
	if m.err != nil {
		return m.err
	}
	list := m.members[kind]
	for i, a := range list {
		if a == addr {
			m.members[kind] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memoryStore) ListMembers(_ context.Context, kind string) ([]domain.Address, error) {
	return m.members[kind], nil
}

func setupTestAccess(t *testing.T) (*Service, *audit.MemoryStore) {
	t.Helper()

	events := audit.NewMemoryStore()
	svc, err := New(audit.New(events, nil), nil, admin)
	if err != nil {
		t.Fatalf("Failed to create access service: %v", err)
	}
	if err := svc.AddOperator(context.Background(), admin, operator); err != nil {
		t.Fatalf("Failed to add operator: %v", err)
	}
	return svc, events
}

func TestOperators(t *testing.T) {
	svc, events := setupTestAccess(t)
	ctx := context.Background()

	t.Run("AdminAddsOperator", func(t *testing.T) {
		if !svc.IsOperator(operator) {
			t.Error("Operator should be registered")
		}
		if events.Len() != 1 {
			t.Errorf("Expected 1 event, got %d", events.Len())
		}
	})

	t.Run("DuplicateFails", func(t *testing.T) {
		if err := svc.AddOperator(ctx, admin, operator); err != ErrAlreadyOperator {
			t.Errorf("Expected ErrAlreadyOperator, got %v", err)
		}
	})

	t.Run("OperatorCannotAddOperator", func(t *testing.T) {
		if err := svc.AddOperator(ctx, operator, other); err != ErrUnauthorized {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("RemoveNonMemberFails", func(t *testing.T) {
		if err := svc.RemoveOperator(ctx, admin, other); err != ErrNotOperator {
			t.Errorf("Expected ErrNotOperator, got %v", err)
		}
	})

	t.Run("StableOrder", func(t *testing.T) {
		svc.AddOperator(ctx, admin, other)
		svc.AddOperator(ctx, admin, user)

		list := svc.Operators()
		want := []domain.Address{operator, other, user}
		if len(list) != len(want) {
			t.Fatalf("Expected %d operators, got %d", len(want), len(list))
		}
		for i := range want {
			if list[i] != want[i] {
				t.Errorf("Position %d: expected %s, got %s", i, want[i], list[i])
			}
		}

		if err := svc.RemoveOperator(ctx, admin, other); err != nil {
			t.Fatalf("Failed to remove operator: %v", err)
		}
		list = svc.Operators()
		if len(list) != 2 || list[0] != operator || list[1] != user {
			t.Errorf("Unexpected order after removal: %v", list)
		}
	})

	t.Run("ZeroAddressRejected", func(t *testing.T) {
		if err := svc.AddOperator(ctx, admin, domain.ZeroAddress); err != domain.ErrInvalidAddress {
			t.Errorf("Expected ErrInvalidAddress, got %v", err)
		}
	})
}

func TestAdmins(t *testing.T) {
	svc, _ := setupTestAccess(t)
	ctx := context.Background()

	t.Run("LastAdminStays", func(t *testing.T) {
		if err := svc.RemoveAdmin(ctx, admin, admin); err != ErrLastAdmin {
			t.Errorf("Expected ErrLastAdmin, got %v", err)
		}
	})

	t.Run("AddAndRemove", func(t *testing.T) {
		if err := svc.AddAdmin(ctx, admin, other); err != nil {
			t.Fatalf("Failed to add admin: %v", err)
		}
		if err := svc.RemoveAdmin(ctx, other, admin); err != nil {
			t.Fatalf("Failed to remove admin: %v", err)
		}
		if svc.IsAdmin(admin) {
			t.Error("Removed admin should lose the role")
		}
		if len(svc.Admins()) != 1 {
			t.Errorf("Expected 1 admin, got %d", len(svc.Admins()))
		}
	})

	t.Run("OperatorCannotAddAdmin", func(t *testing.T) {
		if err := svc.AddAdmin(ctx, operator, user); err != ErrUnauthorized {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestBlacklist(t *testing.T) {
	svc, _ := setupTestAccess(t)
	ctx := context.Background()

	t.Run("OperatorBlacklists", func(t *testing.T) {
		if err := svc.Blacklist(ctx, operator, user); err != nil {
			t.Fatalf("Operator should be able to blacklist: %v", err)
		}
		if err := svc.CheckNotBlacklisted(admin, user); err != ErrBlacklisted {
			t.Errorf("Expected ErrBlacklisted, got %v", err)
		}
	})

	t.Run("DuplicateFails", func(t *testing.T) {
		if err := svc.Blacklist(ctx, admin, user); err != ErrAlreadyBlacklisted {
			t.Errorf("Expected ErrAlreadyBlacklisted, got %v", err)
		}
	})

	t.Run("UserCannotBlacklist", func(t *testing.T) {
		if err := svc.Blacklist(ctx, other, admin); err != ErrUnauthorized {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("OperatorCannotUnblacklist", func(t *testing.T) {
		if err := svc.Unblacklist(ctx, operator, user); err != ErrUnauthorized {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
		if !svc.IsBlacklisted(user) {
			t.Error("User should still be blacklisted")
		}
	})

	t.Run("AdminUnblacklists", func(t *testing.T) {
		if err := svc.Unblacklist(ctx, admin, user); err != nil {
			t.Fatalf("Admin should be able to unblacklist: %v", err)
		}
		if svc.IsBlacklisted(user) {
			t.Error("User should no longer be blacklisted")
		}
		if err := svc.Unblacklist(ctx, admin, user); err != ErrNotBlacklisted {
			t.Errorf("Expected ErrNotBlacklisted, got %v", err)
		}
	})
}

func TestRoleChecks(t *testing.T) {
	svc, _ := setupTestAccess(t)

	if err := svc.RequireAdmin(operator); err != ErrUnauthorized {
		t.Errorf("Operator should not pass admin check, got %v", err)
	}
	if err := svc.RequireOperator(admin); err != ErrUnauthorized {
		t.Errorf("Admin is not implicitly an operator, got %v", err)
	}
	if err := svc.RequireOperatorOrAdmin(admin); err != nil {
		t.Errorf("Admin should pass operator-or-admin check: %v", err)
	}
	if err := svc.RequireOperatorOrAdmin(user); err != ErrUnauthorized {
		t.Errorf("User should fail operator-or-admin check, got %v", err)
	}
	if !svc.HasRole(operator, domain.RoleOperator) || svc.HasRole(operator, domain.RoleAdmin) {
		t.Error("HasRole returned wrong result for operator")
	}
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	svc, _ := New(nil, store, admin)
	svc.AddOperator(ctx, admin, operator)
	svc.Blacklist(ctx, operator, user)

	t.Run("Reload", func(t *testing.T) {
		reloaded, _ := New(nil, store, admin)
		if err := reloaded.LoadState(ctx); err != nil {
			t.Fatalf("Failed to load state: %v", err)
		}
		if !reloaded.IsOperator(operator) {
			t.Error("Operator should survive reload")
		}
		if !reloaded.IsBlacklisted(user) {
			t.Error("Blacklist should survive reload")
		}
	})

	t.Run("StoreFailureLeavesState", func(t *testing.T) {
		store.err = errors.New("connection reset")
		defer func() { store.err = nil }()

		err := svc.AddOperator(ctx, admin, other)
		if err == nil {
			t.Fatal("Expected store failure")
		}
		if svc.IsOperator(other) {
			t.Error("Failed persistence must not grant the role")
		}
	})
}
