package database

import (
	"context"
	"os"
	"testing"

	"github.com/alexbotov/betledger/internal/access"
	"github.com/alexbotov/betledger/internal/domain"
	"github.com/alexbotov/betledger/internal/ledger"
)

var (
	alice = domain.MustParseAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	bob   = domain.MustParseAddress("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
)

// setupTestDB connects to BETLEDGER_TEST_DSN and migrates a clean schema
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("BETLEDGER_TEST_DSN")
	if dsn == "" {
		t.Skip("BETLEDGER_TEST_DSN not set")
	}

	db, err := New("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := db.Reset(); err != nil {
		t.Fatalf("Failed to reset database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	t.Cleanup(func() {
		db.CleanData()
		db.Close()
	})
	return db
}

func TestAccountStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewAccountStore(db)
	ctx := context.Background()

	t.Run("UnknownReadsZero", func(t *testing.T) {
		acct, err := store.GetAccount(ctx, alice)
		if err != nil {
			t.Fatalf("Failed to get account: %v", err)
		}
		if acct.Address != alice || acct.Balance != 0 || acct.PendingBet != 0 {
			t.Errorf("Expected zero account, got %+v", acct)
		}
	})

	t.Run("SaveAndList", func(t *testing.T) {
		if err := store.SaveAccount(ctx, &domain.Account{Address: alice, Balance: 48, PendingBet: 50}); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		if err := store.SaveAccount(ctx, &domain.Account{Address: alice, Balance: 40, PendingBet: 50}); err != nil {
			t.Fatalf("Failed to update: %v", err)
		}
		acct, _ := store.GetAccount(ctx, alice)
		if acct.Balance != 40 || acct.PendingBet != 50 {
			t.Errorf("Expected 40/50, got %d/%d", acct.Balance, acct.PendingBet)
		}

		accounts, err := store.ListAccounts(ctx)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(accounts) != 1 {
			t.Errorf("Expected 1 account, got %d", len(accounts))
		}
	})

	t.Run("Totals", func(t *testing.T) {
		totals, err := store.LoadTotals(ctx)
		if err != nil || totals != (ledger.Totals{}) {
			t.Fatalf("Expected zero totals, got %+v (%v)", totals, err)
		}
		want := ledger.Totals{DepositedGross: 100, DepositedNet: 98, FeesPaid: 2}
		if err := store.SaveTotals(ctx, want); err != nil {
			t.Fatalf("Failed to save totals: %v", err)
		}
		got, _ := store.LoadTotals(ctx)
		if got != want {
			t.Errorf("Expected %+v, got %+v", want, got)
		}
	})
}

func TestRoleStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewRoleStore(db)
	ctx := context.Background()

	store.AddMember(ctx, access.KindOperator, bob, alice)
	store.AddMember(ctx, access.KindOperator, alice, alice)
	if err := store.AddMember(ctx, access.KindOperator, bob, alice); err != nil {
		t.Fatalf("Duplicate add should be ignored, got %v", err)
	}

	members, err := store.ListMembers(ctx, access.KindOperator)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(members) != 2 || members[0] != bob || members[1] != alice {
		t.Errorf("Expected insertion order [bob alice], got %v", members)
	}

	store.RemoveMember(ctx, access.KindOperator, bob)
	members, _ = store.ListMembers(ctx, access.KindOperator)
	if len(members) != 1 || members[0] != alice {
		t.Errorf("Expected [alice], got %v", members)
	}
}

func TestStateStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewStateStore(db)
	ctx := context.Background()

	if _, ok, err := store.GetState(ctx, "paused"); err != nil || ok {
		t.Errorf("Expected missing key, got ok=%v err=%v", ok, err)
	}
	store.SetState(ctx, "paused", "true", alice)
	store.SetState(ctx, "paused", "false", alice)

	value, ok, err := store.GetState(ctx, "paused")
	if err != nil || !ok || value != "false" {
		t.Errorf("Expected false, got %q ok=%v err=%v", value, ok, err)
	}
}
