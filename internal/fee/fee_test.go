package fee

import (
	"math"
	"testing"

	"github.com/alexbotov/betledger/internal/domain"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		percent int
		net     int64
		fee     int64
	}{
		{"TwoPercent", 100, 2, 98, 2},
		{"ZeroPercent", 100, 0, 100, 0},
		{"FullPercent", 100, 100, 0, 100},
		{"FloorRounding", 99, 3, 97, 2},
		{"SmallAmount", 1, 50, 1, 0},
		{"ZeroAmount", 0, 10, 0, 0},
		{"OddPercent", 12345, 7, 11481, 864},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, fee := Split(tt.amount, tt.percent)
			if net != tt.net || fee != tt.fee {
				t.Errorf("Expected net=%d fee=%d, got net=%d fee=%d", tt.net, tt.fee, net, fee)
			}
			if net+fee != tt.amount {
				t.Errorf("Net plus fee must equal amount: %d + %d != %d", net, fee, tt.amount)
			}
		})
	}

	t.Run("NoOverflow", func(t *testing.T) {
		net, fee := Split(math.MaxInt64, 100)
		if net != 0 || fee != math.MaxInt64 {
			t.Errorf("Expected full fee on max amount, got net=%d fee=%d", net, fee)
		}

		net, fee = Split(math.MaxInt64, 2)
		if net < 0 || fee < 0 || net+fee != math.MaxInt64 {
			t.Errorf("Split of max amount must stay non-negative, got net=%d fee=%d", net, fee)
		}
	})
}

func TestConfig(t *testing.T) {
	sink := domain.MustParseAddress("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")

	t.Run("New", func(t *testing.T) {
		cfg, err := NewConfig(2, sink)
		if err != nil {
			t.Fatalf("Failed to create config: %v", err)
		}
		percent, addr := cfg.Snapshot()
		if percent != 2 || addr != sink {
			t.Errorf("Expected 2%% to %s, got %d%% to %s", sink, percent, addr)
		}
	})

	t.Run("RejectsOutOfRange", func(t *testing.T) {
		if _, err := NewConfig(101, sink); err != ErrInvalidPercent {
			t.Errorf("Expected ErrInvalidPercent, got %v", err)
		}
		if _, err := NewConfig(-1, sink); err != ErrInvalidPercent {
			t.Errorf("Expected ErrInvalidPercent, got %v", err)
		}
	})

	t.Run("RejectsZeroAddress", func(t *testing.T) {
		if _, err := NewConfig(2, domain.ZeroAddress); err != domain.ErrInvalidAddress {
			t.Errorf("Expected ErrInvalidAddress, got %v", err)
		}
	})

	t.Run("Setters", func(t *testing.T) {
		cfg, _ := NewConfig(2, sink)
		if err := cfg.SetPercent(5); err != nil {
			t.Fatalf("Failed to set percent: %v", err)
		}
		if cfg.Percent() != 5 {
			t.Errorf("Expected 5, got %d", cfg.Percent())
		}
		if err := cfg.SetPercent(150); err != ErrInvalidPercent {
			t.Errorf("Expected ErrInvalidPercent, got %v", err)
		}
		if cfg.Percent() != 5 {
			t.Errorf("Rejected update must not change percent, got %d", cfg.Percent())
		}

		other := domain.MustParseAddress("0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb")
		if err := cfg.SetAddress(other); err != nil {
			t.Fatalf("Failed to set address: %v", err)
		}
		if cfg.Address() != other {
			t.Errorf("Expected %s, got %s", other, cfg.Address())
		}
	})
}
