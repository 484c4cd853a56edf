package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexbotov/betledger/internal/domain"
	"github.com/alexbotov/betledger/pkg/custody"
)

var (
	custodyAddr = domain.MustParseAddress("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
	user        = domain.MustParseAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(custodyAddr)
	m.Mint(user, 100)

	t.Run("Pull", func(t *testing.T) {
		if err := m.Pull(ctx, user, 60); err != nil {
			t.Fatalf("Failed to pull: %v", err)
		}
		if b, _ := m.BalanceOf(ctx, user); b != 40 {
			t.Errorf("Expected wallet 40, got %d", b)
		}
		if b, _ := m.BalanceOf(ctx, custodyAddr); b != 60 {
			t.Errorf("Expected custody 60, got %d", b)
		}
	})

	t.Run("PullInsufficient", func(t *testing.T) {
		err := m.Pull(ctx, user, 41)
		if !errors.Is(err, ErrTransportFailure) {
			t.Errorf("Expected ErrTransportFailure, got %v", err)
		}
		if b, _ := m.BalanceOf(ctx, user); b != 40 {
			t.Errorf("Failed pull must not move value, wallet %d", b)
		}
	})

	t.Run("Push", func(t *testing.T) {
		if err := m.Push(ctx, user, 10); err != nil {
			t.Fatalf("Failed to push: %v", err)
		}
		if b, _ := m.BalanceOf(ctx, custodyAddr); b != 50 {
			t.Errorf("Expected custody 50, got %d", b)
		}
	})

	t.Run("PushBeyondCustody", func(t *testing.T) {
		if err := m.Push(ctx, user, 51); !errors.Is(err, ErrTransportFailure) {
			t.Errorf("Expected ErrTransportFailure, got %v", err)
		}
	})

	t.Run("FailNext", func(t *testing.T) {
		m.FailNext(1)
		before := m.Calls()
		if err := m.Push(ctx, user, 1); !errors.Is(err, ErrTransportFailure) {
			t.Errorf("Expected injected failure, got %v", err)
		}
		if err := m.Push(ctx, user, 1); err != nil {
			t.Errorf("Second call should succeed, got %v", err)
		}
		if m.Calls() != before+2 {
			t.Errorf("Expected %d calls, got %d", before+2, m.Calls())
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := m.Pull(cctx, user, 1); !errors.Is(err, ErrTransportFailure) {
			t.Errorf("Expected ErrTransportFailure, got %v", err)
		}
	})
}

func newRemote(t *testing.T, handler http.HandlerFunc) *Remote {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := custody.NewClient(&custody.ClientConfig{
		BaseURL:    server.URL,
		APIKey:     "key",
		APISecret:  "secret",
		Asset:      "GAME",
		Timeout:    5 * time.Second,
		RetryCount: 1,
	})
	return NewRemote(client, custodyAddr, 2)
}

func TestRemoteAmounts(t *testing.T) {
	r := NewRemote(nil, custodyAddr, 2)

	tests := []struct {
		minor int64
		text  string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{150, "1.50"},
		{9800, "98.00"},
	}
	for _, tt := range tests {
		if got := r.FormatAmount(tt.minor); got != tt.text {
			t.Errorf("FormatAmount(%d): expected %s, got %s", tt.minor, tt.text, got)
		}
		if got, err := r.ParseAmount(tt.text); err != nil || got != tt.minor {
			t.Errorf("ParseAmount(%s): expected %d, got %d (%v)", tt.text, tt.minor, got, err)
		}
	}

	if got, _ := r.ParseAmount("1.239"); got != 123 {
		t.Errorf("Expected truncation to 123, got %d", got)
	}
	if _, err := r.ParseAmount("abc"); err == nil {
		t.Error("Expected parse error")
	}
}

func TestRemote(t *testing.T) {
	ctx := context.Background()

	t.Run("PullSendsTransferFrom", func(t *testing.T) {
		r := newRemote(t, func(w http.ResponseWriter, req *http.Request) {
			var body custody.TransferRequest
			json.NewDecoder(req.Body).Decode(&body)
			if req.URL.Path != "/transfer-from" {
				t.Errorf("Expected /transfer-from, got %s", req.URL.Path)
			}
			if body.From != user.String() || body.To != custodyAddr.String() {
				t.Errorf("Unexpected parties: %s -> %s", body.From, body.To)
			}
			if body.Amount != "1.00" {
				t.Errorf("Expected amount 1.00, got %s", body.Amount)
			}
			if body.TransferID == "" {
				t.Error("Expected a transfer id")
			}
			json.NewEncoder(w).Encode(custody.Response[custody.TransferResult]{
				Result: &custody.TransferResult{TransferID: body.TransferID},
			})
		})
		if err := r.Pull(ctx, user, 100); err != nil {
			t.Fatalf("Failed to pull: %v", err)
		}
	})

	t.Run("PushAPIError", func(t *testing.T) {
		r := newRemote(t, func(w http.ResponseWriter, req *http.Request) {
			json.NewEncoder(w).Encode(custody.Response[custody.TransferResult]{
				Error: &custody.APIError{Code: custody.ErrInsufficientFunds, Message: "Insufficient funds."},
			})
		})
		err := r.Push(ctx, user, 100)
		if !errors.Is(err, ErrTransportFailure) {
			t.Errorf("Expected ErrTransportFailure, got %v", err)
		}
	})

	t.Run("ReplayedTransferSucceeds", func(t *testing.T) {
		r := newRemote(t, func(w http.ResponseWriter, req *http.Request) {
			json.NewEncoder(w).Encode(custody.Response[custody.TransferResult]{
				Error: &custody.APIError{Code: custody.ErrTransferAlreadyExists, Message: "exists"},
			})
		})
		if err := r.Push(ctx, user, 100); err != nil {
			t.Errorf("Expected success, got %v", err)
		}
	})

	t.Run("BalanceOf", func(t *testing.T) {
		r := newRemote(t, func(w http.ResponseWriter, req *http.Request) {
			json.NewEncoder(w).Encode(custody.Response[custody.BalanceResult]{
				Result: &custody.BalanceResult{Balance: "5000.50"},
			})
		})
		b, err := r.BalanceOf(ctx, custodyAddr)
		if err != nil {
			t.Fatalf("Failed to get balance: %v", err)
		}
		if b != 500050 {
			t.Errorf("Expected 500050, got %d", b)
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		client := custody.NewClient(&custody.ClientConfig{BaseURL: "http://localhost:99999", RetryCount: 1})
		r := NewRemote(client, custodyAddr, 2)
		if _, err := r.BalanceOf(ctx, user); !errors.Is(err, ErrTransportFailure) {
			t.Errorf("Expected ErrTransportFailure, got %v", err)
		}
	})
}
