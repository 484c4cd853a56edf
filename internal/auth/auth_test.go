package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alexbotov/betledger/internal/audit"
	"github.com/alexbotov/betledger/internal/config"
	"github.com/alexbotov/betledger/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAddress = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	testSecret  = "correct-horse-battery"
)

func setupTestAuth(t *testing.T, expiry time.Duration) (*Service, *audit.MemoryStore) {
	t.Helper()

	hash, err := HashSecret(testSecret, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash secret: %v", err)
	}

	cfg := &config.AuthConfig{
		JWTSecret:   "test-secret-key",
		TokenExpiry: expiry,
		Credentials: map[string]string{testAddress: hash},
	}
	events := audit.NewMemoryStore()
	return New(cfg, audit.New(events, nil)), events
}

func TestLogin(t *testing.T) {
	svc, events := setupTestAuth(t, time.Hour)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		resp, err := svc.Login(ctx, &LoginRequest{Address: testAddress, Secret: testSecret})
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if resp.Address != domain.Address(testAddress) {
			t.Errorf("Expected address %s, got %s", testAddress, resp.Address)
		}
		if resp.Token == "" {
			t.Error("Expected token")
		}
		if time.Until(resp.ExpiresAt) > time.Hour {
			t.Errorf("Expiry too far in the future: %v", resp.ExpiresAt)
		}

		addr, err := svc.ValidateToken(resp.Token)
		if err != nil {
			t.Fatalf("Token validation failed: %v", err)
		}
		if addr != domain.Address(testAddress) {
			t.Errorf("Expected subject %s, got %s", testAddress, addr)
		}
	})

	t.Run("ChecksummedAddress", func(t *testing.T) {
		_, err := svc.Login(ctx, &LoginRequest{
			Address: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			Secret:  testSecret,
		})
		if err != nil {
			t.Errorf("Checksummed address should log in, got %v", err)
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		before := events.Len()
		_, err := svc.Login(ctx, &LoginRequest{Address: testAddress, Secret: "wrong-secret"})
		if err != ErrInvalidCredentials {
			t.Errorf("Expected ErrInvalidCredentials, got %v", err)
		}
		latest, _ := events.Query(ctx, &audit.EventFilter{Limit: 1})
		if events.Len() != before+1 || latest[0].Type != domain.EventLoginFailed {
			t.Error("Expected login_failed event")
		}
	})

	t.Run("UnknownAddress", func(t *testing.T) {
		_, err := svc.Login(ctx, &LoginRequest{
			Address: "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359",
			Secret:  testSecret,
		})
		if err != ErrInvalidCredentials {
			t.Errorf("Expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("MalformedAddress", func(t *testing.T) {
		_, err := svc.Login(ctx, &LoginRequest{Address: "nope", Secret: testSecret})
		if err != ErrInvalidCredentials {
			t.Errorf("Expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestValidateToken(t *testing.T) {
	svc, _ := setupTestAuth(t, time.Hour)

	t.Run("Garbage", func(t *testing.T) {
		if _, err := svc.ValidateToken("not-a-token"); err != ErrSessionExpired {
			t.Errorf("Expected ErrSessionExpired, got %v", err)
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		other := New(&config.AuthConfig{JWTSecret: "other", TokenExpiry: time.Hour}, nil)
		token, _, err := other.IssueToken(domain.Address(testAddress))
		if err != nil {
			t.Fatalf("Failed to issue token: %v", err)
		}
		if _, err := svc.ValidateToken(token); err != ErrSessionExpired {
			t.Errorf("Expected ErrSessionExpired, got %v", err)
		}
	})

	t.Run("Expired", func(t *testing.T) {
		expired, _ := setupTestAuth(t, -time.Minute)
		token, _, err := expired.IssueToken(domain.Address(testAddress))
		if err != nil {
			t.Fatalf("Failed to issue token: %v", err)
		}
		if _, err := svc.ValidateToken(token); err != ErrSessionExpired {
			t.Errorf("Expected ErrSessionExpired, got %v", err)
		}
	})

	t.Run("NoneAlgorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: testAddress})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("Failed to build token: %v", err)
		}
		if _, err := svc.ValidateToken(signed); err != ErrSessionExpired {
			t.Errorf("Expected ErrSessionExpired, got %v", err)
		}
	})
}

func TestHashSecret(t *testing.T) {
	if _, err := HashSecret("short", bcrypt.MinCost); err == nil {
		t.Error("Expected error for short secret")
	}

	hash, err := HashSecret(testSecret, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(testSecret)) != nil {
		t.Error("Hash should match secret")
	}
}
