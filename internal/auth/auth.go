// Package auth issues and validates bearer tokens that identify the acting
// address on the HTTP surface
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexbotov/betledger/internal/audit"
	"github.com/alexbotov/betledger/internal/config"
	"github.com/alexbotov/betledger/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
)

// Service provides authentication functionality
type Service struct {
	config *config.AuthConfig
	audit  *audit.Service
}

// New creates a new auth service
func New(cfg *config.AuthConfig, auditSvc *audit.Service) *Service {
	return &Service{
		config: cfg,
		audit:  auditSvc,
	}
}

// LoginRequest contains login credentials
type LoginRequest struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

// LoginResponse contains login result
type LoginResponse struct {
	Address   domain.Address `json:"address"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Claims identifies the actor behind a token
type Claims struct {
	jwt.RegisteredClaims
}

// Login checks an address secret against its configured bcrypt hash
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	hash, ok := s.config.Credentials[addr.String()]
	if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Secret)) != nil {
		s.log(ctx, domain.EventLoginFailed, domain.SeverityWarning,
			fmt.Sprintf("Failed login for %s", addr), addr)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.IssueToken(addr)
	if err != nil {
		return nil, err
	}

	s.log(ctx, domain.EventLogin, domain.SeverityInfo,
		fmt.Sprintf("Login for %s", addr), addr)

	return &LoginResponse{
		Address:   addr,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// IssueToken signs a token whose subject is addr
func (s *Service) IssueToken(addr domain.Address) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.config.TokenExpiry)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   addr.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the acting address
func (s *Service) ValidateToken(tokenString string) (domain.Address, error) {
	tokenString = strings.TrimSpace(tokenString)

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrSessionExpired
	}

	addr, err := domain.ParseAddress(claims.Subject)
	if err != nil {
		return "", ErrSessionExpired
	}
	return addr, nil
}

// HashSecret returns the bcrypt hash stored in configuration for a secret
func HashSecret(secret string, cost int) (string, error) {
	if len(secret) < 8 {
		return "", errors.New("secret must be at least 8 characters")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

func (s *Service) log(ctx context.Context, eventType domain.EventType, severity domain.EventSeverity, desc string, addr domain.Address) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, eventType, severity, desc, nil,
		audit.WithActor(addr), audit.WithComponent("auth"))
}
