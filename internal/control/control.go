// Package control provides the process-wide pause switch
//
// Key Requirements:
//   - Admins must be able to halt user and operator mutations on demand
//   - Emergency withdrawal and admin configuration bypass the switch
//   - All state changes must be logged
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexbotov/betledger/internal/access"
	"github.com/alexbotov/betledger/internal/audit"
	"github.com/alexbotov/betledger/internal/domain"
)

var ErrPaused = errors.New("contract paused")

const pausedKey = "paused"

// StateStore persists system state. A nil StateStore keeps state in memory.
type StateStore interface {
	SetState(ctx context.Context, key, value string, updatedBy domain.Address) error
	GetState(ctx context.Context, key string) (string, bool, error)
}

// Status is a snapshot of the pause switch
type Status struct {
	Paused    bool           `json:"paused"`
	ChangedAt *time.Time     `json:"changed_at,omitempty"`
	ChangedBy domain.Address `json:"changed_by,omitempty"`
}

// Service provides the pause gate
type Service struct {
	access *access.Service
	audit  *audit.Service
	store  StateStore

	mu        sync.RWMutex
	paused    bool
	changedAt *time.Time
	changedBy domain.Address
}

// New creates a new control service, initially unpaused
func New(accessSvc *access.Service, auditSvc *audit.Service, store StateStore) *Service {
	return &Service{
		access: accessSvc,
		audit:  auditSvc,
		store:  store,
	}
}

// SetPaused engages or releases the gate (admin only)
func (s *Service) SetPaused(ctx context.Context, actor domain.Address, paused bool) error {
	if err := s.access.RequireAdmin(actor); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		value := "false"
		if paused {
			value = "true"
		}
		if err := s.store.SetState(ctx, pausedKey, value, actor); err != nil {
			return fmt.Errorf("failed to persist pause state: %w", err)
		}
	}

	now := time.Now().UTC()
	s.paused = paused
	s.changedAt = &now
	s.changedBy = actor

	eventType, severity, desc := domain.EventUnpaused, domain.SeverityInfo, "Ledger unpaused"
	if paused {
		eventType, severity, desc = domain.EventPaused, domain.SeverityCritical, "Ledger paused"
	}
	if s.audit != nil {
		s.audit.Record(ctx, eventType, severity, desc,
			domain.PauseData{Paused: paused},
			audit.WithActor(actor), audit.WithComponent("control"))
	}

	return nil
}

// IsPaused reports whether the gate is engaged
func (s *Service) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Check fails fast with ErrPaused while the gate is engaged
func (s *Service) Check() error {
	if s.IsPaused() {
		return ErrPaused
	}
	return nil
}

// Status returns the current switch state
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Paused:    s.paused,
		ChangedAt: s.changedAt,
		ChangedBy: s.changedBy,
	}
}

// LoadState loads persisted state on startup
func (s *Service) LoadState(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	value, ok, err := s.store.GetState(ctx, pausedKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = ok && value == "true"
	return nil
}
