// Package access owns the admin set, the operator set and the blacklist
//
// Privileges:
//   - Admin: add/remove admins and operators, unblacklist, pause, fee settings
//   - Operator: place/resolve bets, reward tokens, blacklist
//
// Blacklisting is operator-or-admin while unblacklisting is admin only, so an
// operator cannot undo a block.
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexbotov/betledger/internal/audit"
	"github.com/alexbotov/betledger/internal/domain"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrBlacklisted        = errors.New("address is blacklisted")
	ErrAlreadyOperator    = errors.New("address is already an operator")
	ErrNotOperator        = errors.New("address is not an operator")
	ErrAlreadyAdmin       = errors.New("address is already an admin")
	ErrNotAdmin           = errors.New("address is not an admin")
	ErrLastAdmin          = errors.New("cannot remove the last admin")
	ErrAlreadyBlacklisted = errors.New("address is already blacklisted")
	ErrNotBlacklisted     = errors.New("address is not blacklisted")
)

// Membership kinds persisted by a Store
const (
	KindAdmin       = "admin"
	KindOperator    = "operator"
	KindBlacklisted = "blacklisted"
)

// Store persists role membership. A nil Store keeps state in memory only.
type Store interface {
	AddMember(ctx context.Context, kind string, addr, by domain.Address) error
	RemoveMember(ctx context.Context, kind string, addr domain.Address) error
	ListMembers(ctx context.Context, kind string) ([]domain.Address, error)
}

// Service provides role checks and role management
type Service struct {
	audit *audit.Service
	store Store

	mu        sync.RWMutex
	admins    *memberSet
	operators *memberSet
	blacklist *memberSet
}

// New creates an access control service seeded with the given admins
func New(auditSvc *audit.Service, store Store, admins ...domain.Address) (*Service, error) {
	s := &Service{
		audit:     auditSvc,
		store:     store,
		admins:    newMemberSet(),
		operators: newMemberSet(),
		blacklist: newMemberSet(),
	}
	for _, a := range admins {
		if a.IsZero() {
			return nil, domain.ErrInvalidAddress
		}
		s.admins.add(a)
	}
	return s, nil
}

// LoadState merges persisted membership into memory
func (s *Service) LoadState(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, set := range map[string]*memberSet{
		KindAdmin:       s.admins,
		KindOperator:    s.operators,
		KindBlacklisted: s.blacklist,
	} {
		members, err := s.store.ListMembers(ctx, kind)
		if err != nil {
			return fmt.Errorf("failed to load %s members: %w", kind, err)
		}
		for _, m := range members {
			set.add(m)
		}
	}

	if s.admins.len() == 0 {
		return errors.New("no admin configured")
	}
	return nil
}

// IsAdmin reports whether addr holds the admin role
func (s *Service) IsAdmin(addr domain.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admins.has(addr)
}

// IsOperator reports whether addr holds the operator role
func (s *Service) IsOperator(addr domain.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operators.has(addr)
}

// IsBlacklisted reports whether addr is denied ledger interaction
func (s *Service) IsBlacklisted(addr domain.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blacklist.has(addr)
}

// HasRole reports whether addr holds role
func (s *Service) HasRole(addr domain.Address, role domain.Role) bool {
	switch role {
	case domain.RoleAdmin:
		return s.IsAdmin(addr)
	case domain.RoleOperator:
		return s.IsOperator(addr)
	}
	return false
}

// RequireAdmin fails with ErrUnauthorized unless actor is an admin
func (s *Service) RequireAdmin(actor domain.Address) error {
	if !s.IsAdmin(actor) {
		return ErrUnauthorized
	}
	return nil
}

// RequireOperator fails with ErrUnauthorized unless actor is an operator
func (s *Service) RequireOperator(actor domain.Address) error {
	if !s.IsOperator(actor) {
		return ErrUnauthorized
	}
	return nil
}

// RequireOperatorOrAdmin fails with ErrUnauthorized unless actor holds either role
func (s *Service) RequireOperatorOrAdmin(actor domain.Address) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.operators.has(actor) && !s.admins.has(actor) {
		return ErrUnauthorized
	}
	return nil
}

// CheckNotBlacklisted fails with ErrBlacklisted if any address is blacklisted
func (s *Service) CheckNotBlacklisted(addrs ...domain.Address) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range addrs {
		if s.blacklist.has(a) {
			return ErrBlacklisted
		}
	}
	return nil
}

// Operators returns the operator set in insertion order
func (s *Service) Operators() []domain.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operators.list()
}

// Admins returns the admin set in insertion order
func (s *Service) Admins() []domain.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admins.list()
}

// Blacklisted returns all blacklisted addresses in insertion order
func (s *Service) Blacklisted() []domain.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blacklist.list()
}

// AddOperator grants the operator role (admin only)
func (s *Service) AddOperator(ctx context.Context, actor, addr domain.Address) error {
	return s.grant(ctx, actor, addr, grantSpec{
		kind:      KindOperator,
		authorize: s.isAdminLocked,
		set:       func() *memberSet { return s.operators },
		exists:    ErrAlreadyOperator,
		event:     domain.EventOperatorAdded,
		desc:      "Operator added",
	})
}

// RemoveOperator revokes the operator role (admin only)
func (s *Service) RemoveOperator(ctx context.Context, actor, addr domain.Address) error {
	return s.revoke(ctx, actor, addr, revokeSpec{
		kind:      KindOperator,
		authorize: s.isAdminLocked,
		set:       func() *memberSet { return s.operators },
		missing:   ErrNotOperator,
		event:     domain.EventOperatorRemoved,
		desc:      "Operator removed",
	})
}

// AddAdmin grants the admin role (admin only)
func (s *Service) AddAdmin(ctx context.Context, actor, addr domain.Address) error {
	return s.grant(ctx, actor, addr, grantSpec{
		kind:      KindAdmin,
		authorize: s.isAdminLocked,
		set:       func() *memberSet { return s.admins },
		exists:    ErrAlreadyAdmin,
		event:     domain.EventAdminAdded,
		desc:      "Admin added",
	})
}

// RemoveAdmin revokes the admin role (admin only). The last admin stays.
func (s *Service) RemoveAdmin(ctx context.Context, actor, addr domain.Address) error {
	return s.revoke(ctx, actor, addr, revokeSpec{
		kind:      KindAdmin,
		authorize: s.isAdminLocked,
		set:       func() *memberSet { return s.admins },
		missing:   ErrNotAdmin,
		guard: func() error {
			if s.admins.len() == 1 {
				return ErrLastAdmin
			}
			return nil
		},
		event: domain.EventAdminRemoved,
		desc:  "Admin removed",
	})
}

// Blacklist denies addr all ledger interaction (operator or admin)
func (s *Service) Blacklist(ctx context.Context, actor, addr domain.Address) error {
	return s.grant(ctx, actor, addr, grantSpec{
		kind: KindBlacklisted,
		authorize: func(a domain.Address) bool {
			return s.operators.has(a) || s.admins.has(a)
		},
		set:    func() *memberSet { return s.blacklist },
		exists: ErrAlreadyBlacklisted,
		event:  domain.EventBlacklisted,
		desc:   "Address blacklisted",
	})
}

// Unblacklist restores access for addr (admin only)
func (s *Service) Unblacklist(ctx context.Context, actor, addr domain.Address) error {
	return s.revoke(ctx, actor, addr, revokeSpec{
		kind:      KindBlacklisted,
		authorize: s.isAdminLocked,
		set:       func() *memberSet { return s.blacklist },
		missing:   ErrNotBlacklisted,
		event:     domain.EventUnblacklisted,
		desc:      "Address unblacklisted",
	})
}

func (s *Service) isAdminLocked(a domain.Address) bool {
	return s.admins.has(a)
}

type grantSpec struct {
	kind      string
	authorize func(domain.Address) bool
	set       func() *memberSet
	exists    error
	event     domain.EventType
	desc      string
}

type revokeSpec struct {
	kind      string
	authorize func(domain.Address) bool
	set       func() *memberSet
	missing   error
	guard     func() error
	event     domain.EventType
	desc      string
}

func (s *Service) grant(ctx context.Context, actor, addr domain.Address, spec grantSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !spec.authorize(actor) {
		return ErrUnauthorized
	}
	if addr.IsZero() {
		return domain.ErrInvalidAddress
	}
	set := spec.set()
	if set.has(addr) {
		return spec.exists
	}

	if s.store != nil {
		if err := s.store.AddMember(ctx, spec.kind, addr, actor); err != nil {
			return fmt.Errorf("failed to persist %s: %w", spec.kind, err)
		}
	}
	set.add(addr)

	s.log(ctx, spec.event, spec.desc, actor, addr)
	return nil
}

func (s *Service) revoke(ctx context.Context, actor, addr domain.Address, spec revokeSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !spec.authorize(actor) {
		return ErrUnauthorized
	}
	set := spec.set()
	if !set.has(addr) {
		return spec.missing
	}
	if spec.guard != nil {
		if err := spec.guard(); err != nil {
			return err
		}
	}

	if s.store != nil {
		if err := s.store.RemoveMember(ctx, spec.kind, addr); err != nil {
			return fmt.Errorf("failed to persist %s removal: %w", spec.kind, err)
		}
	}
	set.remove(addr)

	s.log(ctx, spec.event, spec.desc, actor, addr)
	return nil
}

func (s *Service) log(ctx context.Context, eventType domain.EventType, desc string, actor, addr domain.Address) {
	if s.audit == nil {
		return
	}
	severity := domain.SeverityInfo
	if eventType == domain.EventBlacklisted || eventType == domain.EventAdminRemoved {
		severity = domain.SeverityWarning
	}
	s.audit.Record(ctx, eventType, severity,
		fmt.Sprintf("%s: %s", desc, addr),
		domain.AddressData{Address: addr},
		audit.WithActor(actor), audit.WithSubject(addr), audit.WithComponent("access"))
}

// memberSet is an insertion-ordered set of addresses
type memberSet struct {
	index map[domain.Address]int
	order []domain.Address
}

func newMemberSet() *memberSet {
	return &memberSet{index: make(map[domain.Address]int)}
}

func (m *memberSet) has(a domain.Address) bool {
	_, ok := m.index[a]
	return ok
}

func (m *memberSet) add(a domain.Address) {
	if m.has(a) {
		return
	}
	m.index[a] = len(m.order)
	m.order = append(m.order, a)
}

func (m *memberSet) remove(a domain.Address) {
	i, ok := m.index[a]
	if !ok {
		return
	}
	m.order = append(m.order[:i], m.order[i+1:]...)
	delete(m.index, a)
	for j := i; j < len(m.order); j++ {
		m.index[m.order[j]] = j
	}
}

func (m *memberSet) len() int {
	return len(m.order)
}

func (m *memberSet) list() []domain.Address {
	return append([]domain.Address(nil), m.order...)
}
