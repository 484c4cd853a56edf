// Package audit provides the durable event log for the ledger
//
// Every completed ledger sub-effect is recorded as a domain.Event. Events are
// written to a primary Store (the audit log of record) and then fanned out to
// any number of publishers (Kafka, Redis, websocket clients). Operations that
// are rolled back never reach this package.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexbotov/betledger/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink receives recorded events
type Sink interface {
	Write(ctx context.Context, event *domain.Event) error
}

// Store is a Sink that can be queried
type Store interface {
	Sink
	Query(ctx context.Context, filter *EventFilter) ([]*domain.Event, error)
}

// sequencer is implemented by stores that survive restarts
type sequencer interface {
	LastSequence(ctx context.Context) (uint64, error)
}

// Service provides audit logging functionality
type Service struct {
	store  Store
	logger *zap.Logger

	mu         sync.Mutex
	seq        uint64
	publishers []Sink
}

// New creates a new audit service
func New(store Store, logger *zap.Logger, publishers ...Sink) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		logger:     logger,
		publishers: publishers,
	}
}

// AddPublisher registers another fan-out sink
func (s *Service) AddPublisher(p Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

// Restore continues the sequence from a persistent store
func (s *Service) Restore(ctx context.Context) error {
	seqStore, ok := s.store.(sequencer)
	if !ok {
		return nil
	}
	last, err := seqStore.LastSequence(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore audit sequence: %w", err)
	}
	s.mu.Lock()
	s.seq = last
	s.mu.Unlock()
	return nil
}

// Log records an event. The store write is authoritative; publisher failures
// are logged and do not fail the call.
func (s *Service) Log(ctx context.Context, eventType domain.EventType, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) error {
	event := &domain.Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Description: description,
		Component:   "ledger",
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		event.Data = jsonData
	}

	for _, opt := range opts {
		opt(event)
	}

	s.mu.Lock()
	s.seq++
	event.Sequence = s.seq
	if err := s.store.Write(ctx, event); err != nil {
		s.seq--
		s.mu.Unlock()
		return fmt.Errorf("failed to record %s event: %w", eventType, err)
	}
	publishers := append([]Sink(nil), s.publishers...)
	s.mu.Unlock()

	for _, p := range publishers {
		if err := p.Write(ctx, event); err != nil {
			s.logger.Warn("audit publish failed",
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}

	return nil
}

// Record is Log for callers whose change has already been applied. The
// write ignores cancellation and a failure is logged instead of returned.
func (s *Service) Record(ctx context.Context, eventType domain.EventType, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) {
	if err := s.Log(context.WithoutCancel(ctx), eventType, severity, description, data, opts...); err != nil {
		s.logger.Error("failed to record audit event",
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}

// GetEvents retrieves audit events with optional filtering, newest first
func (s *Service) GetEvents(ctx context.Context, filter *EventFilter) ([]*domain.Event, error) {
	return s.store.Query(ctx, filter)
}

// EventOption is a functional option for configuring audit events
type EventOption func(*domain.Event)

// WithActor sets the address that invoked the operation
func WithActor(actor domain.Address) EventOption {
	return func(e *domain.Event) {
		e.Actor = actor
	}
}

// WithSubject sets the account the operation acted on
func WithSubject(subject domain.Address) EventOption {
	return func(e *domain.Event) {
		e.Subject = subject
	}
}

// WithComponent sets the component for the event
func WithComponent(component string) EventOption {
	return func(e *domain.Event) {
		e.Component = component
	}
}

// EventFilter defines criteria for filtering audit events.
// Address matches either the actor or the subject.
type EventFilter struct {
	Address domain.Address
	Type    domain.EventType
	From    time.Time
	To      time.Time
	Limit   int
}

func (f *EventFilter) limit() int {
	if f == nil || f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func (f *EventFilter) matches(e *domain.Event) bool {
	if f == nil {
		return true
	}
	if f.Address != "" && e.Actor != f.Address && e.Subject != f.Address {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// MemoryStore keeps events in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	events []*domain.Event
}

// NewMemoryStore creates an empty in-memory event store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Write(_ context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStore) Query(_ context.Context, filter *EventFilter) ([]*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*domain.Event
	for _, e := range m.events {
		if filter.matches(e) {
			events = append(events, e)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Sequence > events[j].Sequence
	})

	if limit := filter.limit(); len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Len returns the number of recorded events
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
