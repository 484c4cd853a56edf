package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/alexbotov/betledger/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	alice = domain.MustParseAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	bob   = domain.MustParseAddress("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
)

type recordingSink struct {
	events []*domain.Event
	err    error
}

func (r *recordingSink) Write(_ context.Context, event *domain.Event) error {
	r.events = append(r.events, event)
	return r.err
}

type failingStore struct {
	*MemoryStore
}

func (f failingStore) Write(context.Context, *domain.Event) error {
	return errors.New("disk full")
}

func TestLog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	publisher := &recordingSink{}
	svc := New(store, nil, publisher)

	t.Run("RecordsEvent", func(t *testing.T) {
		err := svc.Log(ctx, domain.EventDeposit, domain.SeverityInfo, "Deposit",
			domain.DepositData{Net: 98, Fee: 2}, WithActor(alice), WithSubject(alice))
		if err != nil {
			t.Fatalf("Failed to log event: %v", err)
		}

		events, _ := svc.GetEvents(ctx, nil)
		if len(events) != 1 {
			t.Fatalf("Expected 1 event, got %d", len(events))
		}

		e := events[0]
		if e.ID == "" {
			t.Error("Expected event ID")
		}
		if e.Sequence != 1 {
			t.Errorf("Expected sequence 1, got %d", e.Sequence)
		}
		if e.Component != "ledger" {
			t.Errorf("Expected default component ledger, got %s", e.Component)
		}

		var data domain.DepositData
		if err := e.Decode(&data); err != nil {
			t.Fatalf("Failed to decode data: %v", err)
		}
		if data.Net != 98 || data.Fee != 2 {
			t.Errorf("Expected net 98 fee 2, got %d/%d", data.Net, data.Fee)
		}
	})

	t.Run("FansOut", func(t *testing.T) {
		if len(publisher.events) != 1 {
			t.Errorf("Expected publisher to receive 1 event, got %d", len(publisher.events))
		}
	})

	t.Run("PublisherFailureIsNotFatal", func(t *testing.T) {
		publisher.err = errors.New("broker down")
		defer func() { publisher.err = nil }()

		err := svc.Log(ctx, domain.EventPaused, domain.SeverityCritical, "Paused",
			domain.PauseData{Paused: true}, WithActor(bob), WithComponent("control"))
		if err != nil {
			t.Errorf("Publisher failure must not fail Log: %v", err)
		}
		if store.Len() != 2 {
			t.Errorf("Expected 2 stored events, got %d", store.Len())
		}
	})
}

func TestLogStoreFailure(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingSink{}
	svc := New(failingStore{NewMemoryStore()}, nil, publisher)

	if err := svc.Log(ctx, domain.EventDeposit, domain.SeverityInfo, "Deposit", nil); err == nil {
		t.Error("Expected store failure to be returned")
	}
	if len(publisher.events) != 0 {
		t.Error("Events that were not stored must not be published")
	}
}

// ctxStore refuses writes once the context is done
type ctxStore struct {
	*MemoryStore
}

func (c ctxStore) Write(ctx context.Context, event *domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.Write(ctx, event)
}

func TestRecord(t *testing.T) {
	t.Run("LogsStoreFailure", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		svc := New(failingStore{NewMemoryStore()}, zap.New(core))

		svc.Record(context.Background(), domain.EventOperatorAdded, domain.SeverityInfo, "Operator added", nil,
			WithActor(alice), WithComponent("access"))

		entries := logs.FilterMessage("failed to record audit event").All()
		if len(entries) != 1 {
			t.Fatalf("Expected 1 error log, got %d", len(entries))
		}
		if entries[0].ContextMap()["type"] != string(domain.EventOperatorAdded) {
			t.Errorf("Expected type field, got %v", entries[0].ContextMap())
		}
	})

	t.Run("IgnoresCancellation", func(t *testing.T) {
		store := ctxStore{NewMemoryStore()}
		svc := New(store, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		svc.Record(ctx, domain.EventPaused, domain.SeverityCritical, "Paused", nil, WithActor(bob))
		if store.Len() != 1 {
			t.Errorf("Expected event stored after cancellation, got %d", store.Len())
		}
	})
}

func TestGetEventsFilter(t *testing.T) {
	ctx := context.Background()
	svc := New(NewMemoryStore(), nil)

	svc.Log(ctx, domain.EventDeposit, domain.SeverityInfo, "Deposit", nil, WithActor(alice), WithSubject(alice))
	svc.Log(ctx, domain.EventBetPlaced, domain.SeverityInfo, "Bet", nil, WithActor(bob), WithSubject(alice))
	svc.Log(ctx, domain.EventOperatorAdded, domain.SeverityInfo, "Operator", nil, WithActor(bob), WithSubject(bob))

	t.Run("NewestFirst", func(t *testing.T) {
		events, _ := svc.GetEvents(ctx, nil)
		if len(events) != 3 {
			t.Fatalf("Expected 3 events, got %d", len(events))
		}
		if events[0].Type != domain.EventOperatorAdded {
			t.Errorf("Expected newest event first, got %s", events[0].Type)
		}
	})

	t.Run("ByAddress", func(t *testing.T) {
		events, _ := svc.GetEvents(ctx, &EventFilter{Address: alice})
		if len(events) != 2 {
			t.Errorf("Expected 2 events touching alice, got %d", len(events))
		}
	})

	t.Run("ByType", func(t *testing.T) {
		events, _ := svc.GetEvents(ctx, &EventFilter{Type: domain.EventBetPlaced})
		if len(events) != 1 {
			t.Errorf("Expected 1 bet event, got %d", len(events))
		}
	})

	t.Run("Limit", func(t *testing.T) {
		events, _ := svc.GetEvents(ctx, &EventFilter{Limit: 2})
		if len(events) != 2 {
			t.Errorf("Expected 2 events, got %d", len(events))
		}
	})
}
