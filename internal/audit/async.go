package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/alexbotov/betledger/internal/domain"
	"go.uber.org/zap"
)

var (
	ErrSinkClosed    = errors.New("audit sink closed")
	ErrSinkQueueFull = errors.New("audit sink queue full")
)

// AsyncSink queues events for a slower sink and delivers them from a single
// goroutine, in order. Write never blocks; a full queue drops the event.
type AsyncSink struct {
	next    Sink
	name    string
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *domain.Event
	done   chan struct{}
}

// NewAsyncSink starts delivering to next. Each delivery gets timeout.
func NewAsyncSink(name string, next Sink, size int, timeout time.Duration, logger *zap.Logger) *AsyncSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AsyncSink{
		next:    next,
		name:    name,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan *domain.Event, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncSink) Write(_ context.Context, event *domain.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSinkClosed
	}
	select {
	case a.queue <- event:
		return nil
	default:
		return ErrSinkQueueFull
	}
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for event := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Write(ctx, event); err != nil {
			a.logger.Warn("audit event delivery failed",
				zap.String("sink", a.name),
				zap.Uint64("sequence", event.Sequence),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events, drains the queue and closes the wrapped
// sink when it is an io.Closer.
func (a *AsyncSink) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done

	if c, ok := a.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
