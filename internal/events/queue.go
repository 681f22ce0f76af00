package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lozlokesh-lgtm/taxi/internal/logging"
	"github.com/lozlokesh-lgtm/taxi/internal/observability"
)

var ErrQueueFull = errors.New("event queue full")

// Queue decouples callers from a slow sink. Publish only enqueues; a single
// worker forwards events to the sink in the order they were published.
type Queue struct {
	sink   Publisher
	logger *slog.Logger
	ch     chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewQueue(sink Publisher, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	q := &Queue{
		sink:   sink,
		logger: logging.Component(logger, "events"),
		ch:     make(chan Event, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Publish enqueues e. It never blocks; a full queue drops the event and
// reports ErrQueueFull.
func (q *Queue) Publish(_ context.Context, e Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errors.New("event queue closed")
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for e := range q.ch {
		if err := q.sink.Publish(context.Background(), e); err != nil {
			observability.EventPublishErrors.Inc()
			q.logger.Warn("publish trip event failed", "type", e.Type, "trip_id", e.TripID, "error", err)
		}
	}
}

// Close stops accepting events and waits until queued ones reached the sink
// or ctx ends.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
