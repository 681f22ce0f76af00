package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	got []Event
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.got = append(r.got, e)
	return r.err
}

func TestEmitSwallowsErrors(t *testing.T) {
	p := &recordingPublisher{err: errors.New("broker down")}
	Emit(context.Background(), p, nil, Event{Type: TripAccepted, TripID: "t1"})
	if len(p.got) != 1 || p.got[0].TripID != "t1" {
		t.Fatalf("expected one publish attempt, got %v", p.got)
	}
	Emit(context.Background(), nil, nil, Event{Type: TripAccepted})
}

func TestLogPublisherNeverFails(t *testing.T) {
	if err := (LogPublisher{}).Publish(context.Background(), Event{Type: TripMessage}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

// gatedSink blocks every publish until release is closed.
type gatedSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []string
}

func (g *gatedSink) Publish(_ context.Context, e Event) error {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.got = append(g.got, e.TripID)
	return nil
}

func TestQueueKeepsPublishOrder(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	q := NewQueue(sink, 16, nil)
	for i := 0; i < 10; i++ {
		if err := q.Publish(context.Background(), Event{Type: TripMessage, TripID: fmt.Sprint(i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	close(sink.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fmt.Sprint(sink.got) != "[0 1 2 3 4 5 6 7 8 9]" {
		t.Fatalf("events reordered: %v", sink.got)
	}
	if err := q.Publish(context.Background(), Event{TripID: "late"}); err == nil {
		t.Fatalf("publish after close should fail")
	}
}

func TestQueueFullDropsInsteadOfBlocking(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	q := NewQueue(sink, 1, nil)
	var err error
	// One event may be held by the worker, one fits the buffer; the rest overflow.
	for i := 0; i < 5 && err == nil; i++ {
		err = q.Publish(context.Background(), Event{TripID: fmt.Sprint(i)})
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(sink.release)
	_ = q.Close(context.Background())
}
