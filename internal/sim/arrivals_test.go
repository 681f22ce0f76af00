package sim

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lozlokesh-lgtm/taxi/internal/models"
	"github.com/lozlokesh-lgtm/taxi/internal/storage"
)

type fixedRand struct{ f float64 }

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(n int) int   { return 42 % n }

func TestStepInjectsWhenLucky(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewArrivals(store, clockwork.NewFakeClock(), 5*time.Second, 0.2, 5)
	a.Rand = fixedRand{f: 0.1}

	tr, ok := a.Step(context.Background())
	if !ok {
		t.Fatalf("expected a trip")
	}
	d := tr.Details()
	if tr.Status() != models.StatusPending || d.PassengerName != "Random User 42" || d.PickupLocation != "Downtown Market" {
		t.Fatalf("unexpected simulated trip %+v", d)
	}
	if d.Estimate == nil || d.Estimate.PriceRange != "$25 - $30" {
		t.Fatalf("expected canned estimate, got %+v", d.Estimate)
	}
	if store.List()[0].Details().ID != d.ID {
		t.Fatalf("simulated trip not prepended")
	}
}

func TestStepSkipsWhenUnlucky(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewArrivals(store, clockwork.NewFakeClock(), 5*time.Second, 0.2, 5)
	a.Rand = fixedRand{f: 0.5}
	if _, ok := a.Step(context.Background()); ok || store.Len() != 0 {
		t.Fatalf("expected no trip")
	}
}

func TestStepStopsAtMaxTrips(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewArrivals(store, clockwork.NewFakeClock(), 5*time.Second, 1, 3)
	a.Rand = fixedRand{f: 0}
	for i := 0; i < 10; i++ {
		a.Step(context.Background())
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 trips, got %d", store.Len())
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	a := NewArrivals(store, clock, 5*time.Second, 1, 5)
	a.Rand = fixedRand{f: 0}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one trip after one tick, got %d", store.Len())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestSeedDemoTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Unix(1_000, 0)
	if err := Seed(store, now); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tr, ok := store.Get("t1")
	if !ok {
		t.Fatalf("t1 missing")
	}
	d := tr.Details()
	if d.PickupLocation != "Central Station" || d.DropoffLocation != "Grand Hotel" || !d.CreatedAt.Equal(now.Add(-100*time.Second)) {
		t.Fatalf("unexpected seed %+v", d)
	}
}
