// Package sim produces the fake "real-time" activity of the demo: random
// trip requests arriving while the board is quiet, plus the seeded demo trip.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lozlokesh-lgtm/taxi/internal/events"
	"github.com/lozlokesh-lgtm/taxi/internal/logging"
	"github.com/lozlokesh-lgtm/taxi/internal/models"
	"github.com/lozlokesh-lgtm/taxi/internal/observability"
	"github.com/lozlokesh-lgtm/taxi/internal/storage"
)

// Rand is the subset of *rand.Rand the generator draws from.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Arrivals injects a pending trip on each tick with the configured
// probability while the store holds fewer than MaxTrips trips.
type Arrivals struct {
	Store       storage.TripStore
	Clock       clockwork.Clock
	Rand        Rand
	Interval    time.Duration
	Probability float64
	MaxTrips    int
	Publisher   events.Publisher
	Logger      *slog.Logger
}

func NewArrivals(store storage.TripStore, clock clockwork.Clock, interval time.Duration, probability float64, maxTrips int) *Arrivals {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Arrivals{
		Store:       store,
		Clock:       clock,
		Rand:        rand.New(rand.NewPCG(uint64(clock.Now().UnixNano()), 0x7ea1cab)),
		Interval:    interval,
		Probability: probability,
		MaxTrips:    maxTrips,
		Logger:      logging.Discard(),
	}
}

// Run blocks until ctx is cancelled. The ticker is owned by this call and
// stopped on return, so nothing fires after shutdown.
func (a *Arrivals) Run(ctx context.Context) {
	ticker := a.Clock.NewTicker(a.Interval)
	defer ticker.Stop()
	a.Logger.Info("trip arrival simulation started", "interval", a.Interval, "probability", a.Probability, "max_trips", a.MaxTrips)
	for {
		select {
		case <-ctx.Done():
			a.Logger.Info("trip arrival simulation stopped")
			return
		case <-ticker.Chan():
			a.Step(ctx)
		}
	}
}

// Step runs one tick and reports the trip it added, if any.
func (a *Arrivals) Step(ctx context.Context) (models.Trip, bool) {
	if a.Store.Len() >= a.MaxTrips {
		return nil, false
	}
	if a.Rand.Float64() >= a.Probability {
		return nil, false
	}
	t := a.randomTrip()
	if err := a.Store.Add(t); err != nil {
		a.Logger.Warn("simulated trip rejected", "trip_id", t.ID, "error", err)
		return nil, false
	}
	observability.TripsCreated.WithLabelValues("simulated").Inc()
	a.Logger.Debug("simulated trip arrived", "trip_id", t.ID)
	events.Emit(ctx, a.Publisher, a.Logger, events.Event{Type: events.TripArrived, TripID: t.ID, Status: models.StatusPending, At: t.CreatedAt})
	return t, true
}

func (a *Arrivals) randomTrip() models.PendingTrip {
	return models.PendingTrip{TripDetails: models.TripDetails{
		ID:              uuid.NewString(),
		PassengerName:   fmt.Sprintf("Random User %d", a.Rand.IntN(100)),
		PassengerPhone:  "555-0000",
		PickupLocation:  "Downtown Market",
		DropoffLocation: "City Airport",
		Time:            "Now",
		Passengers:      1,
		Estimate:        &models.TripEstimate{PriceRange: "$25 - $30", Duration: "25 min", Distance: "15 km"},
		CreatedAt:       a.Clock.Now(),
		ChatHistory:     []models.ChatMessage{},
	}}
}

// DemoTrips is the board a fresh process starts with.
func DemoTrips(now time.Time) []models.Trip {
	return []models.Trip{
		models.PendingTrip{TripDetails: models.TripDetails{
			ID:              "t1",
			PassengerName:   "Alice Smith",
			PassengerPhone:  "555-1111",
			PickupLocation:  "Central Station",
			DropoffLocation: "Grand Hotel",
			Time:            "14:30",
			Passengers:      2,
			Estimate:        &models.TripEstimate{PriceRange: "$12 - $15", Duration: "12 min", Distance: "4.2 km"},
			CreatedAt:       now.Add(-100 * time.Second),
			ChatHistory:     []models.ChatMessage{},
		}},
	}
}

// Seed adds the demo trips to store.
func Seed(store storage.TripStore, now time.Time) error {
	for _, t := range DemoTrips(now) {
		if err := store.Add(t); err != nil {
			return err
		}
		observability.TripsCreated.WithLabelValues("seed").Inc()
	}
	return nil
}
