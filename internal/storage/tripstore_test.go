package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lozlokesh-lgtm/taxi/internal/models"
)

func pending(id string, created int64) models.Trip {
	return models.PendingTrip{TripDetails: models.TripDetails{ID: id, CreatedAt: time.Unix(created, 0)}}
}

func ids(trips []models.Trip) []string {
	out := make([]string, len(trips))
	for i, t := range trips {
		out[i] = t.Details().ID
	}
	return out
}

func TestAddPrependsRegardlessOfTimestamp(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Add(pending("a", 300))
	_ = s.Add(pending("b", 100))
	_ = s.Add(pending("c", 200))
	got := fmt.Sprint(ids(s.List()))
	if got != "[c b a]" {
		t.Fatalf("expected newest insertion first, got %s", got)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 trips, got %d", s.Len())
	}
	if err := s.Add(pending("a", 1)); !errors.Is(err, ErrDuplicateTrip) {
		t.Fatalf("expected ErrDuplicateTrip, got %v", err)
	}
}

func TestAddRejectsNonPendingTrips(t *testing.T) {
	s := NewMemoryStore()
	d := models.TripDetails{ID: "x", CreatedAt: time.Unix(1, 0)}
	for _, tr := range []models.Trip{
		models.AcceptedTrip{TripDetails: d, Driver: models.Assignment{DriverID: "A"}},
		models.CompletedTrip{TripDetails: d},
		models.CancelledTrip{TripDetails: d},
	} {
		if err := s.Add(tr); !errors.Is(err, ErrTripNotPending) {
			t.Fatalf("adding a %s trip: expected ErrTripNotPending, got %v", tr.Status(), err)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("rejected trips must not be stored, have %d", s.Len())
	}
}

func TestAcceptFirstWins(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Add(pending("t1", 1))
	if _, err := s.Accept("t1", models.Assignment{DriverID: "A", DriverName: "Driver A"}); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := s.Accept("t1", models.Assignment{DriverID: "B", DriverName: "Driver B"}); !errors.Is(err, ErrTripNotPending) {
		t.Fatalf("second accept should be rejected, got %v", err)
	}
	tr, _ := s.Get("t1")
	a, ok := models.AssignmentOf(tr)
	if !ok || a.DriverID != "A" {
		t.Fatalf("expected trip assigned to A, got %+v", a)
	}
	if _, err := s.Accept("missing", models.Assignment{DriverID: "A"}); !errors.Is(err, ErrTripNotFound) {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
}

func TestAcceptConcurrentExactlyOneWinner(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Add(pending("t1", 1))
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Accept("t1", models.Assignment{DriverID: fmt.Sprintf("d%d", i)}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestAppendMessageKeepsOrder(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Add(pending("t1", 1))
	const n = 5
	for i := 0; i < n; i++ {
		if _, err := s.AppendMessage("t1", models.ChatMessage{ID: fmt.Sprint(i), Text: fmt.Sprint("msg ", i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	tr, _ := s.Get("t1")
	h := tr.Details().ChatHistory
	if len(h) != n {
		t.Fatalf("expected %d messages, got %d", n, len(h))
	}
	for i, m := range h {
		if m.ID != fmt.Sprint(i) {
			t.Fatalf("message %d out of order: %s", i, m.ID)
		}
	}
	again, _ := s.Get("t1")
	if fmt.Sprint(again.Details().ChatHistory) != fmt.Sprint(h) {
		t.Fatalf("repeated read differs")
	}
	if _, err := s.AppendMessage("gone", models.ChatMessage{ID: "x"}); !errors.Is(err, ErrTripNotFound) {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
}

func TestAppendKeepsAcceptedVariant(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Add(pending("t1", 1))
	_, _ = s.Accept("t1", models.Assignment{DriverID: "A"})
	tr, err := s.AppendMessage("t1", models.ChatMessage{ID: "m1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if tr.Status() != models.StatusAccepted {
		t.Fatalf("append changed status to %s", tr.Status())
	}
}
