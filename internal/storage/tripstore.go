package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lozlokesh-lgtm/taxi/internal/models"
)

var (
	ErrTripNotFound   = errors.New("trip not found")
	ErrTripNotPending = models.ErrTripNotPending
	ErrDuplicateTrip  = errors.New("trip already exists")
)

// TripStore is the single source of truth for trip records. Records are
// replaced whole on every mutation; callers only ever see snapshots.
type TripStore interface {
	Add(t models.Trip) error
	Accept(tripID string, a models.Assignment) (models.AcceptedTrip, error)
	AppendMessage(tripID string, m models.ChatMessage) (models.Trip, error)
	Get(id string) (models.Trip, bool)
	List() []models.Trip
	Len() int
}

// MemoryStore keeps trips newest-first by insertion. Internally the slice is
// oldest-first so a prepend is an append and positions never shift.
type MemoryStore struct {
	mu    sync.RWMutex
	trips []models.Trip
	index map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

// Add stores a new trip. Only pending trips may enter the store; every
// later state is reached through Accept.
func (m *MemoryStore) Add(t models.Trip) error {
	id := t.Details().ID
	if _, ok := t.(models.PendingTrip); !ok {
		return fmt.Errorf("add %s as %s: %w", id, t.Status(), ErrTripNotPending)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[id]; ok {
		return fmt.Errorf("add %s: %w", id, ErrDuplicateTrip)
	}
	m.index[id] = len(m.trips)
	m.trips = append(m.trips, t)
	return nil
}

// Accept re-checks the status under the write lock, so of two racing
// accepts exactly one wins and the other gets ErrTripNotPending.
func (m *MemoryStore) Accept(tripID string, a models.Assignment) (models.AcceptedTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[tripID]
	if !ok {
		return models.AcceptedTrip{}, fmt.Errorf("accept %s: %w", tripID, ErrTripNotFound)
	}
	acc, err := models.Accept(m.trips[i], a)
	if err != nil {
		return models.AcceptedTrip{}, fmt.Errorf("accept %s: %w", tripID, err)
	}
	m.trips[i] = acc
	return acc, nil
}

func (m *MemoryStore) AppendMessage(tripID string, msg models.ChatMessage) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[tripID]
	if !ok {
		return nil, fmt.Errorf("append message to %s: %w", tripID, ErrTripNotFound)
	}
	t := models.WithMessage(m.trips[i], msg)
	m.trips[i] = t
	return t, nil
}

func (m *MemoryStore) Get(id string) (models.Trip, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return m.trips[i], true
}

// List returns the trips newest-first by insertion.
func (m *MemoryStore) List() []models.Trip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Trip, len(m.trips))
	for i, t := range m.trips {
		out[len(m.trips)-1-i] = t
	}
	return out
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trips)
}
