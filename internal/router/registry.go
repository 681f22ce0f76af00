package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lozlokesh-lgtm/taxi/internal/logging"
	"github.com/lozlokesh-lgtm/taxi/internal/observability"
)

// Registry holds the live sessions. Every session renders against the same
// shared trip store.
type Registry struct {
	deps    *Deps
	idleTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps, idleTTL time.Duration) *Registry {
	deps.defaults()
	deps.Logger = logging.Component(deps.Logger, "router")
	return &Registry{deps: &deps, idleTTL: idleTTL, sessions: make(map[string]*Session)}
}

func (r *Registry) Create() *Session {
	s := newSession(uuid.NewString(), r.deps)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	observability.SessionsActive.Inc()
	r.deps.Logger.Debug("session created", "session_id", s.ID)
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove tears the session down; its stream and pending async work stop.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.teardown()
	observability.SessionsActive.Dec()
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle for longer than the TTL and reports how many.
func (r *Registry) Sweep() int {
	now := r.deps.Clock.Now()
	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if now.Sub(s.LastSeen()) > r.idleTTL {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	n := 0
	for _, id := range stale {
		if r.Remove(id) {
			n++
		}
	}
	if n > 0 {
		r.deps.Logger.Info("expired idle sessions", "count", n)
	}
	return n
}

// RunJanitor sweeps idle sessions until ctx is done, then tears down all
// remaining sessions.
func (r *Registry) RunJanitor(ctx context.Context, every time.Duration) {
	ticker := r.deps.Clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Remove(id)
	}
}
