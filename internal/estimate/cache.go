package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/lozlokesh-lgtm/taxi/internal/models"
)

// Cache stores successful estimates keyed by route. A miss is (nil, nil).
type Cache interface {
	Get(ctx context.Context, pickup, dropoff string) (*models.TripEstimate, error)
	Set(ctx context.Context, pickup, dropoff string, e models.TripEstimate) error
}

// routeKey normalizes a route so "Central Station" and " central station "
// share an entry.
func routeKey(pickup, dropoff string) string {
	norm := func(s string) string { return strings.Join(strings.Fields(strings.ToLower(s)), " ") }
	return norm(pickup) + "->" + norm(dropoff)
}

// MemoryCache is a tiny in-process TTL cache.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	clock clockwork.Clock
}

type cacheEntry struct {
	v  models.TripEstimate
	ts time.Time
}

func NewMemoryCache(ttl time.Duration, clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{store: make(map[string]cacheEntry), ttl: ttl, clock: clock}
}

func (c *MemoryCache) Get(_ context.Context, pickup, dropoff string) (*models.TripEstimate, error) {
	k := routeKey(pickup, dropoff)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if c.clock.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return nil, nil
	}
	v := e.v
	return &v, nil
}

func (c *MemoryCache) Set(_ context.Context, pickup, dropoff string, e models.TripEstimate) error {
	k := routeKey(pickup, dropoff)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: e, ts: c.clock.Now()}
	c.mu.Unlock()
	return nil
}

// RedisCache shares estimates across restarts and replicas of the demo.
type RedisCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "estimate:", ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, pickup, dropoff string) (*models.TripEstimate, error) {
	b, err := r.client.Get(ctx, r.prefix+routeKey(pickup, dropoff)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e models.TripEstimate
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *RedisCache) Set(ctx context.Context, pickup, dropoff string, e models.TripEstimate) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+routeKey(pickup, dropoff), b, r.ttl).Err()
}
