package location

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-session/internal/models"
)

// Estimator returns a travel time in seconds between two points.
type Estimator interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// NaiveEstimator is distance / speed. Zero speed means ~28.8 km/h city traffic.
type NaiveEstimator struct {
	SpeedMps float64
}

func (n NaiveEstimator) EstimateSeconds(from, to models.Coord) (float64, error) {
	return n.estimate(from, to), nil
}

func (n NaiveEstimator) estimate(from, to models.Coord) float64 {
	speed := n.SpeedMps
	if speed <= 0 {
		speed = 8.0
	}
	return Haversine(from.Lat, from.Lon, to.Lat, to.Lon) / speed
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

// Coordinates are rounded to ~11m so a crawling driver still hits the cache.
func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// CachedEstimator consults the cache, then Next, then the naive estimate.
type CachedEstimator struct {
	Next  Estimator
	Cache *Cache
	Speed float64
}

func (c *CachedEstimator) EstimateSeconds(from, to models.Coord) (float64, error) {
	if v, ok := c.Cache.Get(from, to); ok {
		return v, nil
	}
	if c.Next != nil {
		if v, err := c.Next.EstimateSeconds(from, to); err == nil {
			c.Cache.Set(from, to, v)
			return v, nil
		}
	}
	return NaiveEstimator{SpeedMps: c.Speed}.EstimateSeconds(from, to)
}
