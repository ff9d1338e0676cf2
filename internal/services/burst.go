package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor holds one bucket and the last time it was used, so idle buckets
// can be evicted.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BurstGuard is an in-process per-key token bucket that caps how fast one
// user can fire requests, on top of the ledger-backed windows. A guard with
// a non-positive rate admits everything.
//
// It is process-local; several gateway replicas each keep their own buckets.
// Safe for concurrent use.
type BurstGuard struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
	now      func() time.Time
}

// NewBurstGuard returns a guard refilling rps tokens per second into buckets
// of size burst (coerced to at least 1).
func NewBurstGuard(rps float64, burst int) *BurstGuard {
	if burst <= 0 {
		burst = 1
	}
	return &BurstGuard{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Enabled reports whether the guard limits anything.
func (g *BurstGuard) Enabled() bool {
	return g != nil && g.rps > 0
}

// Allow consumes one token from key's bucket.
func (g *BurstGuard) Allow(key string) bool {
	if !g.Enabled() || key == "" {
		return true
	}
	now := g.now()
	return g.bucket(key, now).AllowN(now, 1)
}

// bucket returns the limiter for key, creating it when absent. Every 5000
// lookups idle buckets are evicted first, so a stale bucket is dropped even
// when it is the one being requested.
func (g *BurstGuard) bucket(key string, now time.Time) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lookups++
	if g.lookups >= 5000 {
		for k, v := range g.visitors {
			if now.Sub(v.lastSeen) >= g.ttl {
				delete(g.visitors, k)
			}
		}
		g.lookups = 0
	}

	if v, ok := g.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(g.rps, g.burst)
	g.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}
