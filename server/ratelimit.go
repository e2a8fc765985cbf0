package main

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter hands out one token bucket per client key.
type keyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*limiterEntry
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// newKeyedLimiter allows n events per window with a burst of n.
func newKeyedLimiter(n int, window time.Duration) *keyedLimiter {
	return &keyedLimiter{
		limit:   rate.Every(window / time.Duration(n)),
		burst:   n,
		buckets: map[string]*limiterEntry{},
	}
}

func (k *keyedLimiter) allow(key string) bool {
	now := time.Now()
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.buckets[key]
	if !ok {
		if len(k.buckets) > 10000 {
			k.sweepLocked(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// sweepLocked forgets buckets idle long enough to have refilled.
func (k *keyedLimiter) sweepLocked(now time.Time) {
	idle := time.Duration(float64(k.burst) / float64(k.limit) * float64(time.Second))
	for key, e := range k.buckets {
		if now.Sub(e.seen) > idle {
			delete(k.buckets, key)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *api) withRateLimit(lim *keyedLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !lim.allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "too many requests", "code": "rate_limited"})
			return
		}
		next(w, r)
	}
}
