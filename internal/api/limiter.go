package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limit defaults, per session.
const (
	DefaultRateLimit = 2.0
	DefaultRateBurst = 5

	limiterIdleTTL = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// sessionLimiter keeps one token bucket per session ID. Buckets idle for
// longer than limiterIdleTTL are swept on access.
type sessionLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

func newSessionLimiter(perSecond float64, burst int) *sessionLimiter {
	if perSecond <= 0 {
		perSecond = DefaultRateLimit
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	return &sessionLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Allow reports whether sessionID may run another turn now.
func (l *sessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for id, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.entries, id)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.entries[sessionID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[sessionID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *sessionLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
