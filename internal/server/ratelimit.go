package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Idle entries are purged on use; an hour of silence forgets an identity.
const limiterIdleTTL = time.Hour

// RequestLimiter applies a per-identity request rate to the ask endpoint.
// Limits are keyed by client identity so one noisy origin cannot starve the
// others.
type RequestLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	perMinute int
	now       func() time.Time // for testing
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRequestLimiter creates a limiter allowing perMinute requests per
// identity, with bursts up to the full minute's allowance.
func NewRequestLimiter(perMinute int) *RequestLimiter {
	return &RequestLimiter{
		entries:   make(map[string]*limiterEntry),
		limit:     rate.Limit(float64(perMinute) / 60.0),
		burst:     perMinute,
		perMinute: perMinute,
		now:       time.Now,
	}
}

// Allow reports whether identity may make a request now.
func (l *RequestLimiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.entries, id)
		}
	}

	e, ok := l.entries[identity]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.entries[identity] = e
	}
	e.lastSeen = now
	return e.lim.Allow()
}

// PerMinute returns the configured per-identity allowance.
func (l *RequestLimiter) PerMinute() int { return l.perMinute }
