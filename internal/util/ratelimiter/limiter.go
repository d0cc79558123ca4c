package ratelimiter

import (
	"sync"
	"time"
)

// Limiter allows one event per interval and counts the events it suppressed
// in between. It is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
	suppressed  int
	now         func() time.Time
}

// New creates a limiter allowing at most one event per interval.
func New(interval time.Duration) *Limiter {
	return &Limiter{interval: interval, now: time.Now}
}

// Allow reports whether the event may proceed. When it may, suppressed is
// the number of events rejected since the previous allowed one.
func (l *Limiter) Allow() (allowed bool, suppressed int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.lastAllowed.IsZero() && now.Sub(l.lastAllowed) < l.interval {
		l.suppressed++
		return false, 0
	}

	suppressed = l.suppressed
	l.lastAllowed = now
	l.suppressed = 0
	return true, suppressed
}

// Reset clears the limiter state, allowing the next event immediately.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.lastAllowed = time.Time{}
	l.suppressed = 0
	l.mu.Unlock()
}

// Interval returns the configured interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Keyed applies an independent Limiter per key, e.g. per upstream host.
// Keys idle for longer than the interval are dropped once maxKeys is reached.
type Keyed struct {
	mu       sync.Mutex
	interval time.Duration
	maxKeys  int
	limiters map[string]*Limiter
	now      func() time.Time
}

// NewKeyed creates a keyed limiter tracking at most maxKeys keys.
func NewKeyed(interval time.Duration, maxKeys int) *Keyed {
	if maxKeys < 1 {
		maxKeys = 1
	}
	return &Keyed{
		interval: interval,
		maxKeys:  maxKeys,
		limiters: make(map[string]*Limiter),
		now:      time.Now,
	}
}

// Allow applies the limiter for key.
func (k *Keyed) Allow(key string) (allowed bool, suppressed int) {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= k.maxKeys {
			k.evictLocked()
		}
		l = &Limiter{interval: k.interval, now: k.now}
		k.limiters[key] = l
	}
	k.mu.Unlock()

	return l.Allow()
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

func (k *Keyed) evictLocked() {
	now := k.now()
	for key, l := range k.limiters {
		l.mu.Lock()
		idle := now.Sub(l.lastAllowed) >= k.interval
		l.mu.Unlock()
		if idle {
			delete(k.limiters, key)
		}
	}
	// every key is active; drop an arbitrary one rather than grow
	if len(k.limiters) >= k.maxKeys {
		for key := range k.limiters {
			delete(k.limiters, key)
			break
		}
	}
}
