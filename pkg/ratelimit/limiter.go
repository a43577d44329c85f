// Package ratelimit implements sliding-window admission control keyed
// by (identity, environment). Windows hold the timestamps of admitted
// requests in the trailing interval ending at "now"; rejected attempts
// do not consume capacity.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter maintains a trailing-window count per key. Safe for
// concurrent callers: the key map and each window carry their own lock.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	mu    sync.Mutex
	times []time.Time
}

// NewLimiter creates a limiter. The clock is injectable for tests;
// nil means time.Now.
func NewLimiter(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		windows: make(map[string]*window),
		now:     now,
	}
}

// Admit reports whether one more request for (identity, environment)
// fits under limit requests per windowSeconds. A limit of zero rejects
// unconditionally; a never-seen key is always admitted on first use.
func (l *Limiter) Admit(identity, environment string, limit int, windowSeconds int) bool {
	if limit <= 0 {
		return false
	}

	key := identity + "|" + environment
	w := l.getWindow(key)

	now := l.now()
	cutoff := now.Add(-time.Duration(windowSeconds) * time.Second)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(cutoff)

	if len(w.times) >= limit {
		return false
	}

	w.times = append(w.times, now)
	return true
}

// Count returns the current in-window count for a key without
// consuming capacity.
func (l *Limiter) Count(identity, environment string, windowSeconds int) int {
	key := identity + "|" + environment

	l.mu.Lock()
	w, ok := l.windows[key]
	l.mu.Unlock()
	if !ok {
		return 0
	}

	cutoff := l.now().Add(-time.Duration(windowSeconds) * time.Second)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(cutoff)
	return len(w.times)
}

// Prune drops windows whose newest entry is older than maxIdle,
// bounding memory regardless of the number of distinct keys observed.
// Intended to run as a periodic background task.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		stale := len(w.times) == 0 || w.times[len(w.times)-1].Before(cutoff)
		w.mu.Unlock()
		if stale {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) getWindow(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

// prune drops timestamps outside the trailing window. Caller holds w.mu.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}
