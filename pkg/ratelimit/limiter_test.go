package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is an adjustable clock for window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAdmitUpToLimit(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(clock.Now)

	const limit = 1000
	for i := 0; i < limit; i++ {
		if !limiter.Admit("10.0.0.5", "prod", limit, 60) {
			t.Fatalf("admit %d unexpectedly rejected", i+1)
		}
	}

	// The (limit+1)-th call within the window is rejected.
	if limiter.Admit("10.0.0.5", "prod", limit, 60) {
		t.Error("expected rejection once limit reached")
	}
}

func TestWindowExpiry(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(clock.Now)

	for i := 0; i < 3; i++ {
		if !limiter.Admit("ip", "prod", 3, 60) {
			t.Fatalf("admit %d unexpectedly rejected", i+1)
		}
	}
	if limiter.Admit("ip", "prod", 3, 60) {
		t.Error("expected rejection inside window")
	}

	clock.Advance(61 * time.Second)
	if !limiter.Admit("ip", "prod", 3, 60) {
		t.Error("expected admission after window expiry")
	}
}

func TestZeroLimitRejects(t *testing.T) {
	limiter := NewLimiter(nil)
	if limiter.Admit("ip", "prod", 0, 60) {
		t.Error("expected limit 0 to reject unconditionally")
	}
}

func TestFirstSeenKeyAdmitted(t *testing.T) {
	limiter := NewLimiter(nil)
	if !limiter.Admit("never-seen", "prod", 1, 60) {
		t.Error("expected first use of a key to be admitted")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(clock.Now)

	if !limiter.Admit("a", "prod", 1, 60) {
		t.Fatal("first admit for key a rejected")
	}
	if limiter.Admit("a", "prod", 1, 60) {
		t.Error("expected key a to be exhausted")
	}
	if !limiter.Admit("a", "staging", 1, 60) {
		t.Error("expected same identity in another environment to be admitted")
	}
	if !limiter.Admit("b", "prod", 1, 60) {
		t.Error("expected key b to be admitted")
	}
}

func TestCountDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(clock.Now)

	limiter.Admit("ip", "prod", 10, 60)
	limiter.Admit("ip", "prod", 10, 60)

	for i := 0; i < 5; i++ {
		if got := limiter.Count("ip", "prod", 60); got != 2 {
			t.Fatalf("expected count 2, got %d", got)
		}
	}
	if got := limiter.Count("unknown", "prod", 60); got != 0 {
		t.Errorf("expected count 0 for unknown key, got %d", got)
	}
}

func TestPruneEvictsIdleKeys(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(clock.Now)

	limiter.Admit("old", "prod", 10, 60)
	clock.Advance(10 * time.Minute)
	limiter.Admit("fresh", "prod", 10, 60)

	removed := limiter.Prune(5 * time.Minute)
	if removed != 1 {
		t.Errorf("expected 1 pruned key, got %d", removed)
	}
	if limiter.Size() != 1 {
		t.Errorf("expected 1 tracked key, got %d", limiter.Size())
	}
}

func TestConcurrentAdmit(t *testing.T) {
	limiter := NewLimiter(nil)

	const (
		workers = 8
		limit   = 100
	)
	admitted := make(chan bool, workers*limit)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < limit; i++ {
				admitted <- limiter.Admit("shared", "prod", limit, 60)
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	if count != limit {
		t.Errorf("expected exactly %d admissions under concurrency, got %d", limit, count)
	}
}
