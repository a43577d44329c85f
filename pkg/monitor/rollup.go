package monitor

import (
	"container/list"
	"sync"
	"time"

	"github.com/openpulse/openpulse/pkg/stores"
)

// envCounts are the in-memory rollup counters for one environment.
type envCounts struct {
	Events        int64   `json:"events"`
	Errors        int64   `json:"errors"`
	ResponseSumMs float64 `json:"-"`
}

// rollupCache keeps per-environment counters for fast summary reads.
// Capacity is fixed: the least-recently-updated environment is evicted
// once the cap is reached, so memory stays bounded regardless of how
// many distinct environments are observed.
type rollupCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently updated

	total  int64
	errors int64
	since  time.Time
}

type rollupEntry struct {
	env    string
	counts envCounts
}

func newRollupCache(capacity int, now time.Time) *rollupCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &rollupCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		since:    now,
	}
}

// add folds one recorded event into the rollups.
func (c *rollupCache) add(event *stores.MonitoringEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	isError := event.StatusCode >= 400
	if isError {
		c.errors++
	}

	elem, ok := c.entries[event.Environment]
	if !ok {
		if len(c.entries) >= c.capacity {
			// Evict the least-recently-updated environment.
			oldest := c.order.Back()
			if oldest != nil {
				delete(c.entries, oldest.Value.(*rollupEntry).env)
				c.order.Remove(oldest)
			}
		}
		elem = c.order.PushFront(&rollupEntry{env: event.Environment})
		c.entries[event.Environment] = elem
	} else {
		c.order.MoveToFront(elem)
	}

	entry := elem.Value.(*rollupEntry)
	entry.counts.Events++
	if isError {
		entry.counts.Errors++
	}
	entry.counts.ResponseSumMs += event.ResponseTimeMs
}

// snapshot returns a copy of the rollup state.
func (c *rollupCache) snapshot() (total, errors int64, byEnv map[string]envCounts, since time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byEnv = make(map[string]envCounts, len(c.entries))
	for env, elem := range c.entries {
		byEnv[env] = elem.Value.(*rollupEntry).counts
	}
	return c.total, c.errors, byEnv, c.since
}
