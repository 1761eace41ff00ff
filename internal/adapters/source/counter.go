package source

import "sync"

// CounterTracker turns monotonically growing counters into deltas. Readings
// are staged by Observe and only become the baseline on Commit.
type CounterTracker struct {
	mu      sync.Mutex
	last    map[string]uint64
	pending map[string]uint64
}

func NewCounterTracker() *CounterTracker {
	return &CounterTracker{last: make(map[string]uint64), pending: make(map[string]uint64)}
}

// Observe stages value for key and returns how much it grew since the last
// committed reading. first is set when key has no committed reading, in
// which case the delta is value itself. A counter that went backwards means
// the proxy restarted and its counters began again from zero, so the delta
// is the new value.
func (c *CounterTracker) Observe(key string, value uint64) (delta uint64, first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[key] = value
	prev, seen := c.last[key]
	if !seen {
		return value, true
	}
	if value < prev {
		return value, false
	}
	return value - prev, false
}

// Commit makes the staged readings of keys the new baselines.
func (c *CounterTracker) Commit(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if v, ok := c.pending[k]; ok {
			c.last[k] = v
			delete(c.pending, k)
		}
	}
}

func (c *CounterTracker) Forget(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.last, k)
		delete(c.pending, k)
	}
}
