package eventsub

import "sync"

// dedupCache is a bounded set of recently-seen event IDs. When it grows past
// capacity, the oldest half is evicted rather than growing unbounded — a
// streaming session produces an effectively endless notification sequence,
// and exact LRU ordering doesn't matter here, only a bound on memory.
type dedupCache struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

func newDedupCache(capacity int) *dedupCache {
	return &dedupCache{
		seen:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// SeenOrRecord reports whether id was already recorded. If not, it is
// recorded and false is returned.
func (c *dedupCache) SeenOrRecord(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[id]; ok {
		return true
	}
	if len(c.order) >= c.capacity {
		half := c.capacity / 2
		for _, old := range c.order[:half] {
			delete(c.seen, old)
		}
		c.order = append(c.order[:0], c.order[half:]...)
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	return false
}
