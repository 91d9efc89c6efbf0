package bus

import (
	"container/list"
	"sync"
	"time"
)

// DedupeCache is a bounded, TTL-expiring set of recently seen keys, used to
// drop duplicate inbound deliveries (webhook retries, double-taps) without
// re-running the agent for them.
type DedupeCache struct {
	ttl time.Duration
	max int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently seen
}

type dedupeEntry struct {
	key  string
	seen time.Time
}

// NewDedupeCache creates a cache that considers a key duplicate for ttl
// after it was last seen, evicting the oldest entry once more than max
// distinct keys are tracked.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// IsDuplicate reports whether key was already seen within the TTL window,
// and records it as seen (refreshing its position) regardless of outcome.
func (c *DedupeCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*dedupeEntry)
		expired := now.Sub(entry.seen) > c.ttl
		entry.seen = now
		c.order.MoveToFront(el)
		return !expired
	}

	el := c.order.PushFront(&dedupeEntry{key: key, seen: now})
	c.entries[key] = el

	if c.max > 0 {
		for c.order.Len() > c.max {
			back := c.order.Back()
			if back == nil {
				break
			}
			c.order.Remove(back)
			delete(c.entries, back.Value.(*dedupeEntry).key)
		}
	}
	return false
}

// Len returns the number of keys currently tracked.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
