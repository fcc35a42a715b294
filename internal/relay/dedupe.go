package relay

import (
	"container/list"
	"sync"
	"time"
)

// seenCache remembers message keys for ttl, holding at most maxSize entries.
// Expired entries are dropped lazily on insert.
type seenCache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type seenEntry struct {
	key string
	at  time.Time
}

func newSeenCache(ttl time.Duration, maxSize int) *seenCache {
	return &seenCache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// CheckAndMark reports whether key was already seen, and marks it if not.
func (c *seenCache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)

	if el, ok := c.seen[key]; ok {
		if now.Sub(el.Value.(*seenEntry).at) < c.ttl {
			return true
		}
		c.order.Remove(el)
		delete(c.seen, key)
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(*seenEntry).key)
		}
	}
	c.seen[key] = c.order.PushBack(&seenEntry{key: key, at: now})
	return false
}

func (c *seenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *seenCache) expireLocked(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*seenEntry)
		if now.Sub(e.at) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, e.key)
	}
}
