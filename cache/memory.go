package cache

import (
	"container/list"
	"sync"
	"time"
)

// memoryCache is the L1 tier: an LRU bounded by both entry count and
// total byte size, with per-entry TTL. Off-the-shelf LRUs bound entries
// only; distilled pages vary from a few KB to megabytes, so the byte
// budget is what actually protects the heap.
type memoryCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recent
	maxItems int
	maxBytes int64
	ttl      time.Duration
	curBytes int64
}

type memEntry struct {
	key       string
	value     []byte
	size      int64
	expiresAt time.Time
}

func newMemoryCache(maxItems int, maxBytes int64, ttl time.Duration) *memoryCache {
	return &memoryCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		maxItems: maxItems,
		maxBytes: maxBytes,
		ttl:      ttl,
	}
}

func (c *memoryCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memEntry)
	if time.Now().After(e.expiresAt) {
		c.removeLocked(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

func (c *memoryCache) set(key string, value []byte) {
	size := int64(len(value)) + int64(len(key))

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	// A value bigger than the whole budget is not cacheable.
	if size > c.maxBytes {
		return
	}

	e := &memEntry{
		key:       key,
		value:     value,
		size:      size,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.entries[key] = c.order.PushFront(e)
	c.curBytes += size

	for c.curBytes > c.maxBytes || c.order.Len() > c.maxItems {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

func (c *memoryCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

func (c *memoryCache) removeLocked(el *list.Element) {
	e := el.Value.(*memEntry)
	c.order.Remove(el)
	delete(c.entries, e.key)
	c.curBytes -= e.size
}

func (c *memoryCache) stats() (items int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.curBytes
}
