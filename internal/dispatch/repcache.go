package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/jonboulle/clockwork"
)

// CachedDirectory wraps a RepDirectory with an in-memory LRU cache whose
// entries expire after ttl. A storm typically matches many properties owned by
// the same few reps, so one lookup serves the whole run.
type CachedDirectory struct {
	inner domain.RepDirectory
	cache *lruCache
}

// NewCachedDirectory creates a cache decorator around a rep directory.
func NewCachedDirectory(inner domain.RepDirectory, maxEntries int, ttl time.Duration, clock clockwork.Clock) *CachedDirectory {
	return &CachedDirectory{
		inner: inner,
		cache: newLRUCache(maxEntries, ttl, clock),
	}
}

func (c *CachedDirectory) RepContact(ctx context.Context, repID string) (domain.RepContact, error) {
	if rep, ok := c.cache.get(repID); ok {
		return rep, nil
	}
	rep, err := c.inner.RepContact(ctx, repID)
	if err != nil {
		return rep, err
	}
	c.cache.put(repID, rep)
	return rep, nil
}

// lruCache is a thread-safe LRU cache of rep contacts with per-entry expiry.
type lruCache struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry
	head    *entry // most recently used
	tail    *entry // least recently used
}

type entry struct {
	key       string
	value     domain.RepContact
	expiresAt time.Time
	prev      *entry
	next      *entry
}

func newLRUCache(maxEntries int, ttl time.Duration, clock clockwork.Clock) *lruCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.RepContact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.RepContact{}, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.remove(e)
		return domain.RepContact{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.RepContact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(c.ttl)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
