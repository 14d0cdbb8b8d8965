// Package assetcache provides the in-memory store for proxied remote assets.
// Entries expire after a TTL and the whole cache is discarded when the entry
// bound would be exceeded.
package assetcache

import (
	"sync"
	"time"
)

// Entry is one cached asset, keyed by the inbound request path.
type Entry struct {
	Payload     []byte
	ContentType string
	CreatedAt   time.Time
}

// Cache is safe for concurrent use. Concurrent inserts to the same key are
// last-writer-wins.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// New returns an empty cache with the given TTL and entry bound.
func New(ttl time.Duration, maxEntries int) *Cache {
	return NewWithClock(ttl, maxEntries, time.Now)
}

// NewWithClock is New with an injected clock. A non-positive bound is
// clamped to one entry.
func NewWithClock(ttl time.Duration, maxEntries int, clock func() time.Time) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		entries:    map[string]Entry{},
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        clock,
	}
}

// Lookup returns the entry for key if present and not expired. An expired
// entry is removed as a side effect and reported as a miss.
func (c *Cache) Lookup(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(entry.CreatedAt) > c.ttl {
		delete(c.entries, key)
		return Entry{}, false
	}

	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	entry.Payload = payload

	return entry, true
}

// Insert stores or overwrites the entry for key, stamped with the current
// time. When admitting a new key would push the count past the bound, the
// whole cache is cleared first; overwrites never trigger eviction.
func (c *Cache) Insert(key string, payload []byte, contentType string) {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries)+1 > c.maxEntries {
		c.entries = map[string]Entry{}
	}

	c.entries[key] = Entry{
		Payload:     buf,
		ContentType: contentType,
		CreatedAt:   c.now(),
	}
}

// Len returns the number of entries currently stored.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
