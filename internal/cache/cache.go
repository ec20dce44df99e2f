// Package cache provides the TTL cache for poll results. Entries expire
// lazily on read; there is no background sweeper.
package cache

import (
	"sync"
	"time"
)

// Well-known result sections.
const (
	SectionStatus     = "status"
	SectionInterfaces = "interfaces"
	SectionHealth     = "health"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a per-device, per-section store of recent poll results. Safe for
// concurrent use.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry

	now func() time.Time
}

// New builds a cache whose entries live for ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func key(deviceID, section string) string {
	return deviceID + "/" + section
}

// Get returns the cached value for a device section, or false when the entry
// is absent or expired. Expired entries are removed on the spot.
func (c *Cache) Get(deviceID, section string) (any, bool) {
	k := key(deviceID, section)

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have raced in.
		if cur, ok := c.entries[k]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores a value for a device section with a fresh TTL.
func (c *Cache) Set(deviceID, section string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(deviceID, section)] = entry{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops every cached section for one device.
func (c *Cache) Invalidate(deviceID string) {
	prefix := deviceID + "/"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports the number of live and expired entries currently held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
