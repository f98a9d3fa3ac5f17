// Package cache provides the gateway's response cache: a key→entry mapping
// with expiry and access metadata behind get/set/evict operations. The
// eviction policy (TTL sweep with a least-recently-used fallback) is a pure
// function over the entry set, independent of any timer mechanism.
package cache

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	value      []byte
	expiresAt  time.Time
	lastAccess time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// New constructs a Cache. A zero ttl disables the cache entirely; a zero or
// negative capacity means unbounded.
func New(ttl time.Duration, capacity int) *Cache {
	return &Cache{
		entries:  make(map[string]*entry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Enabled reports whether the cache stores anything at all.
func (c *Cache) Enabled() bool {
	return c != nil && c.ttl > 0
}

// Get returns the cached value for key, refreshing its access time. Expired
// entries are removed and reported as misses.
func (c *Cache) Get(key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	e.lastAccess = now
	return e.value, true
}

// Set stores value under key and sweeps expired and over-capacity entries.
func (c *Cache) Set(key string, value []byte) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &entry{
		value:      value,
		expiresAt:  now.Add(c.ttl),
		lastAccess: now,
	}
	for _, k := range selectEvictions(c.entries, now, c.capacity) {
		delete(c.entries, k)
	}
}

// Evict removes key if present.
func (c *Cache) Evict(key string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	if !c.Enabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// selectEvictions returns the keys to remove from entries at time now: every
// expired entry, then the least-recently-used survivors until the remainder
// fits capacity. capacity <= 0 means unbounded.
func selectEvictions(entries map[string]*entry, now time.Time, capacity int) []string {
	var victims []string
	type live struct {
		key        string
		lastAccess time.Time
	}
	var survivors []live

	for k, e := range entries {
		if now.After(e.expiresAt) {
			victims = append(victims, k)
			continue
		}
		survivors = append(survivors, live{key: k, lastAccess: e.lastAccess})
	}

	if capacity > 0 && len(survivors) > capacity {
		sort.Slice(survivors, func(i, j int) bool {
			return survivors[i].lastAccess.Before(survivors[j].lastAccess)
		})
		for _, s := range survivors[:len(survivors)-capacity] {
			victims = append(victims, s.key)
		}
	}
	return victims
}
