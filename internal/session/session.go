// Package session caches authenticated publish sessions per target.
//
// Entries are evicted on read once expired, which forces a fresh login on the
// next dispatch. There is no negative caching.
package session

import (
	"sync"
	"time"
)

// DefaultTTL is how long a cached session stays valid after Put.
const DefaultTTL = time.Hour

// Session is an opaque authenticated handle for one target.
type Session struct {
	Handle    any
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Cache holds at most one session per target.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]Session
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, entries: map[string]Session{}}
}

// Get returns the cached session for target if it has not expired at now.
// Expired entries are evicted before returning.
func (c *Cache) Get(target string, now time.Time) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[target]
	if !ok {
		return Session{}, false
	}
	if !now.Before(s.ExpiresAt) {
		delete(c.entries, target)
		return Session{}, false
	}
	return s, true
}

// Put stores handle for target, overwriting any prior entry. The session
// expires TTL after now.
func (c *Cache) Put(target string, handle any, now time.Time) Session {
	s := Session{Handle: handle, CreatedAt: now, ExpiresAt: now.Add(c.ttl)}
	c.mu.Lock()
	c.entries[target] = s
	c.mu.Unlock()
	return s
}

// Invalidate drops the cached session for target, if any. Called when a
// publish fails with an auth error so the next attempt re-logs-in.
func (c *Cache) Invalidate(target string) {
	c.mu.Lock()
	delete(c.entries, target)
	c.mu.Unlock()
}

// Len reports the number of cached (possibly expired) entries. Diagnostics
// only.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
