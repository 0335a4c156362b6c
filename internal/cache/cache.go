package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// CachedResponse represents a cached completion
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey hashes the ordered parts of a prompt. Each part is length-prefixed
// so that ("ab", "c") and ("a", "bc") produce different keys.
func GenerateCacheKey(parts ...string) string {
	h := sha256.New()
	var size [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Cache is a concurrency-safe response cache holding at most maxEntries entries.
// A zero TTL keeps entries until they are evicted for space; maxEntries <= 0 means unbounded.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]CachedResponse
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func New(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]CachedResponse),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached response for key if it has not expired
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.expired(cached, c.now()) {
		delete(c.entries, key)
		return "", false
	}
	return cached.Response, true
}

// Put stores response, first dropping expired entries and then the oldest one when full
func (c *Cache) Put(key, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = CachedResponse{Response: response, Timestamp: now}
}

// Len returns the number of stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(cached CachedResponse, now time.Time) bool {
	return c.ttl > 0 && now.Sub(cached.Timestamp) > c.ttl
}

func (c *Cache) evictLocked(now time.Time) {
	for key, cached := range c.entries {
		if c.expired(cached, now) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	var (
		oldestKey string
		oldest    time.Time
	)
	for key, cached := range c.entries {
		if oldestKey == "" || cached.Timestamp.Before(oldest) {
			oldestKey, oldest = key, cached.Timestamp
		}
	}
	delete(c.entries, oldestKey)
}
