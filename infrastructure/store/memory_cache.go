package store

import (
	"context"
	"sync"
	"time"

	"github.com/intellego/evalpipe/internal/ports"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process ports.CacheStore. Expired entries are
// dropped lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the value stored under key.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value. A zero expiration keeps it forever.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if expiration > 0 {
		e.expiresAt = c.now().Add(expiration)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete removes key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Clear removes every entry.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ ports.CacheStore = (*MemoryCache)(nil)
