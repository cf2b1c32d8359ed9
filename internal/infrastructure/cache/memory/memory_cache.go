// Package memory implements port.Cache in process. Values are stored JSON
// encoded, so Get behaves like the Redis cache and callers never share
// pointers with the cache.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
)

type item struct {
	data      []byte
	expiresAt time.Time
}

// Cache is a TTL map
type Cache struct {
	mu         sync.Mutex
	items      map[string]item
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates an empty cache
func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		items:      make(map[string]item),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get decodes the value into dest or returns port.ErrCacheMiss
func (c *Cache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	it, ok := c.items[key]
	if ok && !it.expiresAt.IsZero() && !c.now().Before(it.expiresAt) {
		delete(c.items, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return port.ErrCacheMiss
	}
	if err := json.Unmarshal(it.data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// Set stores the value; ttl <= 0 uses the default, and a zero default never expires
func (c *Cache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.items[key] = item{data: data, expiresAt: expiresAt}
	c.mu.Unlock()
	return nil
}

// Delete removes a key
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// DeletePattern removes keys matching a glob pattern
func (c *Cache) DeletePattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		matched, err := path.Match(pattern, key)
		if err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if matched {
			delete(c.items, key)
		}
	}
	return nil
}

// Close is a no-op
func (c *Cache) Close() error {
	return nil
}
