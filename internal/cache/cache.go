package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

type Item[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Cache is a TTL map safe for concurrent use. Expired entries are dropped on
// read and by a background sweep until Close is called.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]Item[V]
	now   func() time.Time

	stop chan struct{}
	once sync.Once
}

// New starts a cache that sweeps expired entries every interval
// (hourly when interval is zero).
func New[V any](interval time.Duration) *Cache[V] {
	if interval <= 0 {
		interval = time.Hour
	}
	c := &Cache[V]{
		items: make(map[string]Item[V]),
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	go c.cleanupLoop(interval)

	return c
}

func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Item[V]{
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !exists {
		return zero, false
	}

	if c.now().After(item.ExpiresAt) {
		return c.evict(key)
	}

	return item.Value, true
}

// evict drops key only if it is still expired under the write lock, so a
// Set that lands after the read is kept and returned.
func (c *Cache[V]) evict(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, exists := c.items[key]
	if !exists {
		return zero, false
	}
	if c.now().After(item.ExpiresAt) {
		delete(c.items, key)
		return zero, false
	}
	return item.Value, true
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background sweep.
func (c *Cache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Key joins parts into a fixed-length cache key.
func Key(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.ExpiresAt) {
			delete(c.items, key)
		}
	}
}
