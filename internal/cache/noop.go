package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

// NoOpCache never stores anything. Every Get misses.
type NoOpCache struct{}

func NewNoOpCache() *NoOpCache { return &NoOpCache{} }

func (NoOpCache) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoOpCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoOpCache) Delete(context.Context, string) error { return nil }

func (NoOpCache) DeleteByPattern(context.Context, string) error { return nil }

func (NoOpCache) Close() error { return nil }

// sweepInterval is how often MemoryCache drops expired entries
const sweepInterval = time.Minute

// MemoryCache is an in-process cache for standalone mode and tests. Expired
// entries miss immediately and are reclaimed by a background sweep.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !now.Before(e.expires)
}

// NewMemoryCache creates a MemoryCache; Close stops its sweeper
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		return nil, ErrCacheMiss
	}

	// callers may mutate what they get back
	return append([]byte(nil), e.value...), nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{
		value:   append([]byte(nil), value...),
		expires: time.Now().Add(ttl),
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// DeleteByPattern removes keys matching a path.Match glob
func (c *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
