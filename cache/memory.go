package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is the single-process fallback when no Redis URL is configured.
// Locks are only exclusive within this process.
type MemoryCache struct {
	entries *lru.Cache[string, memoryEntry]

	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryCache creates a cache bounded to size entries.
func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = 4096
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &MemoryCache{entries: entries, locks: make(map[string]memoryEntry), now: time.Now}, nil
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return "", nil
	}
	if e.expired(c.now()) {
		c.entries.Remove(key)
		return "", nil
	}
	return e.value, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	e := memoryEntry{value: s}
	if expiration > 0 {
		e.expiresAt = c.now().Add(expiration)
	}
	c.entries.Add(key, e)
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

func (c *MemoryCache) DeleteBatch(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		c.entries.Remove(k)
	}
	return nil
}

// DeleteAll removes keys matching a glob pattern, the subset of Redis MATCH
// syntax the repositories use.
func (c *MemoryCache) DeleteAll(ctx context.Context, pattern string) error {
	for _, k := range c.entries.Keys() {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			c.entries.Remove(k)
		}
	}
	return nil
}

func (c *MemoryCache) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if held, ok := c.locks[key]; ok && !held.expired(now) {
		return false, nil
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.locks[key] = e
	return true, nil
}

func (c *MemoryCache) ReleaseLock(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	held, ok := c.locks[key]
	if !ok || held.value != value {
		return errors.New("lock release failed: not the lock owner")
	}
	delete(c.locks, key)
	return nil
}
