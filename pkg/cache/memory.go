package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
}

// MemoryCache implements Service in process. Locks only exclude callers within
// the same process.
type MemoryCache struct {
	mu         sync.Mutex
	data       map[string]memoryItem
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		DefaultTTL: 7 * 24 * time.Hour,
		Now:        time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &MemoryCache{
		data:       make(map[string]memoryItem),
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
	}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = mc.defaultTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.data[key] = memoryItem{data: data, expireAt: mc.now().Add(expiration)}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.liveLocked(key)
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decodeValue(item.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, ok := mc.liveLocked(key); ok {
		return false, nil
	}
	mc.data[key] = memoryItem{data: []byte(owner), expireAt: mc.now().Add(ttl)}
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key, owner string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, ok := mc.liveLocked(key)
	if !ok || string(item.data) != owner {
		return ErrLocked
	}
	delete(mc.data, key)
	return nil
}

func (mc *MemoryCache) Close() error {
	return nil
}

// liveLocked returns the item for key, dropping it when expired.
func (mc *MemoryCache) liveLocked(key string) (memoryItem, bool) {
	item, ok := mc.data[key]
	if !ok {
		return memoryItem{}, false
	}
	if !mc.now().Before(item.expireAt) {
		delete(mc.data, key)
		return memoryItem{}, false
	}
	return item, true
}
