package debtor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCache is a process-local payload cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]Context
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]Context)}
}

func (m *MemoryCache) Get(_ context.Context, subjectID string) (Context, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.items[subjectID]
	return c, ok, nil
}

func (m *MemoryCache) Put(_ context.Context, subjectID string, c Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[subjectID] = c
	return nil
}

// RedisCache shares supplied payloads between instances.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache on rdb. Keys are "<prefix><subjectID>" and
// expire after ttl (0 keeps them forever).
func NewRedisCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "debtor:"
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, subjectID string) (Context, bool, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+subjectID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Context{}, false, nil
	}
	if err != nil {
		return Context{}, false, fmt.Errorf("redis get: %w", err)
	}

	var c Context
	if err := json.Unmarshal(raw, &c); err != nil {
		return Context{}, false, fmt.Errorf("decode cached payload: %w", err)
	}
	return c, true, nil
}

func (r *RedisCache) Put(ctx context.Context, subjectID string, c Context) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := r.rdb.Set(ctx, r.prefix+subjectID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
