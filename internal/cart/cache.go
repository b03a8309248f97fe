package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var errCacheMiss = errors.New("cache miss")

// RedisCache keeps a JSON copy of a user's server cart.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, baseTTL: 15 * time.Minute}
}

func (c *RedisCache) Get(ctx context.Context, userID string) ([]Entry, error) {
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return entries, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	// jitter keeps carts written together from expiring together
	ttl := c.baseTTL + time.Duration(rand.Intn(5))*time.Minute
	if err := c.client.Set(ctx, cacheKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return "cart:" + userID
}

// CachedMirror is a read-through Redis cache in front of another Mirror.
// Saves invalidate the entry; only a load that saw no save since it started
// may fill it. Cache failures are logged and never fail the call.
type CachedMirror struct {
	next   Mirror
	cache  *RedisCache
	logger *log.Logger
	sfg    singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64
}

func NewCachedMirror(next Mirror, cache *RedisCache, logger *log.Logger) *CachedMirror {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &CachedMirror{next: next, cache: cache, logger: logger, gen: make(map[string]uint64)}
}

func (m *CachedMirror) generation(userID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen[userID]
}

func (m *CachedMirror) bump(userID string) {
	m.mu.Lock()
	m.gen[userID]++
	m.mu.Unlock()
	m.sfg.Forget(userID)
}

// fill caches a loaded snapshot unless a save landed since gen was read.
// Holding mu keeps the write ordered before any later save's invalidation.
func (m *CachedMirror) fill(ctx context.Context, userID string, gen uint64, entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen[userID] != gen {
		return
	}
	if err := m.cache.Set(ctx, userID, entries); err != nil {
		m.logger.Printf("cart cache set user=%s: %v", userID, err)
	}
}

func (m *CachedMirror) Load(ctx context.Context, userID string) ([]Entry, error) {
	v, err, _ := m.sfg.Do(userID, func() (any, error) {
		// shared by every waiter, so one caller leaving must not fail the rest
		ctx := context.WithoutCancel(ctx)

		entries, err := m.cache.Get(ctx, userID)
		if err == nil {
			return entries, nil
		}
		if !errors.Is(err, errCacheMiss) {
			m.logger.Printf("cart cache get user=%s: %v", userID, err)
		}

		gen := m.generation(userID)
		entries, err = m.next.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		m.fill(ctx, userID, gen, entries)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	entries := v.([]Entry)
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *CachedMirror) Save(ctx context.Context, userID string, entries []Entry) error {
	m.bump(userID)
	err := m.next.Save(ctx, userID, entries)
	m.bump(userID)
	if err != nil {
		return err
	}
	if err := m.cache.Delete(ctx, userID); err != nil {
		m.logger.Printf("cart cache invalidate user=%s: %v", userID, err)
	}
	return nil
}
