package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

type countingMirror struct {
	mu      sync.Mutex
	entries []Entry
	loads   int
	release chan struct{}
}

func (c *countingMirror) Load(ctx context.Context, userID string) ([]Entry, error) {
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	return c.entries, nil
}

func (c *countingMirror) Save(ctx context.Context, userID string, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	return nil
}

func TestRedisCacheSetGet(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	entries := []Entry{{Key: LineItemKey{ProductID: 7, Variant: "XL"}, Quantity: 2}}
	require.NoError(t, cache.Set(ctx, "user-1", entries))

	got, err := cache.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	ttl := mr.TTL(cacheKey("user-1"))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.LessOrEqual(t, ttl, 20*time.Minute)
}

func TestRedisCacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	_, err := cache.Get(context.Background(), "nobody")
	require.ErrorIs(t, err, errCacheMiss)
}

func TestCachedMirrorReadThrough(t *testing.T) {
	cache, mr := setupTestRedis(t)
	next := &countingMirror{entries: []Entry{{Key: LineItemKey{ProductID: 1}, Quantity: 3}}}
	m := NewCachedMirror(next, cache, nil)
	ctx := context.Background()

	first, err := m.Load(ctx, "user-1")
	require.NoError(t, err)
	second, err := m.Load(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.loads)
	assert.True(t, mr.Exists(cacheKey("user-1")))
}

func TestCachedMirrorCollapsesConcurrentMisses(t *testing.T) {
	cache, _ := setupTestRedis(t)
	next := &countingMirror{release: make(chan struct{})}
	m := NewCachedMirror(next, cache, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Load(context.Background(), "user-1")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.LessOrEqual(t, next.loads, 2)
}

func TestCachedMirrorSaveInvalidatesCache(t *testing.T) {
	cache, mr := setupTestRedis(t)
	next := &countingMirror{entries: []Entry{{Key: LineItemKey{ProductID: 4}, Quantity: 1}}}
	m := NewCachedMirror(next, cache, nil)
	ctx := context.Background()

	_, err := m.Load(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, mr.Exists(cacheKey("user-1")))

	entries := []Entry{{Key: LineItemKey{ProductID: 4}, Quantity: 2}}
	require.NoError(t, m.Save(ctx, "user-1", entries))
	assert.False(t, mr.Exists(cacheKey("user-1")))

	got, err := m.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entries, got)
	assert.Equal(t, 2, next.loads)
	assert.True(t, mr.Exists(cacheKey("user-1")))
}

// snapshotMirror reads its entries before waiting, like a query that
// started before a concurrent write committed.
type snapshotMirror struct {
	countingMirror
	started chan struct{}
	gate    chan struct{}
}

func (s *snapshotMirror) Load(ctx context.Context, userID string) ([]Entry, error) {
	s.mu.Lock()
	snapshot := s.entries
	s.mu.Unlock()
	if s.started != nil {
		close(s.started)
		s.started = nil
		<-s.gate
	}
	return snapshot, nil
}

func TestCachedMirrorLoadRacingSaveLeavesCacheEmpty(t *testing.T) {
	cache, mr := setupTestRedis(t)
	old := []Entry{{Key: LineItemKey{ProductID: 5}, Quantity: 1}}
	next := &snapshotMirror{
		countingMirror: countingMirror{entries: old},
		started:        make(chan struct{}),
		gate:           make(chan struct{}),
	}
	started := next.started
	m := NewCachedMirror(next, cache, nil)
	ctx := context.Background()

	loaded := make(chan []Entry, 1)
	go func() {
		got, _ := m.Load(ctx, "user-1")
		loaded <- got
	}()
	<-started

	fresh := []Entry{{Key: LineItemKey{ProductID: 5}, Quantity: 4}}
	require.NoError(t, m.Save(ctx, "user-1", fresh))
	close(next.gate)

	assert.Equal(t, old, <-loaded)
	assert.False(t, mr.Exists(cacheKey("user-1")))

	got, err := m.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
}

func TestCachedMirrorLoadSurvivesCancelledCaller(t *testing.T) {
	cache, mr := setupTestRedis(t)
	next := &countingMirror{entries: []Entry{{Key: LineItemKey{ProductID: 8}, Quantity: 1}}}
	m := NewCachedMirror(next, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := m.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, next.entries, got)
	assert.True(t, mr.Exists(cacheKey("user-1")))
}

func TestCachedMirrorCacheOutageFallsBack(t *testing.T) {
	cache, mr := setupTestRedis(t)
	next := &countingMirror{entries: []Entry{{Key: LineItemKey{ProductID: 9}, Quantity: 1}}}
	m := NewCachedMirror(next, cache, nil)
	mr.Close()

	got, err := m.Load(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, next.entries, got)
}
