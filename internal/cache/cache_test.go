package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	_, _ = c.Get("a") // a becomes most recent
	c.Set("c", "3")

	_, okB := c.Get("b")
	assert.False(t, okB, "b should be evicted")
	v, okA := c.Get("a")
	assert.True(t, okA)
	assert.Equal(t, "1", v)
	assert.Equal(t, 2, c.Size())
}

func TestLRUCacheExpiry(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("x", 1)
	c.Set("y", 2)
	now = now.Add(2 * time.Minute)
	c.Set("z", 3)

	assert.Equal(t, 2, c.CleanExpired())
	_, ok := c.Get("x")
	assert.False(t, ok)
	v, ok := c.Get("z")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLRUCacheClearAndDelete(t *testing.T) {
	c := NewLRUCache[[]byte](10, time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Delete("a")
	assert.Equal(t, 1, c.Size())
	c.Clear()
	assert.Equal(t, 0, c.Size())
	c.Set("c", []byte("3"))
	assert.Equal(t, 1, c.Size())
}

func TestLRUCacheValuesSkipsExpired(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("old", 1)
	now = now.Add(2 * time.Minute)
	c.Set("a", 2)
	c.Set("b", 3)

	assert.Equal(t, []int{3, 2}, c.Values())
	assert.Equal(t, 3, c.Size(), "Values does not evict")
}

func TestManagerCleanNow(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.Set("x", 1)
	now = now.Add(time.Hour)

	m := NewManager(nil)
	m.Register(c)
	assert.Equal(t, 1, m.CleanNow())

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop() // second stop is a no-op
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c := NewRedisCache[[]byte](newRedis(t), "finstats:api:", time.Minute, nil)

	_, ok := c.Get("pie")
	assert.False(t, ok)

	c.Set("pie", []byte(`[{"transactionName":"Rent","amount":10}]`))
	v, ok := c.Get("pie")
	require.True(t, ok)
	assert.JSONEq(t, `[{"transactionName":"Rent","amount":10}]`, string(v))
	assert.Equal(t, 1, c.Size())

	c.Delete("pie")
	_, ok = c.Get("pie")
	assert.False(t, ok)
}

func TestRedisCacheClearBumpsVersion(t *testing.T) {
	client := newRedis(t)
	c := NewRedisCache[int](client, "finstats:test", time.Minute, nil)

	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Size())

	c.Clear()
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())

	other := NewRedisCache[int](client, "finstats:test", time.Minute, nil)
	other.Set("a", 7)
	v, ok := c.Get("a")
	require.True(t, ok, "replicas share the version key")
	assert.Equal(t, 7, v)
}
