package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpeel/webpeel/models"
)

func testResult(url, content string) *models.PeelResult {
	return &models.PeelResult{
		URL:     url,
		Title:   "Test Page",
		Content: content,
		Format:  "markdown",
		Tokens:  len(content) / 4,
	}
}

func memoryStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{}, nil)
	require.NoError(t, err)
	return s
}

func redisStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := New(Options{RedisClient: client}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStoreMemoryRoundTrip(t *testing.T) {
	s := memoryStore(t)
	ctx := context.Background()

	_, status := s.Get(ctx, "k1")
	assert.Equal(t, StatusMiss, status)

	s.Set(ctx, "k1", testResult("https://example.com", "hello world content"), 0)

	got, status := s.Get(ctx, "k1")
	require.NotNil(t, got)
	assert.Equal(t, StatusHitMemory, status)
	assert.Equal(t, "hello world content", got.Content)
	assert.Equal(t, "Test Page", got.Title)
}

func TestStoreRedisPromotion(t *testing.T) {
	s, _ := redisStore(t)
	ctx := context.Background()

	s.Set(ctx, "k1", testResult("https://example.com", "redis content"), 0)

	// Wait for the async L2 write, then drop L1 to force a Redis read.
	require.Eventually(t, func() bool {
		data, err := s.l2.get(ctx, "k1")
		return err == nil && data != nil
	}, 2*time.Second, 10*time.Millisecond)

	s.l1.remove("k1")

	got, status := s.Get(ctx, "k1")
	require.NotNil(t, got)
	assert.Equal(t, StatusHitRedis, status)

	// The Redis hit is promoted, so the next probe is local.
	_, status = s.Get(ctx, "k1")
	assert.Equal(t, StatusHitMemory, status)
}

func TestStoreRedisTTL(t *testing.T) {
	s, mr := redisStore(t)
	ctx := context.Background()

	s.Set(ctx, "k1", testResult("https://example.com", "expiring"), 0)
	require.Eventually(t, func() bool {
		data, err := s.l2.get(ctx, "k1")
		return err == nil && data != nil
	}, 2*time.Second, 10*time.Millisecond)

	mr.FastForward(DefaultRedisTTL + time.Second)
	s.l1.remove("k1")

	_, status := s.Get(ctx, "k1")
	assert.Equal(t, StatusMiss, status)
}

func TestStoreErrorCooldown(t *testing.T) {
	s := memoryStore(t)
	ctx := context.Background()

	detail := &models.ErrorDetail{Type: "BLOCKED", Message: "origin said no"}
	s.SetError(ctx, "k1", detail)

	// The memory entry is synchronous: the cooldown holds immediately.
	got := s.GetError(ctx, "k1")
	require.NotNil(t, got)
	assert.Equal(t, "BLOCKED", got.Type)

	s.mu.Lock()
	e := s.errors["k1"]
	e.expires = time.Now().Add(-time.Second)
	s.errors["k1"] = e
	s.mu.Unlock()
	assert.Nil(t, s.GetError(ctx, "k1"), "cooldown must expire")
}

func TestStoreErrorCooldownSharedViaRedis(t *testing.T) {
	s, mr := redisStore(t)
	ctx := context.Background()

	s.SetError(ctx, "k1", &models.ErrorDetail{Type: "TIMEOUT", Message: "deadline exceeded"})

	// Another instance on the same Redis sees the cooldown once the
	// async write lands.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	other, err := New(Options{RedisClient: client}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	require.Eventually(t, func() bool {
		return other.GetError(ctx, "k1") != nil
	}, 2*time.Second, 10*time.Millisecond)

	got := other.GetError(ctx, "k1")
	require.NotNil(t, got)
	assert.Equal(t, "TIMEOUT", got.Type)

	mr.FastForward(ErrorCooldown + time.Second)
	assert.Nil(t, other.GetError(ctx, "k1"), "cooldown must expire")
}

func TestRedisUnavailableCooldown(t *testing.T) {
	s, mr := redisStore(t)
	ctx := context.Background()

	mr.Close()

	// The first read hits the dead server and trips the cooldown stamp.
	_, status := s.Get(ctx, "k1")
	assert.Equal(t, StatusMiss, status)

	s.l2.mu.Lock()
	down := time.Now().Before(s.l2.downUntil)
	s.l2.mu.Unlock()
	require.True(t, down, "failed command must mark the tier unavailable")

	// During the cooldown every operation is a fast no-op.
	assert.NoError(t, s.l2.set(ctx, "k1", []byte("x"), 0))
	data, err := s.l2.get(ctx, "k1")
	assert.NoError(t, err)
	assert.Nil(t, data)

	// Once the stamp lapses the server is tried again.
	s.l2.mu.Lock()
	s.l2.downUntil = time.Time{}
	s.l2.mu.Unlock()
	_, err = s.l2.get(ctx, "k1")
	assert.Error(t, err, "expired cooldown must retry the server")
}

func TestStoreInvalidate(t *testing.T) {
	s, _ := redisStore(t)
	ctx := context.Background()

	s.Set(ctx, "k1", testResult("https://example.com", "to be dropped"), 0)
	require.Eventually(t, func() bool {
		data, err := s.l2.get(ctx, "k1")
		return err == nil && data != nil
	}, 2*time.Second, 10*time.Millisecond)

	s.Invalidate(ctx, "k1")

	_, status := s.Get(ctx, "k1")
	assert.Equal(t, StatusMiss, status)
}

func TestMemoryCacheByteEviction(t *testing.T) {
	c := newMemoryCache(100, 1024, time.Minute)

	big := strings.Repeat("x", 400)
	c.set("a", []byte(big))
	c.set("b", []byte(big))
	c.set("c", []byte(big)) // pushes total over 1024, evicting "a"

	if _, ok := c.get("a"); ok {
		t.Error("oldest entry should have been evicted by byte budget")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("newest entry missing")
	}

	items, bytes := c.stats()
	assert.LessOrEqual(t, bytes, int64(1024))
	assert.Equal(t, 2, items)
}

func TestMemoryCacheOversizeValueRejected(t *testing.T) {
	c := newMemoryCache(100, 100, time.Minute)
	c.set("huge", []byte(strings.Repeat("x", 500)))
	if _, ok := c.get("huge"); ok {
		t.Error("value larger than the budget must not be cached")
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	c := newMemoryCache(100, 1<<20, 10*time.Millisecond)
	c.set("k", []byte("v"))
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.get("k"); ok {
		t.Error("expired entry returned")
	}
}

func TestMemoryCacheLRUOrder(t *testing.T) {
	c := newMemoryCache(2, 1<<20, time.Minute)
	c.set("a", []byte("1"))
	c.set("b", []byte("2"))
	c.get("a") // refresh a
	c.set("c", []byte("3"))

	if _, ok := c.get("b"); ok {
		t.Error("least recently used entry should have been evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("recently used entry evicted")
	}
}
