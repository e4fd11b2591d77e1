// Package cache implements the two-tier response cache: a byte-bounded
// in-process LRU in front of an optional shared Redis tier. Keys are
// request fingerprints (normalized URL + options hash), so distinct
// option sets never collide.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webpeel/webpeel/models"
)

// Cache tier identifiers reported in results.
const (
	StatusHitMemory = "hit-memory"
	StatusHitRedis  = "hit-redis"
	StatusMiss      = "miss"
	StatusBypass    = "bypass"
)

// Defaults.
const (
	DefaultMemoryItems = 1000
	DefaultMemoryBytes = 256 << 20 // 256 MiB
	DefaultMemoryTTL   = 5 * time.Minute
	DefaultRedisTTL    = 15 * time.Minute
	// ErrorCooldown throttles refetches of URLs that just failed.
	ErrorCooldown = 30 * time.Second
)

func init() {
	// Structured extraction yields decoded JSON; gob needs the concrete
	// container types registered.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Options configures the store. Redis is optional: with neither RedisURL
// nor RedisClient set the store runs memory-only.
type Options struct {
	RedisURL    string
	RedisClient *redis.Client
	MemoryItems int
	MemoryBytes int64
	MemoryTTL   time.Duration
	RedisTTL    time.Duration

	// ErrorCooldown overrides how long a failed fetch suppresses retries.
	ErrorCooldown time.Duration
}

// Store is the two-tier cache.
type Store struct {
	l1     *memoryCache
	l2     *redisCache
	logger *slog.Logger

	// Error cooldowns live in process memory so they work without Redis
	// and take effect before the failing response is even returned.
	mu       sync.Mutex
	errors   map[string]errorEntry
	cooldown time.Duration

	hitsMemory atomic.Int64
	hitsRedis  atomic.Int64
	misses     atomic.Int64
}

type errorEntry struct {
	detail  models.ErrorDetail
	expires time.Time
}

// New builds a store from the options.
func New(opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MemoryItems <= 0 {
		opts.MemoryItems = DefaultMemoryItems
	}
	if opts.MemoryBytes <= 0 {
		opts.MemoryBytes = DefaultMemoryBytes
	}
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = DefaultMemoryTTL
	}
	if opts.ErrorCooldown <= 0 {
		opts.ErrorCooldown = ErrorCooldown
	}

	s := &Store{
		l1:       newMemoryCache(opts.MemoryItems, opts.MemoryBytes, opts.MemoryTTL),
		logger:   logger,
		errors:   make(map[string]errorEntry),
		cooldown: opts.ErrorCooldown,
	}

	switch {
	case opts.RedisClient != nil:
		s.l2 = newRedisCacheWithClient(opts.RedisClient, opts.RedisTTL, opts.ErrorCooldown)
	case opts.RedisURL != "":
		l2, err := newRedisCacheFromURL(opts.RedisURL, opts.RedisTTL, opts.ErrorCooldown)
		if err != nil {
			return nil, err
		}
		s.l2 = l2
	}
	return s, nil
}

// Get probes memory first, then Redis. A Redis hit is promoted into
// memory so the next probe stays local. The second return value is the
// tier that answered, or StatusMiss.
func (s *Store) Get(ctx context.Context, key string) (*models.PeelResult, string) {
	if data, ok := s.l1.get(key); ok {
		if result, err := decodeResult(data); err == nil {
			s.hitsMemory.Add(1)
			return result, StatusHitMemory
		}
		s.l1.remove(key)
	}

	if s.l2 != nil {
		data, err := s.l2.get(ctx, key)
		if err != nil {
			s.logger.Warn("redis cache read failed", "error", err)
		} else if data != nil {
			if result, err := decodeResult(data); err == nil {
				s.l1.set(key, data)
				s.hitsRedis.Add(1)
				return result, StatusHitRedis
			}
		}
	}

	s.misses.Add(1)
	return nil, StatusMiss
}

// Set writes through: memory synchronously, Redis in the background so
// the response is never delayed by a slow Redis round trip. ttl <= 0
// uses the tier defaults.
func (s *Store) Set(ctx context.Context, key string, result *models.PeelResult, ttl time.Duration) {
	data, err := encodeResult(result)
	if err != nil {
		s.logger.Warn("cache encode failed", "error", err)
		return
	}
	s.l1.set(key, data)

	if s.l2 != nil {
		go func() {
			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.l2.set(writeCtx, key, data, ttl); err != nil {
				s.logger.Warn("redis cache write failed", "error", err)
			}
		}()
	}
}

// GetError returns a recent failure for the key, if the cooldown window
// is still open.
func (s *Store) GetError(ctx context.Context, key string) *models.ErrorDetail {
	s.mu.Lock()
	if e, ok := s.errors[key]; ok {
		if time.Now().Before(e.expires) {
			s.mu.Unlock()
			detail := e.detail
			return &detail
		}
		delete(s.errors, key)
	}
	s.mu.Unlock()

	if s.l2 == nil {
		return nil
	}
	data, err := s.l2.getError(ctx, key)
	if err != nil || data == nil {
		return nil
	}
	var detail models.ErrorDetail
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&detail); err != nil {
		return nil
	}
	return &detail
}

// SetError records a failure for the cooldown window. The memory entry
// is written synchronously; the Redis entry shares it across instances.
func (s *Store) SetError(ctx context.Context, key string, detail *models.ErrorDetail) {
	if detail == nil {
		return
	}
	now := time.Now()
	s.mu.Lock()
	s.errors[key] = errorEntry{detail: *detail, expires: now.Add(s.cooldown)}
	if len(s.errors) > 4096 {
		for k, e := range s.errors {
			if now.After(e.expires) {
				delete(s.errors, k)
			}
		}
	}
	s.mu.Unlock()

	if s.l2 == nil {
		return
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(detail); err != nil {
		return
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.l2.setError(writeCtx, key, buf.Bytes()); err != nil {
			s.logger.Warn("redis error-cooldown write failed", "error", err)
		}
	}()
}

// Invalidate drops a key from both tiers.
func (s *Store) Invalidate(ctx context.Context, key string) {
	s.l1.remove(key)
	if s.l2 != nil {
		if err := s.l2.remove(ctx, key); err != nil {
			s.logger.Warn("redis cache delete failed", "error", err)
		}
	}
}

// Stats reports hit counters and memory tier occupancy.
func (s *Store) Stats() map[string]int64 {
	items, bytes := s.l1.stats()
	return map[string]int64{
		"hits_memory":  s.hitsMemory.Load(),
		"hits_redis":   s.hitsRedis.Load(),
		"misses":       s.misses.Load(),
		"memory_items": int64(items),
		"memory_bytes": bytes,
	}
}

// Ping checks the Redis tier; memory-only stores are always healthy.
func (s *Store) Ping(ctx context.Context) error {
	if s.l2 == nil {
		return nil
	}
	return s.l2.ping(ctx)
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s.l2 == nil {
		return nil
	}
	return s.l2.close()
}

func encodeResult(result *models.PeelResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(result); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeResult(data []byte) (*models.PeelResult, error) {
	var result models.PeelResult
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
