package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	responsePrefix = "webpeel:response:"
	errorPrefix    = "webpeel:error:"

	// redisUnavailableCooldown is how long the tier is skipped after a
	// failed command. Without it a dead Redis adds a connect timeout to
	// every single request.
	redisUnavailableCooldown = 30 * time.Second
)

// redisCache is the optional L2 tier, shared across replicas. A failing
// server marks the tier unavailable for redisUnavailableCooldown; during
// that window every operation is a fast no-op and the store degrades to
// memory-only.
type redisCache struct {
	client   *redis.Client
	ttl      time.Duration
	cooldown time.Duration

	mu        sync.Mutex
	downUntil time.Time
}

// newRedisCacheFromURL connects using a redis:// URL.
func newRedisCacheFromURL(redisURL string, ttl, cooldown time.Duration) (*redisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return newRedisCacheWithClient(redis.NewClient(opts), ttl, cooldown), nil
}

func newRedisCacheWithClient(client *redis.Client, ttl, cooldown time.Duration) *redisCache {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	if cooldown <= 0 {
		cooldown = ErrorCooldown
	}
	return &redisCache{client: client, ttl: ttl, cooldown: cooldown}
}

// available reports whether the tier should be tried at all.
func (rc *redisCache) available() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return time.Now().After(rc.downUntil)
}

// fail marks the tier unavailable. Context expiry is the caller's problem,
// not the server's, so it never trips the cooldown.
func (rc *redisCache) fail(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	rc.mu.Lock()
	rc.downUntil = time.Now().Add(redisUnavailableCooldown)
	rc.mu.Unlock()
}

func (rc *redisCache) get(ctx context.Context, key string) ([]byte, error) {
	if !rc.available() {
		return nil, nil
	}
	data, err := rc.client.Get(ctx, responsePrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		rc.fail(err)
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (rc *redisCache) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !rc.available() {
		return nil
	}
	if ttl <= 0 {
		ttl = rc.ttl
	}
	if err := rc.client.Set(ctx, responsePrefix+key, value, ttl).Err(); err != nil {
		rc.fail(err)
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// getError / setError implement the failure cooldown: a URL that just
// failed is not re-fetched for ErrorCooldown, so a hot failing URL cannot
// hammer the origin.
func (rc *redisCache) getError(ctx context.Context, key string) ([]byte, error) {
	if !rc.available() {
		return nil, nil
	}
	data, err := rc.client.Get(ctx, errorPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		rc.fail(err)
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (rc *redisCache) setError(ctx context.Context, key string, value []byte) error {
	if !rc.available() {
		return nil
	}
	if err := rc.client.Set(ctx, errorPrefix+key, value, rc.cooldown).Err(); err != nil {
		rc.fail(err)
		return err
	}
	return nil
}

func (rc *redisCache) remove(ctx context.Context, key string) error {
	if !rc.available() {
		return nil
	}
	if err := rc.client.Del(ctx, responsePrefix+key, errorPrefix+key).Err(); err != nil {
		rc.fail(err)
		return err
	}
	return nil
}

func (rc *redisCache) ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *redisCache) close() error {
	return rc.client.Close()
}
