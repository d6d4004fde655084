package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore remembers idempotency keys for a bounded window. MarkIfNew
// returns true exactly once per key within the window; provider retries of
// the same callback see false and are discarded. Forget releases a key so
// a redelivery gets a fresh chance after a failed attempt.
type DedupStore interface {
	MarkIfNew(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// RedisDedup keeps the window in Redis so concurrent ingress instances
// share it. SETNX with a TTL gives the bounded retention without any
// cleanup job.
type RedisDedup struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisDedup(rdb *redis.Client, window time.Duration) *RedisDedup {
	return &RedisDedup{rdb: rdb, window: window}
}

func (d *RedisDedup) MarkIfNew(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, "dedup:"+key, 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark idempotency key: %w", err)
	}
	return ok, nil
}

func (d *RedisDedup) Forget(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, "dedup:"+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// MemoryDedup is the single-process fallback window used when Redis is not
// configured. Each key carries its own expiry; a full sweep of the map runs
// at most once per window so a busy webhook endpoint is not scanning the
// whole map under the lock on every delivery.
type MemoryDedup struct {
	window time.Duration

	mu        sync.Mutex
	seen      map[string]time.Time
	nextSweep time.Time
}

func NewMemoryDedup(window time.Duration) *MemoryDedup {
	return &MemoryDedup{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

func (d *MemoryDedup) MarkIfNew(_ context.Context, key string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if now.After(d.nextSweep) {
		for k, expiry := range d.seen {
			if now.After(expiry) {
				delete(d.seen, k)
			}
		}
		d.nextSweep = now.Add(d.window)
	}

	if expiry, ok := d.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	d.seen[key] = now.Add(d.window)
	return true, nil
}

func (d *MemoryDedup) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}
