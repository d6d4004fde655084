package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDedup_MarkIfNew(t *testing.T) {
	d := NewMemoryDedup(time.Hour)
	ctx := context.Background()

	fresh, err := d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = d.MarkIfNew(ctx, "prov-1:read")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryDedup_WindowExpiry(t *testing.T) {
	d := NewMemoryDedup(10 * time.Millisecond)
	ctx := context.Background()

	fresh, err := d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)

	time.Sleep(20 * time.Millisecond)

	fresh, err = d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryDedup_Forget(t *testing.T) {
	d := NewMemoryDedup(time.Hour)
	ctx := context.Background()

	fresh, err := d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)

	require.NoError(t, d.Forget(ctx, "prov-1:delivered"))

	fresh, err = d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryDedup_SweepEvictsExpired(t *testing.T) {
	d := NewMemoryDedup(10 * time.Millisecond)
	ctx := context.Background()

	fresh, err := d.MarkIfNew(ctx, "old-key")
	require.NoError(t, err)
	assert.True(t, fresh)

	time.Sleep(20 * time.Millisecond)

	// Touching another key past the sweep deadline drops expired entries
	// instead of letting the map grow forever.
	fresh, err = d.MarkIfNew(ctx, "new-key")
	require.NoError(t, err)
	assert.True(t, fresh)

	d.mu.Lock()
	_, held := d.seen["old-key"]
	d.mu.Unlock()
	assert.False(t, held)
}

func TestRedisDedup_MarkIfNew(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer func() { _ = rdb.Close() }()

	d := NewRedisDedup(rdb, time.Hour)
	ctx := context.Background()

	fresh, err := d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.False(t, fresh)

	assert.True(t, srv.Exists("dedup:prov-1:delivered"))
}

func TestRedisDedup_Forget(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer func() { _ = rdb.Close() }()

	d := NewRedisDedup(rdb, time.Hour)
	ctx := context.Background()

	fresh, err := d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)

	require.NoError(t, d.Forget(ctx, "prov-1:delivered"))
	assert.False(t, srv.Exists("dedup:prov-1:delivered"))

	fresh, err = d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestRedisDedup_WindowExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer func() { _ = rdb.Close() }()

	d := NewRedisDedup(rdb, time.Minute)
	ctx := context.Background()

	fresh, err := d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)

	srv.FastForward(2 * time.Minute)

	fresh, err = d.MarkIfNew(ctx, "prov-1:delivered")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestRedisDedup_ErrorPropagates(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	srv.Close()

	d := NewRedisDedup(rdb, time.Minute)

	_, err := d.MarkIfNew(context.Background(), "prov-1:delivered")
	assert.Error(t, err)
}
