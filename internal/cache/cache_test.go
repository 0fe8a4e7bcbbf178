package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/rfm/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "key1", []byte("value1"), time.Minute))

		val, err := cache.Get(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, "value1", string(val))
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)
		require.NoError(t, cache.Delete(ctx, "key2"))

		val, _ := cache.Get(ctx, "key2")
		assert.Nil(t, val)
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		assert.NotNil(t, val)

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		assert.Nil(t, val)
	})

	t.Run("ZeroTTLKeeps", func(t *testing.T) {
		_ = cache.Set(ctx, "forever", []byte("v"), 0)
		time.Sleep(5 * time.Millisecond)

		val, _ := cache.Get(ctx, "forever")
		assert.Equal(t, "v", string(val))
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)
		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		_, _ = small.Get(ctx, "a")
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := small.Get(ctx, "b")
		assert.Nil(t, val, "b should be evicted")
		val, _ = small.Get(ctx, "a")
		assert.NotNil(t, val)
	})

	t.Run("Stats", func(t *testing.T) {
		stats := NewLRUCache(50)
		_ = stats.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = stats.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := stats.Stats()
		assert.Equal(t, 2, size)
		assert.Equal(t, 50, capacity)
	})

	t.Run("Close", func(t *testing.T) {
		c := NewLRUCache(10)
		_ = c.Set(ctx, "k", []byte("v"), time.Minute)
		require.NoError(t, c.Close())

		val, _ := c.Get(ctx, "k")
		assert.Nil(t, val)
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	local, remote := NewLRUCache(10), NewLRUCache(10)
	c := NewTwoPhaseCache(local, remote, time.Minute)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Hour))
	val, _ := remote.Get(ctx, "k")
	assert.Equal(t, "v", string(val), "write reaches L2")

	_ = local.Delete(ctx, "k")
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(val))

	val, _ = local.Get(ctx, "k")
	assert.Equal(t, "v", string(val), "L2 hit repopulates L1")

	require.NoError(t, c.Delete(ctx, "k"))
	val, _ = c.Get(ctx, "k")
	assert.Nil(t, val)

	require.NoError(t, c.Ping(ctx))
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	backing := NewLRUCache(10)
	reports := NewReports(backing, time.Hour)

	got, err := reports.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, got)

	report := &domain.Report{
		RunID:       "run-1",
		Fingerprint: "abc",
		Rows: []domain.ReportRow{
			{CustomerKey: "9000000001", R: 5, F: 4, M: 3, Score: "543", Segment: domain.SegmentLoyal},
		},
		Stats: domain.RunStats{Customers: 1},
	}
	require.NoError(t, reports.Put(ctx, report))

	got, err = reports.Get(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, report.Rows, got.Rows)

	t.Run("CorruptEntryIsMiss", func(t *testing.T) {
		_ = backing.Set(ctx, reportKey("bad"), []byte("{not json"), time.Hour)

		got, err := reports.Get(ctx, "bad")
		require.NoError(t, err)
		assert.Nil(t, got)

		raw, _ := backing.Get(ctx, reportKey("bad"))
		assert.Nil(t, raw)
	})

	t.Run("Disabled", func(t *testing.T) {
		off := NewReports(nil, time.Hour)
		require.NoError(t, off.Put(ctx, report))
		got, err := off.Get(ctx, "abc")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestNew(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &LRUCache{}, c)

	c, err = New(domain.CacheConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = New(domain.CacheConfig{Type: "memcached"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
