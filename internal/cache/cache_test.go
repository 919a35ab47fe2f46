package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// newTestStore returns a single-shard store so LRU order is deterministic.
func newTestStore(capacity int64) *Store {
	return New(Config{
		CapacityBytes: capacity,
		ShardCount:    1,
	}, setupTestLogger())
}

func TestSetGet(t *testing.T) {
	s := newTestStore(1024)

	require.NoError(t, s.Set("a", []byte("hello"), 0))

	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), v)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	// Each entry is key (2 bytes) + value (8 bytes) = 10 bytes.
	// Capacity of 30 holds exactly three entries.
	s := newTestStore(30)

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, s.Set(key, []byte("01234567"), 0))
	}
	assert.Equal(t, 3, s.Len())

	// Inserting a fourth entry evicts exactly the least recently used (k0).
	require.NoError(t, s.Set("k3", []byte("01234567"), 0))
	assert.Equal(t, 3, s.Len())

	_, ok := s.Get("k0")
	assert.False(t, ok)
	_, ok = s.Get("k1")
	assert.True(t, ok)
	_, ok = s.Get("k2")
	assert.True(t, ok)
	_, ok = s.Get("k3")
	assert.True(t, ok)
}

func TestGetRefreshesRecency(t *testing.T) {
	s := newTestStore(30)

	require.NoError(t, s.Set("k0", []byte("01234567"), 0))
	require.NoError(t, s.Set("k1", []byte("01234567"), 0))
	require.NoError(t, s.Set("k2", []byte("01234567"), 0))

	// Touch k0 so k1 becomes the LRU entry.
	_, ok := s.Get("k0")
	require.True(t, ok)

	require.NoError(t, s.Set("k3", []byte("01234567"), 0))

	_, ok = s.Get("k0")
	assert.True(t, ok, "recently accessed entry must survive eviction")
	_, ok = s.Get("k1")
	assert.False(t, ok, "least recently used entry must be evicted")
}

func TestCapacityExceeded(t *testing.T) {
	s := newTestStore(10)

	require.NoError(t, s.Set("a", []byte("12345"), 0))

	// A value that cannot fit even in an empty shard fails side-effect-free.
	err := s.Set("big", make([]byte, 64), 0)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	v, ok := s.Get("a")
	assert.True(t, ok, "failed set must not disturb existing entries")
	assert.Equal(t, []byte("12345"), v)
}

func TestExpiry(t *testing.T) {
	s := newTestStore(1024)

	base := time.Now()
	now := base
	var mu sync.Mutex
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	require.NoError(t, s.Set("a", []byte("v"), time.Second))

	_, ok := s.Get("a")
	assert.True(t, ok)

	mu.Lock()
	now = base.Add(1100 * time.Millisecond)
	mu.Unlock()

	_, ok = s.Get("a")
	assert.False(t, ok, "entry past its ttl must be a miss")

	// The lazy removal on read physically dropped the entry.
	assert.Equal(t, 0, s.Len())
}

func TestSweepRemovesExpired(t *testing.T) {
	s := newTestStore(1024)

	base := time.Now()
	now := base
	var mu sync.Mutex
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	require.NoError(t, s.Set("a", []byte("v"), time.Second))
	require.NoError(t, s.Set("b", []byte("v"), 0)) // no default ttl: permanent

	mu.Lock()
	now = base.Add(2 * time.Second)
	mu.Unlock()

	removed := s.sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("b")
	assert.True(t, ok)
}

func TestInvalidate(t *testing.T) {
	s := newTestStore(1024)

	require.NoError(t, s.Set("a", []byte("v"), 0))
	s.Invalidate("a")

	_, ok := s.Get("a")
	assert.False(t, ok)

	// Invalidating a missing key is a no-op.
	s.Invalidate("missing")
}

func TestStats(t *testing.T) {
	s := newTestStore(1024)

	require.NoError(t, s.Set("a", []byte("v"), 0))
	s.Get("a")
	s.Get("a")
	s.Get("missing")

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(2), stats.ResidentBytes)
	assert.Equal(t, int64(1024), stats.CapacityBytes)
}

func TestConcurrentAccess(t *testing.T) {
	s := New(Config{
		CapacityBytes: 1 << 20,
		ShardCount:    8,
	}, setupTestLogger())
	s.Start(context.Background())
	defer s.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i%20)
				_ = s.Set(key, []byte("value"), 0)
				s.Get(key)
				if i%50 == 0 {
					s.Invalidate(key)
				}
			}
		}(g)
	}
	wg.Wait()

	stats := s.Stats()
	assert.Greater(t, stats.Hits, int64(0))
}
