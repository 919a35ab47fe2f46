// Package cache implements a capacity-bounded in-memory key-value store with
// least-recently-used eviction and optional time-based expiry.
//
// The store is sharded by key hash: each shard owns its own lock, entry map,
// and LRU list, so operations on different shards never contend. Expired
// entries are treated as misses on read and physically removed either lazily
// on access or by a background sweep.
package cache

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrCapacityExceeded is returned by Set when the entry alone is larger than
// the capacity available to its shard. The store is left unchanged.
var ErrCapacityExceeded = errors.New("cache capacity exceeded")

// Config holds the tunable parameters for a Store.
type Config struct {
	// CapacityBytes bounds the total resident size across all shards.
	CapacityBytes int64

	// ShardCount is the number of independent shards. If zero or negative,
	// a single shard is used.
	ShardCount int

	// DefaultTTL applies to entries set with a zero ttl. Zero means entries
	// never expire unless an explicit ttl is given.
	DefaultTTL time.Duration

	// SweepInterval controls how often the background sweep removes expired
	// entries. If zero, the sweep is disabled.
	SweepInterval time.Duration
}

// entry is a single resident cache entry. The LRU list element's Value points
// back to the entry so eviction can find the key.
type entry struct {
	key        string
	value      []byte
	size       int64
	expiresAt  time.Time // zero means no expiry
	lastAccess time.Time
}

// shard owns a disjoint subset of the key space.
type shard struct {
	mu       sync.RWMutex
	entries  map[string]*list.Element
	lru      *list.List // front = most recently used
	bytes    int64
	capacity int64
}

// Stats is a point-in-time snapshot of store counters, consumed by the
// health monitor.
type Stats struct {
	Hits          int64
	Misses        int64
	Evictions     int64
	Expirations   int64
	Entries       int
	ResidentBytes int64
	CapacityBytes int64
}

// Store is a sharded LRU cache. Values are opaque byte slices; the store is
// agnostic to key semantics and only supports exact-match lookup.
type Store struct {
	shards     []*shard
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64

	sweepInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates a Store with the given configuration. Call Start to enable the
// background expiry sweep, and Stop to shut it down.
func New(cfg Config, logger *slog.Logger) *Store {
	shardCount := cfg.ShardCount
	if shardCount <= 0 {
		shardCount = 1
	}

	perShard := cfg.CapacityBytes / int64(shardCount)
	if perShard <= 0 {
		perShard = cfg.CapacityBytes
	}

	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{
			entries:  make(map[string]*list.Element),
			lru:      list.New(),
			capacity: perShard,
		}
	}

	return &Store{
		shards:        shards,
		defaultTTL:    cfg.DefaultTTL,
		sweepInterval: cfg.SweepInterval,
		logger:        logger.With("component", "cache"),
		now:           time.Now,
	}
}

// Start launches the background sweep goroutine, if configured.
func (s *Store) Start(ctx context.Context) {
	if s.sweepInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.sweepLoop(ctx)
}

// Stop terminates the background sweep and waits for it to exit.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
	if len(s.shards) == 1 {
		return s.shards[0]
	}
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Get returns the value for key, or false on a miss. Expired entries are
// misses and are lazily removed. A hit refreshes the entry's recency.
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.RLock()
	elem, ok := sh.entries[key]
	var value []byte
	expired := false
	if ok {
		ent := elem.Value.(*entry)
		if ent.expired(now) {
			expired = true
		} else {
			value = ent.value
		}
	}
	sh.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	if expired {
		// Upgrade to a write lock and re-check before removing; another
		// writer may have replaced the entry in the meantime.
		sh.mu.Lock()
		if elem, ok := sh.entries[key]; ok && elem.Value.(*entry).expired(now) {
			sh.remove(elem)
			s.expirations.Add(1)
		}
		sh.mu.Unlock()
		s.misses.Add(1)
		return nil, false
	}

	// Recency update mutates the LRU list and needs the write lock.
	sh.mu.Lock()
	if elem, ok := sh.entries[key]; ok {
		elem.Value.(*entry).lastAccess = now
		sh.lru.MoveToFront(elem)
	}
	sh.mu.Unlock()

	s.hits.Add(1)
	return value, true
}

// Set stores value under key with the given ttl. A zero ttl applies the
// store's default TTL; a negative ttl means no expiry. LRU entries are
// evicted as needed to make room. If the entry alone exceeds the shard's
// capacity, ErrCapacityExceeded is returned and nothing changes.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	sh := s.shardFor(key)
	now := s.now()

	size := int64(len(key) + len(value))
	if size > sh.capacity {
		return ErrCapacityExceeded
	}

	var expiresAt time.Time
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Replace an existing entry in place.
	if elem, ok := sh.entries[key]; ok {
		sh.remove(elem)
	}

	// Evict from the LRU tail until the new entry fits. Expired entries are
	// removed first on the way and counted as expirations, not evictions.
	for sh.bytes+size > sh.capacity {
		tail := sh.lru.Back()
		if tail == nil {
			break
		}
		ent := tail.Value.(*entry)
		sh.remove(tail)
		if ent.expired(now) {
			s.expirations.Add(1)
		} else {
			s.evictions.Add(1)
			s.logger.Debug("evicted cache entry",
				"key", ent.key,
				"size", ent.size,
				"last_access", ent.lastAccess)
		}
	}

	ent := &entry{
		key:        key,
		value:      value,
		size:       size,
		expiresAt:  expiresAt,
		lastAccess: now,
	}
	sh.entries[key] = sh.lru.PushFront(ent)
	sh.bytes += size
	return nil
}

// Invalidate removes key from the store if present.
func (s *Store) Invalidate(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	if elem, ok := sh.entries[key]; ok {
		sh.remove(elem)
	}
	sh.mu.Unlock()
}

// Len returns the number of resident entries, including not-yet-swept
// expired ones.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	var resident int64
	var capacity int64
	entries := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		resident += sh.bytes
		entries += len(sh.entries)
		capacity += sh.capacity
		sh.mu.RUnlock()
	}
	return Stats{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Evictions:     s.evictions.Load(),
		Expirations:   s.expirations.Load(),
		Entries:       entries,
		ResidentBytes: resident,
		CapacityBytes: capacity,
	}
}

// sweepLoop periodically removes expired entries so memory stays bounded
// even when nothing reads the expired keys.
func (s *Store) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.sweep()
			if removed > 0 {
				s.logger.Debug("swept expired cache entries", "count", removed)
			}
		}
	}
}

// sweep removes all expired entries and returns how many were removed.
func (s *Store) sweep() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for elem := sh.lru.Back(); elem != nil; {
			prev := elem.Prev()
			if elem.Value.(*entry).expired(now) {
				sh.remove(elem)
				removed++
			}
			elem = prev
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		s.expirations.Add(int64(removed))
	}
	return removed
}

// remove deletes the element from the shard. Caller holds the write lock.
func (sh *shard) remove(elem *list.Element) {
	ent := elem.Value.(*entry)
	sh.lru.Remove(elem)
	delete(sh.entries, ent.key)
	sh.bytes -= ent.size
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
