package kvstore

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultShardCount = 32

// memoryEntry is a single value with its own TTL
type memoryEntry struct {
	key      string
	value    []byte
	storedAt time.Time
	ttl      time.Duration
	element  *list.Element // For LRU tracking
}

func (e *memoryEntry) isExpired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.storedAt) >= e.ttl
}

// memoryShard is one LRU partition guarded by its own mutex
type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lruList *list.List
	maxSize int
}

// MemoryStore is an in-process Store made of independent LRU shards with
// per-entry TTL. Keys hash to a shard, so unrelated keys never contend on
// the same lock.
type MemoryStore struct {
	shards []*memoryShard
	now    func() time.Time

	statsMu sync.Mutex
	hits    uint64
	misses  uint64
}

// MemoryStats represents store statistics
type MemoryStats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries values.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	perShard := maxEntries / defaultShardCount
	if perShard < 1 {
		perShard = 1
	}

	s := &MemoryStore{
		shards: make([]*memoryShard, defaultShardCount),
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{
			entries: make(map[string]*memoryEntry),
			lruList: list.New(),
			maxSize: perShard,
		}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get returns the value for key. Expired entries are removed on read.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, exists := shard.entries[key]
	if !exists || entry.isExpired(s.now()) {
		if exists {
			shard.remove(key)
		}
		s.recordMiss()
		return nil, ErrNotFound
	}

	shard.lruList.MoveToFront(entry.element)
	s.recordHit()

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// SetWithTTL stores value under key. A zero ttl never expires.
func (s *MemoryStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	if entry, exists := shard.entries[key]; exists {
		entry.value = stored
		entry.storedAt = s.now()
		entry.ttl = ttl
		shard.lruList.MoveToFront(entry.element)
		return nil
	}

	if shard.lruList.Len() >= shard.maxSize {
		shard.evictLRU()
	}

	entry := &memoryEntry{
		key:      key,
		value:    stored,
		storedAt: s.now(),
		ttl:      ttl,
	}
	entry.element = shard.lruList.PushFront(key)
	shard.entries[key] = entry
	return nil
}

// Incr increments the counter at key. An expired or missing counter restarts
// at 1 with a fresh ttl.
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := s.now()
	if entry, exists := shard.entries[key]; exists && !entry.isExpired(now) {
		n, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kvstore: value at %s is not a counter", key)
		}
		n++
		entry.value = []byte(strconv.FormatInt(n, 10))
		shard.lruList.MoveToFront(entry.element)
		return n, nil
	}

	shard.remove(key)
	if shard.lruList.Len() >= shard.maxSize {
		shard.evictLRU()
	}
	entry := &memoryEntry{
		key:      key,
		value:    []byte("1"),
		storedAt: now,
		ttl:      ttl,
	}
	entry.element = shard.lruList.PushFront(key)
	shard.entries[key] = entry
	return 1, nil
}

// Delete removes key if present
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.remove(key)
	return nil
}

// DeletePrefix removes every key with the given prefix
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	deleted := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key := range shard.entries {
			if strings.HasPrefix(key, prefix) {
				shard.remove(key)
				deleted++
			}
		}
		shard.mu.Unlock()
	}
	return deleted, nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// Stats returns store statistics
func (s *MemoryStore) Stats() MemoryStats {
	size := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		size += shard.lruList.Len()
		shard.mu.Unlock()
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	stats := MemoryStats{Size: size, Hits: s.hits, Misses: s.misses}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (s *MemoryStore) CleanupExpired() int {
	now := s.now()
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.isExpired(now) {
				shard.remove(key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// StartCleanupWorker periodically drops expired entries until stopCh closes.
// Expiry is still enforced on read; this only bounds memory held by dead keys.
func (s *MemoryStore) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

func (s *MemoryStore) recordHit() {
	s.statsMu.Lock()
	s.hits++
	s.statsMu.Unlock()
}

func (s *MemoryStore) recordMiss() {
	s.statsMu.Lock()
	s.misses++
	s.statsMu.Unlock()
}

// remove must be called with the shard lock held
func (sh *memoryShard) remove(key string) {
	if entry, exists := sh.entries[key]; exists {
		sh.lruList.Remove(entry.element)
		delete(sh.entries, key)
	}
}

// evictLRU must be called with the shard lock held
func (sh *memoryShard) evictLRU() {
	back := sh.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	sh.lruList.Remove(back)
	delete(sh.entries, key)
}
