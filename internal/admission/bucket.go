// Package admission gates entry to the ingest pipeline: per-organization and
// per-source-address token buckets with continuous time-based refill.
package admission

import (
	"hash/fnv"
	"sync"
	"time"
)

// BucketStore holds rate-limiter buckets. Implementations must be safe for
// concurrent use from many request goroutines. The in-memory sharded store
// suits single-instance deployments; multi-instance deployments substitute a
// shared implementation behind the same interface.
type BucketStore interface {
	// Take attempts to remove one token from the bucket for key, refilling it
	// first according to the elapsed time. Returns whether a token was taken
	// and, when not, how long until one becomes available.
	Take(key string, capacity int, refillPerSec float64, now time.Time) (ok bool, wait time.Duration)
}

const bucketShards = 32

// staleBucketAge is how long an untouched bucket survives before the shard
// sweep drops it. A dropped bucket refills to capacity on next use, which only
// ever errs in the client's favor.
const staleBucketAge = 10 * time.Minute

type bucket struct {
	tokens float64
	last   time.Time
}

type bucketShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// MemoryBucketStore is a sharded in-memory BucketStore. Sharding by key hash
// keeps lock contention low at thousands of requests per second per org.
type MemoryBucketStore struct {
	shards [bucketShards]*bucketShard
}

// NewMemoryBucketStore returns an empty sharded bucket store.
func NewMemoryBucketStore() *MemoryBucketStore {
	s := &MemoryBucketStore{}
	for i := range s.shards {
		s.shards[i] = &bucketShard{buckets: make(map[string]*bucket)}
	}
	return s
}

// Take refills the bucket continuously from the elapsed wall time, then takes
// one token if at least one is available. A new key starts at full capacity.
func (s *MemoryBucketStore) Take(key string, capacity int, refillPerSec float64, now time.Time) (bool, time.Duration) {
	if capacity <= 0 || refillPerSec <= 0 {
		return false, time.Second
	}
	shard := s.shards[shardIndex(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	b, exists := shard.buckets[key]
	if !exists {
		if len(shard.buckets) > 10000 {
			shard.sweep(now)
		}
		b = &bucket{tokens: float64(capacity), last: now}
		shard.buckets[key] = b
	} else {
		elapsed := now.Sub(b.last).Seconds()
		if elapsed > 0 {
			b.tokens += elapsed * refillPerSec
			if b.tokens > float64(capacity) {
				b.tokens = float64(capacity)
			}
			b.last = now
		}
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / refillPerSec * float64(time.Second))
	if wait < time.Second {
		wait = time.Second
	}
	return false, wait
}

// sweep drops buckets untouched for staleBucketAge. Caller holds the shard lock.
func (s *bucketShard) sweep(now time.Time) {
	for key, b := range s.buckets {
		if now.Sub(b.last) > staleBucketAge {
			delete(s.buckets, key)
		}
	}
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % bucketShards)
}
