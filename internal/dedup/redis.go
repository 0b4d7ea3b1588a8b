package dedup

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"telemetry-ingest-plane/internal/event/domain"
)

const redisKeyPrefix = "tip:dedup:"

// RedisStore is a dedup window shared across gateway and normalizer instances.
// SETNX with a TTL gives the first-writer-wins semantics Mark needs, and the
// window survives process restarts.
type RedisStore struct {
	client *redis.Client
	window time.Duration
}

// NewRedisStore returns a Redis-backed dedup store with the given window.
// Zero or negative window defaults to 24h.
func NewRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &RedisStore{client: client, window: window}
}

// Mark records the key and reports whether it is new within the window.
func (s *RedisStore) Mark(ctx context.Context, orgID string, typ domain.TelemetryType, key string) (bool, error) {
	return s.client.SetNX(ctx, redisKeyPrefix+windowKey(orgID, typ, key), "1", s.window).Result()
}

// Seen reports whether the key is in the window without recording it.
func (s *RedisStore) Seen(ctx context.Context, orgID string, typ domain.TelemetryType, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+windowKey(orgID, typ, key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
