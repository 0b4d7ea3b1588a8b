package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/allegro/bigcache/v3"

	"telemetry-ingest-plane/internal/credential/domain"
)

// tombstone marks a cached not-found so unknown keys do not hammer the database.
var tombstone = []byte("!")

// CachedRepository is a read-through cache over an API key Repository. Lookups
// sit on the ingest hot path (every request verifies a key), so hits must not
// touch the database. Writes invalidate by overwriting the cached entry.
type CachedRepository struct {
	inner Repository
	cache *bigcache.BigCache
}

// NewCachedRepository wraps inner with a bigcache of the given TTL. Revocations
// take up to ttl to propagate through instances that have the key cached.
func NewCachedRepository(inner Repository, ttl time.Duration) (*CachedRepository, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(ttl))
	if err != nil {
		return nil, err
	}
	return &CachedRepository{inner: inner, cache: cache}, nil
}

// GetAPIKeyByID returns the cached key if present, otherwise loads from the
// inner repository and caches the result (including not-found).
func (r *CachedRepository) GetAPIKeyByID(ctx context.Context, keyID string) (*domain.APIKey, error) {
	if raw, err := r.cache.Get(keyID); err == nil {
		if string(raw) == string(tombstone) {
			return nil, nil
		}
		var k domain.APIKey
		if err := json.Unmarshal(raw, &k); err == nil {
			return &k, nil
		}
		// Corrupt cache entry; fall through to the repository.
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		log.Printf("credential: key cache get failed: %v", err)
	}

	k, err := r.inner.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if k == nil {
		_ = r.cache.Set(keyID, tombstone)
		return nil, nil
	}
	if raw, err := json.Marshal(k); err == nil {
		_ = r.cache.Set(keyID, raw)
	}
	return k, nil
}

// CreateAPIKey writes through to the inner repository and primes the cache.
func (r *CachedRepository) CreateAPIKey(ctx context.Context, k *domain.APIKey) error {
	if err := r.inner.CreateAPIKey(ctx, k); err != nil {
		return err
	}
	if raw, err := json.Marshal(k); err == nil {
		_ = r.cache.Set(k.KeyID, raw)
	}
	return nil
}

// RevokeAPIKey revokes in the inner repository and drops the cached entry.
func (r *CachedRepository) RevokeAPIKey(ctx context.Context, keyID string) error {
	if err := r.inner.RevokeAPIKey(ctx, keyID); err != nil {
		return err
	}
	_ = r.cache.Delete(keyID)
	return nil
}
