package dedup

import (
	"context"
	"sync"
	"time"

	"telemetry-ingest-plane/internal/event/domain"
)

// MemoryStore is an in-memory dedup window. State does not survive restarts
// and is not shared across instances.
type MemoryStore struct {
	mu     sync.RWMutex
	seen   map[string]time.Time // key -> expiry
	window time.Duration
	nowF   func() time.Time

	sweepEvery int
	opsSince   int
}

// NewMemoryStore returns an in-memory dedup store with the given window.
// Zero or negative window defaults to 24h.
func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &MemoryStore{
		seen:       make(map[string]time.Time),
		window:     window,
		nowF:       time.Now,
		sweepEvery: 4096,
	}
}

// Mark records the key and reports whether it is new within the window.
func (s *MemoryStore) Mark(ctx context.Context, orgID string, typ domain.TelemetryType, key string) (bool, error) {
	k := windowKey(orgID, typ, key)
	now := s.nowF().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.opsSince++
	if s.opsSince >= s.sweepEvery {
		s.opsSince = 0
		for seenKey, expiry := range s.seen {
			if !expiry.After(now) {
				delete(s.seen, seenKey)
			}
		}
	}

	if expiry, ok := s.seen[k]; ok && expiry.After(now) {
		return false, nil
	}
	s.seen[k] = now.Add(s.window)
	return true, nil
}

// Seen reports whether the key is in the window without recording it.
func (s *MemoryStore) Seen(ctx context.Context, orgID string, typ domain.TelemetryType, key string) (bool, error) {
	k := windowKey(orgID, typ, key)
	now := s.nowF().UTC()

	s.mu.RLock()
	expiry, ok := s.seen[k]
	s.mu.RUnlock()
	return ok && expiry.After(now), nil
}
