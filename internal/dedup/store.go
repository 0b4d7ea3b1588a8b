// Package dedup tracks idempotency keys within a bounded time window so
// duplicate submissions of the same logical event are stored exactly once.
package dedup

import (
	"context"

	"telemetry-ingest-plane/internal/event/domain"
)

// Store is the dedup window. Keys are scoped per organization per telemetry
// type. Implementations must be safe for concurrent use.
//
// The memory store suits single-instance deployments and loses state on
// restart; the Redis store shares the window across instances and persists it.
type Store interface {
	// Mark records the key and reports whether this was its first appearance
	// within the window. The normalizer drops the event when first is false.
	Mark(ctx context.Context, orgID string, typ domain.TelemetryType, key string) (first bool, err error)
	// Seen reports whether the key is already in the window without recording
	// it. The gateway uses this to acknowledge duplicates without re-queuing.
	Seen(ctx context.Context, orgID string, typ domain.TelemetryType, key string) (bool, error)
}

func windowKey(orgID string, typ domain.TelemetryType, key string) string {
	return orgID + "|" + string(typ) + "|" + key
}
