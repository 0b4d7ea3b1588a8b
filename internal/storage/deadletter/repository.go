// Package deadletter holds envelopes that could not be written to their
// target store, preserving the payload for later replay.
package deadletter

import (
	"context"
	"time"

	"telemetry-ingest-plane/internal/event/domain"
)

// Entry is one diverted envelope with the reason it was diverted.
type Entry struct {
	ID             string
	OrgID          string
	Type           domain.TelemetryType
	IdempotencyKey string
	Payload        []byte // envelope JSON
	Reason         string
	CreatedAt      time.Time
}

// Repository defines persistence for dead-lettered envelopes.
type Repository interface {
	Save(ctx context.Context, e *Entry) error
	ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*Entry, error)
}
