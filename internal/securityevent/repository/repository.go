package repository

import (
	"context"

	"telemetry-ingest-plane/internal/securityevent/domain"
)

// Repository defines persistence for security events.
type Repository interface {
	Create(ctx context.Context, e *domain.SecurityEvent) error
	ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.SecurityEvent, error)
}
