package repository

import (
	"context"

	"telemetry-ingest-plane/internal/credential/domain"
)

// Repository defines persistence for API keys.
type Repository interface {
	// GetAPIKeyByID returns the key for keyID, or nil if not found.
	GetAPIKeyByID(ctx context.Context, keyID string) (*domain.APIKey, error)
	CreateAPIKey(ctx context.Context, k *domain.APIKey) error
	RevokeAPIKey(ctx context.Context, keyID string) error
}
