package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"telemetry-ingest-plane/internal/credential/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an API key repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetAPIKeyByID returns the key for keyID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetAPIKeyByID(ctx context.Context, keyID string) (*domain.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT key_id, org_id, secret_sha256, scopes, created_at, revoked_at
		FROM api_keys WHERE key_id = $1`, keyID)

	var k domain.APIKey
	var scopes string
	var revoked sql.NullTime
	err := row.Scan(&k.KeyID, &k.OrgID, &k.SecretSHA256, &scopes, &k.CreatedAt, &revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if scopes != "" {
		k.Scopes = strings.Split(scopes, ",")
	}
	if revoked.Valid {
		t := revoked.Time
		k.RevokedAt = &t
	}
	return &k, nil
}

// CreateAPIKey persists the API key. The key must have KeyID, OrgID, and SecretSHA256 set.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, k *domain.APIKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_id, org_id, secret_sha256, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		k.KeyID, k.OrgID, k.SecretSHA256, strings.Join(k.Scopes, ","), k.CreatedAt)
	return err
}

// RevokeAPIKey marks the key revoked as of now. Revoking an already revoked key is a no-op.
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = now() WHERE key_id = $1 AND revoked_at IS NULL`, keyID)
	return err
}
