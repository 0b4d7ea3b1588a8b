package repository

import (
	"context"
	"database/sql"
	"errors"

	"telemetry-ingest-plane/internal/organization/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an organization repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetOrganizationByID returns the organization for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, status, plan_tier, signing_secret, rate_capacity, rate_refill_per_sec, created_at
		FROM organizations WHERE id = $1`, id)

	var o domain.Org
	var capacity sql.NullInt64
	var refill sql.NullFloat64
	err := row.Scan(&o.ID, &o.Name, &o.Status, &o.PlanTier, &o.SigningSecret, &capacity, &refill, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if capacity.Valid {
		c := int(capacity.Int64)
		o.RateCapacity = &c
	}
	if refill.Valid {
		f := refill.Float64
		o.RateRefillPerSec = &f
	}
	return &o, nil
}

// CreateOrganization persists the organization to the database. The organization must have ID set.
func (r *PostgresRepository) CreateOrganization(ctx context.Context, o *domain.Org) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, status, plan_tier, signing_secret, rate_capacity, rate_refill_per_sec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.Name, o.Status, o.PlanTier, o.SigningSecret,
		nullInt(o.RateCapacity), nullFloat(o.RateRefillPerSec), o.CreatedAt)
	return err
}

// UpdateOrganization updates the existing organization record in the database. Returns an error if the update fails.
func (r *PostgresRepository) UpdateOrganization(ctx context.Context, o *domain.Org) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE organizations
		SET name = $2, status = $3, plan_tier = $4, signing_secret = $5, rate_capacity = $6, rate_refill_per_sec = $7
		WHERE id = $1`,
		o.ID, o.Name, o.Status, o.PlanTier, o.SigningSecret,
		nullInt(o.RateCapacity), nullFloat(o.RateRefillPerSec))
	return err
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
