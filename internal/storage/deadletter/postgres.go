package deadletter

import (
	"context"
	"database/sql"

	"telemetry-ingest-plane/internal/event/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a dead-letter store backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save persists the entry. The entry must have ID set.
func (r *PostgresRepository) Save(ctx context.Context, e *Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, org_id, telemetry_type, idempotency_key, payload, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.OrgID, string(e.Type), e.IdempotencyKey, e.Payload, e.Reason, e.CreatedAt)
	return err
}

// ListByOrg returns the org's dead letters, newest first.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, telemetry_type, idempotency_key, payload, reason, created_at
		FROM dead_letters
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var typ string
		if err := rows.Scan(&e.ID, &e.OrgID, &typ, &e.IdempotencyKey, &e.Payload, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = domain.TelemetryType(typ)
		out = append(out, &e)
	}
	return out, rows.Err()
}
