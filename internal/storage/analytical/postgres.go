package analytical

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"telemetry-ingest-plane/internal/event/domain"
)

const defaultSearchLimit = 100

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an analytical store backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// SaveLog persists one log envelope. Duplicate idempotency keys within the
// org are dropped by the unique index, making redelivered messages harmless.
func (r *PostgresRepository) SaveLog(ctx context.Context, env *domain.Envelope) error {
	attrs, err := json.Marshal(orEmptyMap(env.Log.Attributes))
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO log_records (id, org_id, service, level, message, attributes, trace_id, event_time, received_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`,
		uuid.New().String(), env.OrgID, env.Service, string(env.Log.Level), env.Log.Message,
		attrs, env.Log.TraceID, env.EventTime(), env.ReceivedAt, env.IdempotencyKey)
	return err
}

// SaveSpan persists one span envelope.
func (r *PostgresRepository) SaveSpan(ctx context.Context, env *domain.Envelope) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO spans (id, org_id, service, trace_id, span_id, parent_span_id, name, start_time, duration_ms, status, attributes, received_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`,
		uuid.New().String(), env.OrgID, env.Service, env.Span.TraceID, env.Span.SpanID,
		env.Span.ParentSpanID, env.Span.Name, env.Span.StartTime.UTC(), env.Span.DurationMs,
		string(env.Span.Status), []byte("{}"), env.ReceivedAt, env.IdempotencyKey)
	return err
}

// SaveRum persists one RUM envelope, including enrichment (geo, browser).
func (r *PostgresRepository) SaveRum(ctx context.Context, env *domain.Envelope) error {
	perf, err := json.Marshal(orEmptyFloatMap(env.Rum.PerformanceMetrics))
	if err != nil {
		return fmt.Errorf("marshal performance metrics: %w", err)
	}
	attrs, err := json.Marshal(orEmptyMap(env.Rum.Attributes))
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	var geo, browser []byte
	if env.Enrichment != nil && env.Enrichment.Geo != nil {
		if geo, err = json.Marshal(env.Enrichment.Geo); err != nil {
			return fmt.Errorf("marshal geo: %w", err)
		}
	}
	if env.Enrichment != nil && env.Enrichment.Browser != nil {
		if browser, err = json.Marshal(env.Enrichment.Browser); err != nil {
			return fmt.Errorf("marshal browser: %w", err)
		}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rum_events (id, org_id, service, event_type, page_url, session_id, performance_metrics, attributes, geo, browser, event_time, received_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`,
		uuid.New().String(), env.OrgID, env.Service, string(env.Rum.EventType), env.Rum.PageURL,
		env.Rum.SessionID, perf, attrs, nullBytes(geo), nullBytes(browser),
		env.EventTime(), env.ReceivedAt, env.IdempotencyKey)
	return err
}

// SearchLogs returns the org's log records matching f, newest first.
func (r *PostgresRepository) SearchLogs(ctx context.Context, orgID string, f LogFilter) ([]*LogRecord, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}

	if f.Service != "" {
		args = append(args, f.Service)
		where = append(where, fmt.Sprintf("service = $%d", len(args)))
	}
	if f.Level != "" {
		args = append(args, string(f.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}
	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		where = append(where, fmt.Sprintf("message ILIKE $%d", len(args)))
	}
	if f.TraceID != "" {
		args = append(args, f.TraceID)
		where = append(where, fmt.Sprintf("trace_id = $%d", len(args)))
	}
	if !f.Start.IsZero() {
		args = append(args, f.Start)
		where = append(where, fmt.Sprintf("event_time >= $%d", len(args)))
	}
	if !f.End.IsZero() {
		args = append(args, f.End)
		where = append(where, fmt.Sprintf("event_time < $%d", len(args)))
	}
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	query := fmt.Sprintf(`
		SELECT id, org_id, service, level, message, attributes, trace_id, event_time, received_at
		FROM log_records
		WHERE %s
		ORDER BY event_time DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LogRecord
	for rows.Next() {
		var rec LogRecord
		var attrs []byte
		var level string
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.Service, &level, &rec.Message, &attrs, &rec.TraceID, &rec.EventTime, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		rec.Level = domain.Level(level)
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// GetTrace returns every stored span of the trace, ordered by start time.
func (r *PostgresRepository) GetTrace(ctx context.Context, orgID, traceID string) ([]*SpanRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, service, trace_id, span_id, parent_span_id, name, start_time, duration_ms, status
		FROM spans
		WHERE org_id = $1 AND trace_id = $2
		ORDER BY start_time ASC`,
		orgID, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSpans(rows)
}

// SearchTraces returns root spans (no parent) matching f, newest first. The
// caller expands interesting traces with GetTrace.
func (r *PostgresRepository) SearchTraces(ctx context.Context, orgID string, f TraceFilter) ([]*SpanRecord, error) {
	where := []string{"org_id = $1", "parent_span_id = ''"}
	args := []any{orgID}

	if f.Service != "" {
		args = append(args, f.Service)
		where = append(where, fmt.Sprintf("service = $%d", len(args)))
	}
	if f.Name != "" {
		args = append(args, f.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.MinDurationMs > 0 {
		args = append(args, f.MinDurationMs)
		where = append(where, fmt.Sprintf("duration_ms >= $%d", len(args)))
	}
	if !f.Start.IsZero() {
		args = append(args, f.Start)
		where = append(where, fmt.Sprintf("start_time >= $%d", len(args)))
	}
	if !f.End.IsZero() {
		args = append(args, f.End)
		where = append(where, fmt.Sprintf("start_time < $%d", len(args)))
	}
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	query := fmt.Sprintf(`
		SELECT id, org_id, service, trace_id, span_id, parent_span_id, name, start_time, duration_ms, status
		FROM spans
		WHERE %s
		ORDER BY start_time DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSpans(rows)
}

// SearchRum returns the org's RUM events matching f, newest first.
func (r *PostgresRepository) SearchRum(ctx context.Context, orgID string, f RumFilter) ([]*RumRecord, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}

	if f.EventType != "" {
		args = append(args, string(f.EventType))
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if f.PageURL != "" {
		args = append(args, "%"+f.PageURL+"%")
		where = append(where, fmt.Sprintf("page_url ILIKE $%d", len(args)))
	}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if !f.Start.IsZero() {
		args = append(args, f.Start)
		where = append(where, fmt.Sprintf("event_time >= $%d", len(args)))
	}
	if !f.End.IsZero() {
		args = append(args, f.End)
		where = append(where, fmt.Sprintf("event_time < $%d", len(args)))
	}
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	query := fmt.Sprintf(`
		SELECT id, org_id, service, event_type, page_url, session_id, performance_metrics, attributes, geo, browser, event_time
		FROM rum_events
		WHERE %s
		ORDER BY event_time DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RumRecord
	for rows.Next() {
		var rec RumRecord
		var eventType string
		var perf, attrs []byte
		var geo, browser sql.Null[[]byte]
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.Service, &eventType, &rec.PageURL, &rec.SessionID, &perf, &attrs, &geo, &browser, &rec.EventTime); err != nil {
			return nil, err
		}
		rec.EventType = domain.RumEventType(eventType)
		if err := json.Unmarshal(perf, &rec.PerformanceMetrics); err != nil {
			return nil, fmt.Errorf("unmarshal performance metrics: %w", err)
		}
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
		if geo.Valid && len(geo.V) > 0 {
			rec.Geo = &domain.GeoInfo{}
			if err := json.Unmarshal(geo.V, rec.Geo); err != nil {
				return nil, fmt.Errorf("unmarshal geo: %w", err)
			}
		}
		if browser.Valid && len(browser.V) > 0 {
			rec.Browser = &domain.BrowserInfo{}
			if err := json.Unmarshal(browser.V, rec.Browser); err != nil {
				return nil, fmt.Errorf("unmarshal browser: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func scanSpans(rows *sql.Rows) ([]*SpanRecord, error) {
	var out []*SpanRecord
	for rows.Next() {
		var rec SpanRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.Service, &rec.TraceID, &rec.SpanID, &rec.ParentSpanID, &rec.Name, &rec.StartTime, &rec.DurationMs, &status); err != nil {
			return nil, err
		}
		rec.Status = domain.SpanStatus(status)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func limitOrDefault(limit int32) int32 {
	if limit <= 0 {
		return defaultSearchLimit
	}
	return limit
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
