// Package analytical persists logs, spans, and RUM events to Postgres and
// serves the search queries the read API exposes. Every operation is scoped
// by org_id; there is no unscoped read path.
package analytical

import (
	"context"
	"time"

	"telemetry-ingest-plane/internal/event/domain"
)

// LogRecord is a stored log line as returned by searches.
type LogRecord struct {
	ID         string            `json:"id"`
	OrgID      string            `json:"organization_id"`
	Service    string            `json:"service"`
	Level      domain.Level      `json:"level"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
	EventTime  time.Time         `json:"event_time"`
	ReceivedAt time.Time         `json:"received_at"`
}

// SpanRecord is a stored span as returned by trace reads.
type SpanRecord struct {
	ID           string            `json:"id"`
	OrgID        string            `json:"organization_id"`
	Service      string            `json:"service"`
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Name         string            `json:"name"`
	StartTime    time.Time         `json:"start_time"`
	DurationMs   float64           `json:"duration_ms"`
	Status       domain.SpanStatus `json:"status"`
}

// RumRecord is a stored real-user-monitoring event.
type RumRecord struct {
	ID                 string             `json:"id"`
	OrgID              string             `json:"organization_id"`
	Service            string             `json:"service"`
	EventType          domain.RumEventType `json:"event_type"`
	PageURL            string             `json:"page_url,omitempty"`
	SessionID          string             `json:"session_id,omitempty"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics,omitempty"`
	Attributes         map[string]string  `json:"attributes,omitempty"`
	Geo                *domain.GeoInfo    `json:"geo,omitempty"`
	Browser            *domain.BrowserInfo `json:"browser,omitempty"`
	EventTime          time.Time          `json:"event_time"`
}

// LogFilter narrows a log search. Zero-value fields are not applied.
type LogFilter struct {
	Service string
	Level   domain.Level
	Query   string // substring match on message
	TraceID string
	Start   time.Time
	End     time.Time
	Limit   int32
	Offset  int32
}

// TraceFilter narrows a trace search over root spans.
type TraceFilter struct {
	Service       string
	Name          string
	Status        domain.SpanStatus
	MinDurationMs float64
	Start         time.Time
	End           time.Time
	Limit         int32
	Offset        int32
}

// RumFilter narrows a RUM event search.
type RumFilter struct {
	EventType domain.RumEventType
	PageURL   string // substring match
	SessionID string
	Start     time.Time
	End       time.Time
	Limit     int32
	Offset    int32
}

// Repository defines persistence for the analytical store. Saves are
// idempotent: a repeated idempotency key within an org is a no-op.
type Repository interface {
	SaveLog(ctx context.Context, env *domain.Envelope) error
	SaveSpan(ctx context.Context, env *domain.Envelope) error
	SaveRum(ctx context.Context, env *domain.Envelope) error

	SearchLogs(ctx context.Context, orgID string, f LogFilter) ([]*LogRecord, error)
	GetTrace(ctx context.Context, orgID, traceID string) ([]*SpanRecord, error)
	SearchTraces(ctx context.Context, orgID string, f TraceFilter) ([]*SpanRecord, error)
	SearchRum(ctx context.Context, orgID string, f RumFilter) ([]*RumRecord, error)
}
