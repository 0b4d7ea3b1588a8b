// Package domain defines the telemetry envelope and its body variants.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// TelemetryType identifies which body variant an envelope carries and which
// queue topic and store it is routed to.
type TelemetryType string

const (
	TypeLog    TelemetryType = "logs"
	TypeMetric TelemetryType = "metrics"
	TypeTrace  TelemetryType = "traces"
	TypeRum    TelemetryType = "rum"
)

// Types lists all telemetry types, in topic order.
var Types = []TelemetryType{TypeLog, TypeMetric, TypeTrace, TypeRum}

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// SpanStatus is the outcome of a span.
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
	SpanStatusUnset SpanStatus = "unset"
)

// RumEventType classifies a real-user-monitoring event.
type RumEventType string

const (
	RumPageview    RumEventType = "pageview"
	RumClick       RumEventType = "click"
	RumError       RumEventType = "error"
	RumPerformance RumEventType = "performance"
)

// Envelope is the common wrapper around any telemetry body. Exactly one body
// pointer is non-nil, matching Type. An envelope is created at the gateway,
// mutated exactly once by the normalizer (Enrichment added, PII scrubbed), and
// immutable at rest after that.
type Envelope struct {
	// OrgID is the tenant key. Required and immutable; every persisted record
	// carries it and every query is scoped by it.
	OrgID string `json:"organization_id"`
	// Type selects the body variant.
	Type TelemetryType `json:"type"`
	// ReceivedAt is the server-assigned arrival timestamp (UTC).
	ReceivedAt time.Time `json:"received_at"`
	// SourceTimestamp is the client-supplied event time; may be skewed or absent.
	SourceTimestamp *time.Time `json:"source_timestamp,omitempty"`
	// Service is a free-text label for the emitting service.
	Service string `json:"service"`
	// IdempotencyKey is client-supplied or gateway-derived; used for dedup
	// within the per-org window.
	IdempotencyKey string `json:"idempotency_key"`
	// SourceAddr is the client address observed at the gateway.
	SourceAddr string `json:"source_addr,omitempty"`

	Log    *LogRecord   `json:"log,omitempty"`
	Metric *MetricPoint `json:"metric,omitempty"`
	Span   *Span        `json:"span,omitempty"`
	Rum    *RumEvent    `json:"rum,omitempty"`

	// Enrichment is set by the normalizer; never by the gateway.
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// LogRecord is a single log line with scalar attributes.
type LogRecord struct {
	Level      Level             `json:"level"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
}

// MetricPoint is one sample of a named metric. Labels group series for aggregation.
type MetricPoint struct {
	Name   string            `json:"metric_name"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Span is one operation within a trace. A nil or dangling ParentSpanID marks a root.
type Span struct {
	TraceID      string     `json:"trace_id"`
	SpanID       string     `json:"span_id"`
	ParentSpanID string     `json:"parent_span_id,omitempty"`
	Name         string     `json:"name"`
	StartTime    time.Time  `json:"start_time"`
	DurationMs   float64    `json:"duration_ms"`
	Status       SpanStatus `json:"status"`
}

// RumEvent is a browser-side event with nested numeric performance metrics.
type RumEvent struct {
	EventType          RumEventType       `json:"event_type"`
	PageURL            string             `json:"page_url"`
	SessionID          string             `json:"session_id"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics,omitempty"`
	Attributes         map[string]string  `json:"attributes,omitempty"`
}

// Enrichment holds fields the normalizer adds. Fields are added, never removed.
type Enrichment struct {
	// EventTime is the canonical UTC event time: source_timestamp normalized,
	// or received_at when absent or unparseable.
	EventTime time.Time `json:"event_time"`
	// Geo is the coarse geolocation resolved from an IP-shaped attribute, if any.
	Geo *GeoInfo `json:"geo,omitempty"`
	// Browser is parsed from a user-agent attribute, if any.
	Browser *BrowserInfo `json:"browser,omitempty"`
	// Redactions counts scrubbed values by marker type (e.g. "EMAIL" -> 2).
	Redactions map[string]int `json:"redactions,omitempty"`
}

// GeoInfo is a coarse location. City may be empty for country-only databases.
type GeoInfo struct {
	Country string `json:"country"`
	City    string `json:"city,omitempty"`
}

// BrowserInfo is a parsed user agent.
type BrowserInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	OS      string `json:"os,omitempty"`
	Mobile  bool   `json:"mobile,omitempty"`
	Bot     bool   `json:"bot,omitempty"`
}

// ErrInvalidEnvelope is wrapped by all envelope validation failures.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// ValidLevel reports whether l is one of the four log severities.
func ValidLevel(l Level) bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// ValidSpanStatus reports whether s is ok, error, or unset.
func ValidSpanStatus(s SpanStatus) bool {
	switch s {
	case SpanStatusOK, SpanStatusError, SpanStatusUnset:
		return true
	}
	return false
}

// ValidRumEventType reports whether t is a known RUM event type.
func ValidRumEventType(t RumEventType) bool {
	switch t {
	case RumPageview, RumClick, RumError, RumPerformance:
		return true
	}
	return false
}

// Validate checks required fields, body/type agreement, and enum constraints.
// It returns an error wrapping ErrInvalidEnvelope so callers can map it to a
// client error without inspecting the message.
func (e *Envelope) Validate() error {
	if e.OrgID == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidEnvelope)
	}
	bodies := 0
	if e.Log != nil {
		bodies++
	}
	if e.Metric != nil {
		bodies++
	}
	if e.Span != nil {
		bodies++
	}
	if e.Rum != nil {
		bodies++
	}
	if bodies != 1 {
		return fmt.Errorf("%w: exactly one body is required, got %d", ErrInvalidEnvelope, bodies)
	}
	switch e.Type {
	case TypeLog:
		if e.Log == nil {
			return fmt.Errorf("%w: type %q without log body", ErrInvalidEnvelope, e.Type)
		}
		if !ValidLevel(e.Log.Level) {
			return fmt.Errorf("%w: unknown log level %q", ErrInvalidEnvelope, e.Log.Level)
		}
		if e.Log.Message == "" {
			return fmt.Errorf("%w: log message is required", ErrInvalidEnvelope)
		}
	case TypeMetric:
		if e.Metric == nil {
			return fmt.Errorf("%w: type %q without metric body", ErrInvalidEnvelope, e.Type)
		}
		if e.Metric.Name == "" {
			return fmt.Errorf("%w: metric_name is required", ErrInvalidEnvelope)
		}
	case TypeTrace:
		if e.Span == nil {
			return fmt.Errorf("%w: type %q without span body", ErrInvalidEnvelope, e.Type)
		}
		if e.Span.TraceID == "" || e.Span.SpanID == "" {
			return fmt.Errorf("%w: trace_id and span_id are required", ErrInvalidEnvelope)
		}
		if e.Span.Name == "" {
			return fmt.Errorf("%w: span name is required", ErrInvalidEnvelope)
		}
		if e.Span.Status == "" {
			e.Span.Status = SpanStatusUnset
		}
		if !ValidSpanStatus(e.Span.Status) {
			return fmt.Errorf("%w: unknown span status %q", ErrInvalidEnvelope, e.Span.Status)
		}
		if e.Span.DurationMs < 0 {
			return fmt.Errorf("%w: duration_ms must be non-negative", ErrInvalidEnvelope)
		}
	case TypeRum:
		if e.Rum == nil {
			return fmt.Errorf("%w: type %q without rum body", ErrInvalidEnvelope, e.Type)
		}
		if !ValidRumEventType(e.Rum.EventType) {
			return fmt.Errorf("%w: unknown rum event_type %q", ErrInvalidEnvelope, e.Rum.EventType)
		}
		if e.Rum.SessionID == "" {
			return fmt.Errorf("%w: session_id is required", ErrInvalidEnvelope)
		}
	default:
		return fmt.Errorf("%w: unknown telemetry type %q", ErrInvalidEnvelope, e.Type)
	}
	return nil
}

// EventTime returns the canonical event time: enrichment time if set, else
// source_timestamp, else received_at. Always UTC.
func (e *Envelope) EventTime() time.Time {
	if e.Enrichment != nil && !e.Enrichment.EventTime.IsZero() {
		return e.Enrichment.EventTime.UTC()
	}
	if e.SourceTimestamp != nil && !e.SourceTimestamp.IsZero() {
		return e.SourceTimestamp.UTC()
	}
	return e.ReceivedAt.UTC()
}
