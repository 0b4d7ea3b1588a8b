package handler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"telemetry-ingest-plane/internal/event/domain"
)

// commonDTO carries the envelope fields every telemetry payload may set.
type commonDTO struct {
	Service         string `json:"service"`
	SourceTimestamp string `json:"source_timestamp"`
	IdempotencyKey  string `json:"idempotency_key"`
}

type logDTO struct {
	commonDTO
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes"`
	TraceID    string         `json:"trace_id"`
}

type metricDTO struct {
	commonDTO
	MetricName string            `json:"metric_name"`
	Value      *float64          `json:"value"`
	Labels     map[string]string `json:"labels"`
}

type spanDTO struct {
	commonDTO
	TraceID      string  `json:"trace_id"`
	SpanID       string  `json:"span_id"`
	ParentSpanID string  `json:"parent_span_id"`
	Name         string  `json:"name"`
	StartTime    string  `json:"start_time"`
	DurationMs   float64 `json:"duration_ms"`
	Status       string  `json:"status"`
}

type rumDTO struct {
	commonDTO
	EventType          string             `json:"event_type"`
	PageURL            string             `json:"page_url"`
	SessionID          string             `json:"session_id"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics"`
	Attributes         map[string]any     `json:"attributes"`
}

// decodeItems splits a body that is either one JSON object or an array of
// objects into raw items.
func decodeItems(body []byte) ([]json.RawMessage, error) {
	for _, c := range body {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			var items []json.RawMessage
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, fmt.Errorf("malformed JSON array: %w", err)
			}
			if len(items) == 0 {
				return nil, fmt.Errorf("empty batch")
			}
			return items, nil
		default:
			var item json.RawMessage
			if err := json.Unmarshal(body, &item); err != nil {
				return nil, fmt.Errorf("malformed JSON: %w", err)
			}
			return []json.RawMessage{item}, nil
		}
	}
	return nil, fmt.Errorf("empty body")
}

// toEnvelope parses one raw item into a validated envelope of the given type.
func toEnvelope(typ domain.TelemetryType, raw json.RawMessage, orgID, sourceAddr string, receivedAt time.Time) (*domain.Envelope, error) {
	env := &domain.Envelope{
		OrgID:      orgID,
		Type:       typ,
		ReceivedAt: receivedAt,
		SourceAddr: sourceAddr,
	}
	var common commonDTO

	switch typ {
	case domain.TypeLog:
		var dto logDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("malformed log event: %w", err)
		}
		attrs, err := scalarAttributes(dto.Attributes)
		if err != nil {
			return nil, err
		}
		env.Log = &domain.LogRecord{
			Level:      domain.Level(dto.Level),
			Message:    dto.Message,
			Attributes: attrs,
			TraceID:    dto.TraceID,
		}
		common = dto.commonDTO
	case domain.TypeMetric:
		var dto metricDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("malformed metric point: %w", err)
		}
		if dto.Value == nil {
			return nil, fmt.Errorf("metric point requires value")
		}
		env.Metric = &domain.MetricPoint{
			Name:   dto.MetricName,
			Value:  *dto.Value,
			Labels: dto.Labels,
		}
		common = dto.commonDTO
	case domain.TypeTrace:
		var dto spanDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("malformed span: %w", err)
		}
		start, err := parseTime(dto.StartTime)
		if err != nil {
			return nil, fmt.Errorf("span start_time: %w", err)
		}
		status := domain.SpanStatus(dto.Status)
		if status == "" {
			status = domain.SpanStatusUnset
		}
		env.Span = &domain.Span{
			TraceID:      dto.TraceID,
			SpanID:       dto.SpanID,
			ParentSpanID: dto.ParentSpanID,
			Name:         dto.Name,
			StartTime:    start,
			DurationMs:   dto.DurationMs,
			Status:       status,
		}
		common = dto.commonDTO
	case domain.TypeRum:
		var dto rumDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("malformed rum event: %w", err)
		}
		attrs, err := scalarAttributes(dto.Attributes)
		if err != nil {
			return nil, err
		}
		env.Rum = &domain.RumEvent{
			EventType:          domain.RumEventType(dto.EventType),
			PageURL:            dto.PageURL,
			SessionID:          dto.SessionID,
			PerformanceMetrics: dto.PerformanceMetrics,
			Attributes:         attrs,
		}
		common = dto.commonDTO
	}

	env.Service = common.Service
	if common.SourceTimestamp != "" {
		// A skewed or garbled client clock is not a schema error; the
		// normalizer falls back to received_at.
		if ts, err := parseTime(common.SourceTimestamp); err == nil {
			env.SourceTimestamp = &ts
		}
	}
	env.IdempotencyKey = common.IdempotencyKey
	if env.IdempotencyKey == "" {
		env.IdempotencyKey = deriveIdempotencyKey(orgID, typ, raw)
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// scalarAttributes coerces JSON scalars to strings and rejects nested
// structures.
func scalarAttributes(in map[string]any) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'g', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		case nil:
			out[k] = ""
		default:
			return nil, fmt.Errorf("attribute %q must be a scalar", k)
		}
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
