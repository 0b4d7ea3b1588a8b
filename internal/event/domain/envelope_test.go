package domain

import (
	"errors"
	"testing"
	"time"
)

func validLogEnvelope() *Envelope {
	return &Envelope{
		OrgID:          "org1",
		Type:           TypeLog,
		ReceivedAt:     time.Now().UTC(),
		Service:        "billing",
		IdempotencyKey: "k1",
		Log:            &LogRecord{Level: LevelError, Message: "boom"},
	}
}

func TestValidate_ValidLog(t *testing.T) {
	if err := validLogEnvelope().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_MissingOrg(t *testing.T) {
	e := validLogEnvelope()
	e.OrgID = ""
	err := e.Validate()
	if err == nil {
		t.Fatal("Validate should fail without organization_id")
	}
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("error should wrap ErrInvalidEnvelope, got %v", err)
	}
}

func TestValidate_BodyTypeMismatch(t *testing.T) {
	e := validLogEnvelope()
	e.Type = TypeMetric
	if err := e.Validate(); err == nil {
		t.Fatal("Validate should fail when type and body disagree")
	}
}

func TestValidate_TwoBodies(t *testing.T) {
	e := validLogEnvelope()
	e.Metric = &MetricPoint{Name: "m", Value: 1}
	if err := e.Validate(); err == nil {
		t.Fatal("Validate should fail with two bodies")
	}
}

func TestValidate_BadLevel(t *testing.T) {
	e := validLogEnvelope()
	e.Log.Level = "fatal"
	if err := e.Validate(); err == nil {
		t.Fatal("Validate should reject unknown level")
	}
}

func TestValidate_SpanDefaultsStatusUnset(t *testing.T) {
	e := &Envelope{
		OrgID: "org1",
		Type:  TypeTrace,
		Span: &Span{
			TraceID:    "t1",
			SpanID:     "s1",
			Name:       "GET /",
			StartTime:  time.Now().UTC(),
			DurationMs: 12,
		},
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if e.Span.Status != SpanStatusUnset {
		t.Errorf("Status = %q, want %q", e.Span.Status, SpanStatusUnset)
	}
}

func TestValidate_RumRequiresSession(t *testing.T) {
	e := &Envelope{
		OrgID: "org1",
		Type:  TypeRum,
		Rum:   &RumEvent{EventType: RumPageview, PageURL: "https://example.com"},
	}
	if err := e.Validate(); err == nil {
		t.Fatal("Validate should fail without session_id")
	}
}

func TestEventTime_Precedence(t *testing.T) {
	received := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	source := time.Date(2026, 3, 1, 9, 58, 0, 0, time.UTC)
	canonical := time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC)

	e := validLogEnvelope()
	e.ReceivedAt = received
	if got := e.EventTime(); !got.Equal(received) {
		t.Errorf("EventTime = %v, want received_at %v", got, received)
	}

	e.SourceTimestamp = &source
	if got := e.EventTime(); !got.Equal(source) {
		t.Errorf("EventTime = %v, want source_timestamp %v", got, source)
	}

	e.Enrichment = &Enrichment{EventTime: canonical}
	if got := e.EventTime(); !got.Equal(canonical) {
		t.Errorf("EventTime = %v, want enrichment %v", got, canonical)
	}
}
