package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"telemetry-ingest-plane/internal/event/domain"
	"telemetry-ingest-plane/internal/storage/analytical"
	"telemetry-ingest-plane/internal/storage/deadletter"
	"telemetry-ingest-plane/internal/storage/timeseries"
)

type fakeAnalytical struct {
	logs, spans, rums int
	failures          int // first N saves fail
	calls             int
}

func (f *fakeAnalytical) save() error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeAnalytical) SaveLog(ctx context.Context, env *domain.Envelope) error {
	if err := f.save(); err != nil {
		return err
	}
	f.logs++
	return nil
}

func (f *fakeAnalytical) SaveSpan(ctx context.Context, env *domain.Envelope) error {
	if err := f.save(); err != nil {
		return err
	}
	f.spans++
	return nil
}

func (f *fakeAnalytical) SaveRum(ctx context.Context, env *domain.Envelope) error {
	if err := f.save(); err != nil {
		return err
	}
	f.rums++
	return nil
}

func (f *fakeAnalytical) SearchLogs(ctx context.Context, orgID string, lf analytical.LogFilter) ([]*analytical.LogRecord, error) {
	return nil, nil
}

func (f *fakeAnalytical) GetTrace(ctx context.Context, orgID, traceID string) ([]*analytical.SpanRecord, error) {
	return nil, nil
}

func (f *fakeAnalytical) SearchTraces(ctx context.Context, orgID string, tf analytical.TraceFilter) ([]*analytical.SpanRecord, error) {
	return nil, nil
}

func (f *fakeAnalytical) SearchRum(ctx context.Context, orgID string, rf analytical.RumFilter) ([]*analytical.RumRecord, error) {
	return nil, nil
}

type fakeSeries struct {
	points int
	err    error
}

func (f *fakeSeries) SavePoint(ctx context.Context, env *domain.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.points++
	return nil
}

func (f *fakeSeries) Range(ctx context.Context, orgID, metric string, matchLabels map[string]string, start, end time.Time) ([]timeseries.Series, error) {
	return nil, nil
}

type fakeDead struct {
	entries []*deadletter.Entry
	err     error
}

func (f *fakeDead) Save(ctx context.Context, e *deadletter.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeDead) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*deadletter.Entry, error) {
	return f.entries, nil
}

type fakeRecorder struct {
	deadLetters int
}

func (f *fakeRecorder) AuthFailure(ctx context.Context, orgID, sourceAddr, detail string) {}
func (f *fakeRecorder) RateLimited(ctx context.Context, orgID, sourceAddr string)         {}
func (f *fakeRecorder) DataLoss(ctx context.Context, orgID, detail string)                {}
func (f *fakeRecorder) DeadLetter(ctx context.Context, orgID, detail, metadata string)    { f.deadLetters++ }

func envelopeOf(typ domain.TelemetryType) *domain.Envelope {
	env := &domain.Envelope{
		OrgID:          "org1",
		Type:           typ,
		ReceivedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		IdempotencyKey: "k1",
	}
	switch typ {
	case domain.TypeLog:
		env.Log = &domain.LogRecord{Level: domain.LevelInfo, Message: "m"}
	case domain.TypeMetric:
		env.Metric = &domain.MetricPoint{Name: "cpu", Value: 0.5}
	case domain.TypeTrace:
		env.Span = &domain.Span{TraceID: "t1", SpanID: "s1", Name: "op", StartTime: env.ReceivedAt, DurationMs: 3}
	case domain.TypeRum:
		env.Rum = &domain.RumEvent{EventType: domain.RumPageview, PageURL: "https://example.com", SessionID: "sess1"}
	}
	return env
}

func newTestRouter(a analytical.Repository, s timeseries.Repository, d deadletter.Repository, rec *fakeRecorder) *Router {
	r := NewRouter(a, s, d, rec, time.Second)
	r.retryInterval = time.Millisecond
	return r
}

func TestPersist_RoutesByType(t *testing.T) {
	a := &fakeAnalytical{}
	s := &fakeSeries{}
	r := newTestRouter(a, s, &fakeDead{}, &fakeRecorder{})
	ctx := context.Background()

	for _, typ := range domain.Types {
		if err := r.Persist(ctx, envelopeOf(typ)); err != nil {
			t.Fatalf("Persist(%s): %v", typ, err)
		}
	}

	if a.logs != 1 || a.spans != 1 || a.rums != 1 {
		t.Errorf("analytical writes = logs:%d spans:%d rums:%d, want 1 each", a.logs, a.spans, a.rums)
	}
	if s.points != 1 {
		t.Errorf("series writes = %d, want 1", s.points)
	}
}

func TestPersist_UnknownTypeRejected(t *testing.T) {
	r := newTestRouter(&fakeAnalytical{}, &fakeSeries{}, &fakeDead{}, &fakeRecorder{})

	env := envelopeOf(domain.TypeLog)
	env.Type = "unknown"
	if err := r.Persist(context.Background(), env); err == nil {
		t.Fatal("unknown type should not be routable")
	}
}

func TestPersist_TransientFailureRetried(t *testing.T) {
	a := &fakeAnalytical{failures: 2}
	dead := &fakeDead{}
	r := newTestRouter(a, &fakeSeries{}, dead, &fakeRecorder{})

	if err := r.Persist(context.Background(), envelopeOf(domain.TypeLog)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if a.logs != 1 {
		t.Errorf("log writes = %d, want 1 after retries", a.logs)
	}
	if len(dead.entries) != 0 {
		t.Errorf("transient failure should not dead-letter, got %d entries", len(dead.entries))
	}
}

func TestPersist_PersistentFailureDeadLettered(t *testing.T) {
	a := &fakeAnalytical{failures: 100}
	dead := &fakeDead{}
	rec := &fakeRecorder{}
	r := newTestRouter(a, &fakeSeries{}, dead, rec)

	env := envelopeOf(domain.TypeLog)
	if err := r.Persist(context.Background(), env); err != nil {
		t.Fatalf("Persist should succeed via dead letter, got %v", err)
	}

	if len(dead.entries) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead.entries))
	}
	e := dead.entries[0]
	if e.OrgID != "org1" || e.Type != domain.TypeLog || e.IdempotencyKey != "k1" {
		t.Errorf("entry attribution wrong: %+v", e)
	}
	if len(e.Payload) == 0 || e.Reason == "" {
		t.Error("entry should carry payload and reason")
	}
	if rec.deadLetters != 1 {
		t.Errorf("recorder dead letters = %d, want 1", rec.deadLetters)
	}
}

func TestPersist_DeadLetterFailureReturnsError(t *testing.T) {
	a := &fakeAnalytical{failures: 100}
	dead := &fakeDead{err: errors.New("db down")}
	r := newTestRouter(a, &fakeSeries{}, dead, &fakeRecorder{})

	if err := r.Persist(context.Background(), envelopeOf(domain.TypeLog)); err == nil {
		t.Fatal("Persist should fail when both store and dead letter fail")
	}
}

func TestPersist_BreakerOpensUnderConsecutiveFailures(t *testing.T) {
	a := &fakeAnalytical{failures: 1000}
	dead := &fakeDead{}
	r := newTestRouter(a, &fakeSeries{}, dead, &fakeRecorder{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = r.Persist(ctx, envelopeOf(domain.TypeLog))
	}
	callsBefore := a.calls
	_ = r.Persist(ctx, envelopeOf(domain.TypeLog))
	if a.calls != callsBefore {
		t.Errorf("open breaker should stop reaching the store, calls went %d -> %d", callsBefore, a.calls)
	}

	// Metrics flow through their own breaker and are unaffected.
	s := &fakeSeries{}
	r2 := newTestRouter(a, s, dead, &fakeRecorder{})
	if err := r2.Persist(ctx, envelopeOf(domain.TypeMetric)); err != nil {
		t.Fatalf("metric Persist: %v", err)
	}
	if s.points != 1 {
		t.Error("timeseries breaker should be independent of analytical")
	}
}
