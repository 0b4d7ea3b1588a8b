package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telemetry-ingest-plane/internal/credential"
	"telemetry-ingest-plane/internal/event/domain"
	"telemetry-ingest-plane/internal/query"
	"telemetry-ingest-plane/internal/server/httpapi"
	"telemetry-ingest-plane/internal/storage/analytical"
	"telemetry-ingest-plane/internal/storage/timeseries"
)

type fakeAnalytical struct {
	logs       map[string][]*analytical.LogRecord
	spans      map[string][]*analytical.SpanRecord
	rum        map[string][]*analytical.RumRecord
	lastFilter any
}

func (f *fakeAnalytical) SaveLog(ctx context.Context, env *domain.Envelope) error  { return nil }
func (f *fakeAnalytical) SaveSpan(ctx context.Context, env *domain.Envelope) error { return nil }
func (f *fakeAnalytical) SaveRum(ctx context.Context, env *domain.Envelope) error  { return nil }

func (f *fakeAnalytical) SearchLogs(ctx context.Context, orgID string, flt analytical.LogFilter) ([]*analytical.LogRecord, error) {
	f.lastFilter = flt
	return f.logs[orgID], nil
}

func (f *fakeAnalytical) GetTrace(ctx context.Context, orgID, traceID string) ([]*analytical.SpanRecord, error) {
	var out []*analytical.SpanRecord
	for _, s := range f.spans[orgID] {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeAnalytical) SearchTraces(ctx context.Context, orgID string, flt analytical.TraceFilter) ([]*analytical.SpanRecord, error) {
	f.lastFilter = flt
	return f.spans[orgID], nil
}

func (f *fakeAnalytical) SearchRum(ctx context.Context, orgID string, flt analytical.RumFilter) ([]*analytical.RumRecord, error) {
	f.lastFilter = flt
	return f.rum[orgID], nil
}

type fakeSeries struct {
	series map[string][]timeseries.Series
}

func (f *fakeSeries) SavePoint(ctx context.Context, env *domain.Envelope) error { return nil }

func (f *fakeSeries) Range(ctx context.Context, orgID, metric string, matchers map[string]string, from, to time.Time) ([]timeseries.Series, error) {
	var out []timeseries.Series
	for _, s := range f.series[orgID] {
		if s.Metric == metric {
			out = append(out, s)
		}
	}
	return out, nil
}

func newTestHandler(store *fakeAnalytical, series *fakeSeries) *Handler {
	if store == nil {
		store = &fakeAnalytical{}
	}
	if series == nil {
		series = &fakeSeries{}
	}
	return New(query.NewEngine(store, series))
}

func doRequest(t *testing.T, h http.HandlerFunc, method, target, body, orgID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	identity := &credential.Identity{OrgID: orgID, KeyID: "k", Scopes: []string{credential.ScopeQuery}}
	req = req.WithContext(httpapi.WithIdentity(req.Context(), identity))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearchLogs_ScopedToIdentityOrg(t *testing.T) {
	store := &fakeAnalytical{logs: map[string][]*analytical.LogRecord{
		"org1": {{ID: "l1", OrgID: "org1", Message: "checkout failed", Level: domain.LevelError}},
		"org2": {{ID: "l2", OrgID: "org2", Message: "other tenant"}},
	}}
	h := newTestHandler(store, nil)

	rec := doRequest(t, h.SearchLogs(), http.MethodPost, "/logs/search", `{"query":"checkout"}`, "org1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Logs []*analytical.LogRecord `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Logs) != 1 || resp.Logs[0].ID != "l1" {
		t.Errorf("logs = %+v, want only org1's record", resp.Logs)
	}
}

func TestSearchLogs_FilterFieldsForwarded(t *testing.T) {
	store := &fakeAnalytical{}
	h := newTestHandler(store, nil)

	body := `{
		"query":"disk",
		"filters":{"service":"api","level":"error","trace_id":"t1"},
		"timeRange":{"from":"2026-03-01T00:00:00Z","to":"2026-03-02T00:00:00Z"},
		"limit":50,"offset":10
	}`
	rec := doRequest(t, h.SearchLogs(), http.MethodPost, "/logs/search", body, "org1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	f, ok := store.lastFilter.(analytical.LogFilter)
	if !ok {
		t.Fatalf("filter not forwarded: %T", store.lastFilter)
	}
	if f.Query != "disk" || f.Service != "api" || f.Level != domain.LevelError || f.TraceID != "t1" {
		t.Errorf("filter = %+v", f)
	}
	if f.Limit != 50 || f.Offset != 10 {
		t.Errorf("paging = %d/%d", f.Limit, f.Offset)
	}
	if f.Start.IsZero() || f.End.IsZero() {
		t.Errorf("time range not parsed: %v .. %v", f.Start, f.End)
	}
}

func TestSearchLogs_BadRequests(t *testing.T) {
	h := newTestHandler(nil, nil)
	cases := []string{
		`not json`,
		`{"timeRange":{"from":"not-a-time"}}`,
		`{"timeRange":{"from":"2026-03-02T00:00:00Z","to":"2026-03-01T00:00:00Z"}}`,
		`{"limit":-5}`,
	}
	for _, body := range cases {
		rec := doRequest(t, h.SearchLogs(), http.MethodPost, "/logs/search", body, "org1")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSearchLogs_LimitCapped(t *testing.T) {
	store := &fakeAnalytical{}
	h := newTestHandler(store, nil)

	rec := doRequest(t, h.SearchLogs(), http.MethodPost, "/logs/search", `{"limit":999999}`, "org1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	f := store.lastFilter.(analytical.LogFilter)
	if f.Limit != maxResultLimit {
		t.Errorf("limit = %d, want capped at %d", f.Limit, maxResultLimit)
	}
}

func TestQueryMetrics_Aggregates(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	series := &fakeSeries{series: map[string][]timeseries.Series{
		"org1": {{
			Metric: "cpu_usage",
			Labels: map[string]string{"host": "a"},
			Points: []timeseries.Point{
				{Timestamp: base.Add(10 * time.Second), Value: 10},
				{Timestamp: base.Add(20 * time.Second), Value: 30},
			},
		}},
	}}
	h := newTestHandler(nil, series)

	body := `{
		"query":"avg(cpu_usage{host=\"a\"})",
		"from":"2026-03-01T12:00:00Z","to":"2026-03-01T12:01:00Z",
		"step":60
	}`
	rec := doRequest(t, h.QueryMetrics(), http.MethodPost, "/metrics/query", body, "org1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result query.MetricResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Metric != "cpu_usage" || result.Func != "avg" {
		t.Errorf("result header = %+v", result)
	}
	if len(result.Points) != 1 || result.Points[0].Value != 20 {
		t.Errorf("points = %+v, want single avg of 20", result.Points)
	}
}

func TestQueryMetrics_BadExpression(t *testing.T) {
	h := newTestHandler(nil, nil)
	body := `{
		"query":"explode(cpu_usage)",
		"from":"2026-03-01T12:00:00Z","to":"2026-03-01T12:01:00Z"
	}`
	rec := doRequest(t, h.QueryMetrics(), http.MethodPost, "/metrics/query", body, "org1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQueryMetrics_RangeRequired(t *testing.T) {
	h := newTestHandler(nil, nil)
	rec := doRequest(t, h.QueryMetrics(), http.MethodPost, "/metrics/query", `{"query":"cpu_usage"}`, "org1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetTrace_AssemblesTree(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeAnalytical{spans: map[string][]*analytical.SpanRecord{
		"org1": {
			{ID: "1", TraceID: "t1", SpanID: "root", Name: "GET /checkout", StartTime: base},
			{ID: "2", TraceID: "t1", SpanID: "child", ParentSpanID: "root", Name: "db.query", StartTime: base.Add(time.Millisecond)},
		},
	}}
	h := newTestHandler(store, nil)

	req := httptest.NewRequest(http.MethodGet, "/traces/t1", nil)
	req.SetPathValue("id", "t1")
	identity := &credential.Identity{OrgID: "org1", Scopes: []string{credential.ScopeQuery}}
	req = req.WithContext(httpapi.WithIdentity(req.Context(), identity))
	rec := httptest.NewRecorder()
	h.GetTrace().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TraceID string             `json:"trace_id"`
		Spans   []*query.TraceNode `json:"spans"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Spans) != 1 || len(resp.Spans[0].Children) != 1 {
		t.Errorf("tree = %+v, want one root with one child", resp.Spans)
	}
}

func TestGetTrace_OtherTenantLooksUnknown(t *testing.T) {
	store := &fakeAnalytical{spans: map[string][]*analytical.SpanRecord{
		"org2": {{ID: "1", TraceID: "t1", SpanID: "root"}},
	}}
	h := newTestHandler(store, nil)

	req := httptest.NewRequest(http.MethodGet, "/traces/t1", nil)
	req.SetPathValue("id", "t1")
	identity := &credential.Identity{OrgID: "org1", Scopes: []string{credential.ScopeQuery}}
	req = req.WithContext(httpapi.WithIdentity(req.Context(), identity))
	rec := httptest.NewRecorder()
	h.GetTrace().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSearchTraces_FilterForwarded(t *testing.T) {
	store := &fakeAnalytical{}
	h := newTestHandler(store, nil)

	body := `{"service":"api","status":"error","min_duration_ms":250,"limit":20}`
	rec := doRequest(t, h.SearchTraces(), http.MethodPost, "/traces/search", body, "org1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	f := store.lastFilter.(analytical.TraceFilter)
	if f.Service != "api" || f.Status != domain.SpanStatusError || f.MinDurationMs != 250 || f.Limit != 20 {
		t.Errorf("filter = %+v", f)
	}
}

func TestSearchRum_ScopedAndFiltered(t *testing.T) {
	store := &fakeAnalytical{rum: map[string][]*analytical.RumRecord{
		"org1": {{ID: "r1", OrgID: "org1", EventType: domain.RumPageview, PageURL: "https://shop.example/cart"}},
	}}
	h := newTestHandler(store, nil)

	rec := doRequest(t, h.SearchRum(), http.MethodPost, "/rum/search", `{"event_type":"pageview"}`, "org1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	f := store.lastFilter.(analytical.RumFilter)
	if f.EventType != domain.RumPageview {
		t.Errorf("filter = %+v", f)
	}
	var resp struct {
		Events []*analytical.RumRecord `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].ID != "r1" {
		t.Errorf("events = %+v", resp.Events)
	}
}
