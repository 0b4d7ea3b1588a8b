package query

import (
	"context"
	"errors"
	"log"
	"time"

	"telemetry-ingest-plane/internal/storage/analytical"
	"telemetry-ingest-plane/internal/storage/timeseries"
)

// Engine answers scoped read requests. Infrastructure failures degrade to
// empty results with a logged error: the read path prefers availability over
// completeness and never turns a store outage into a client-visible 500.
type Engine struct {
	analytical analytical.Repository
	series     timeseries.Repository
}

// NewEngine wires the read path over both stores.
func NewEngine(a analytical.Repository, s timeseries.Repository) *Engine {
	return &Engine{analytical: a, series: s}
}

// SearchLogs returns the org's logs matching f, or empty on store failure.
func (e *Engine) SearchLogs(ctx context.Context, orgID string, f analytical.LogFilter) []*analytical.LogRecord {
	records, err := e.analytical.SearchLogs(ctx, orgID, f)
	if err != nil {
		log.Printf("query: log search failed for org %s, returning empty: %v", orgID, err)
		return []*analytical.LogRecord{}
	}
	if records == nil {
		records = []*analytical.LogRecord{}
	}
	return records
}

// QueryMetrics parses expr, loads matching series in [from, to), and
// aggregates into step buckets. A parse failure is the caller's error; a
// store failure degrades to an empty result.
func (e *Engine) QueryMetrics(ctx context.Context, orgID, expr string, from, to time.Time, step time.Duration) (*MetricResult, error) {
	parsed, err := ParseExpr(expr)
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, errors.New("query: time range is empty")
	}

	series, err := e.series.Range(ctx, orgID, parsed.Metric, parsed.Matchers, from, to)
	if err != nil {
		log.Printf("query: metric range failed for org %s, returning empty: %v", orgID, err)
		return &MetricResult{Metric: parsed.Metric, Func: parsed.Func, Points: []timeseries.Point{}}, nil
	}
	result := Aggregate(series, parsed, from, to, step)
	if result.Points == nil {
		result.Points = []timeseries.Point{}
	}
	return result, nil
}

// GetTrace returns the assembled span trees of one trace, or empty when the
// trace is unknown to the org or the store is down.
func (e *Engine) GetTrace(ctx context.Context, orgID, traceID string) []*TraceNode {
	spans, err := e.analytical.GetTrace(ctx, orgID, traceID)
	if err != nil {
		log.Printf("query: trace read failed for org %s, returning empty: %v", orgID, err)
		return []*TraceNode{}
	}
	roots := AssembleTrace(spans)
	if roots == nil {
		roots = []*TraceNode{}
	}
	return roots
}

// SearchTraces returns the org's root spans matching f, or empty on failure.
func (e *Engine) SearchTraces(ctx context.Context, orgID string, f analytical.TraceFilter) []*analytical.SpanRecord {
	spans, err := e.analytical.SearchTraces(ctx, orgID, f)
	if err != nil {
		log.Printf("query: trace search failed for org %s, returning empty: %v", orgID, err)
		return []*analytical.SpanRecord{}
	}
	if spans == nil {
		spans = []*analytical.SpanRecord{}
	}
	return spans
}

// SearchRum returns the org's RUM events matching f, or empty on failure.
func (e *Engine) SearchRum(ctx context.Context, orgID string, f analytical.RumFilter) []*analytical.RumRecord {
	records, err := e.analytical.SearchRum(ctx, orgID, f)
	if err != nil {
		log.Printf("query: rum search failed for org %s, returning empty: %v", orgID, err)
		return []*analytical.RumRecord{}
	}
	if records == nil {
		records = []*analytical.RumRecord{}
	}
	return records
}
