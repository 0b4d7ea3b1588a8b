// Package timeseries stores metric points in Redis sorted sets, one series
// per (org, metric name, label set). Points are scored by timestamp so range
// reads are a single ZRANGEBYSCORE per series.
package timeseries

import (
	"context"
	"time"

	"telemetry-ingest-plane/internal/event/domain"
)

// Point is one metric sample.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is the samples of one label set over a time range.
type Series struct {
	Metric string            `json:"metric"`
	Labels map[string]string `json:"labels,omitempty"`
	Points []Point           `json:"points"`
}

// Repository defines persistence for metric time series.
type Repository interface {
	// SavePoint appends the envelope's metric point to its series.
	SavePoint(ctx context.Context, env *domain.Envelope) error
	// Range returns all of the org's series for metric whose labels are a
	// superset of matchLabels, with points in [start, end).
	Range(ctx context.Context, orgID, metric string, matchLabels map[string]string, start, end time.Time) ([]Series, error)
}

// Disabled is the metric store used when no Redis is configured: writes are
// dropped and reads are empty. Logs and traces keep flowing.
type Disabled struct{}

func (Disabled) SavePoint(ctx context.Context, env *domain.Envelope) error { return nil }

func (Disabled) Range(ctx context.Context, orgID, metric string, matchLabels map[string]string, start, end time.Time) ([]Series, error) {
	return nil, nil
}
