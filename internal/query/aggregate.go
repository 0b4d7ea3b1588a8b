package query

import (
	"math"
	"time"

	"telemetry-ingest-plane/internal/storage/timeseries"
)

// MetricResult is one aggregated series over step-aligned buckets.
type MetricResult struct {
	Metric string             `json:"metric"`
	Func   string             `json:"func"`
	Points []timeseries.Point `json:"points"`
}

// Aggregate folds the matched series into one result series: buckets of width
// step starting at from, each holding fn over every sample that falls inside
// it. rate and increase work on per-series positive deltas so counter resets
// do not produce negative spikes. Empty buckets are omitted.
func Aggregate(series []timeseries.Series, expr *Expr, from, to time.Time, step time.Duration) *MetricResult {
	if step <= 0 {
		step = time.Minute
	}
	result := &MetricResult{Metric: expr.Metric, Func: expr.Func}

	nBuckets := int(to.Sub(from) / step)
	if to.Sub(from)%step != 0 {
		nBuckets++
	}
	if nBuckets <= 0 {
		return result
	}

	switch expr.Func {
	case "rate", "increase":
		increases := make([]float64, nBuckets)
		seen := make([]bool, nBuckets)
		for _, s := range series {
			accumulateDeltas(s.Points, from, step, nBuckets, increases, seen)
		}
		for i := 0; i < nBuckets; i++ {
			if !seen[i] {
				continue
			}
			v := increases[i]
			if expr.Func == "rate" {
				v /= step.Seconds()
			}
			result.Points = append(result.Points, timeseries.Point{
				Timestamp: from.Add(time.Duration(i) * step),
				Value:     v,
			})
		}
	default:
		buckets := make([][]float64, nBuckets)
		for _, s := range series {
			for _, p := range s.Points {
				idx := bucketIndex(p.Timestamp, from, step, nBuckets)
				if idx < 0 {
					continue
				}
				buckets[idx] = append(buckets[idx], p.Value)
			}
		}
		for i, values := range buckets {
			if len(values) == 0 {
				continue
			}
			result.Points = append(result.Points, timeseries.Point{
				Timestamp: from.Add(time.Duration(i) * step),
				Value:     fold(expr.Func, values),
			})
		}
	}
	return result
}

// accumulateDeltas adds each series' positive sample-to-sample deltas into
// the bucket of the later sample. Points are assumed time-ordered within a
// series, which the time-series store guarantees.
func accumulateDeltas(points []timeseries.Point, from time.Time, step time.Duration, nBuckets int, increases []float64, seen []bool) {
	for i := 1; i < len(points); i++ {
		delta := points[i].Value - points[i-1].Value
		if delta < 0 {
			// Counter reset; count the post-reset value as the increase.
			delta = points[i].Value
		}
		idx := bucketIndex(points[i].Timestamp, from, step, nBuckets)
		if idx < 0 {
			continue
		}
		increases[idx] += delta
		seen[idx] = true
	}
}

func bucketIndex(ts time.Time, from time.Time, step time.Duration, nBuckets int) int {
	if ts.Before(from) {
		return -1
	}
	idx := int(ts.Sub(from) / step)
	if idx >= nBuckets {
		return -1
	}
	return idx
}

func fold(fn string, values []float64) float64 {
	switch fn {
	case "sum":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case "min":
		min := math.Inf(1)
		for _, v := range values {
			if v < min {
				min = v
			}
		}
		return min
	case "max":
		max := math.Inf(-1)
		for _, v := range values {
			if v > max {
				max = v
			}
		}
		return max
	case "count":
		return float64(len(values))
	default: // avg
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}
