package timeseries

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"telemetry-ingest-plane/internal/event/domain"
)

// Key layout:
//
//	tip:ts:{org}:{metric}:{labelhash}      sorted set, score = unix millis
//	tip:tsidx:{org}:{metric}               set of labelhash values
//	tip:tslabels:{org}:{metric}:{labelhash} label set JSON
const (
	seriesKeyPrefix = "tip:ts:"
	indexKeyPrefix  = "tip:tsidx:"
	labelsKeyPrefix = "tip:tslabels:"
)

type RedisRepository struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisRepository returns a metric store on client. retention bounds how
// long idle series keys live; zero keeps them indefinitely.
func NewRedisRepository(client *redis.Client, retention time.Duration) *RedisRepository {
	return &RedisRepository{client: client, retention: retention}
}

// SavePoint appends env's metric sample to its series and registers the
// series in the per-metric index.
func (r *RedisRepository) SavePoint(ctx context.Context, env *domain.Envelope) error {
	m := env.Metric
	hash := labelHash(m.Labels)
	ts := env.EventTime().UnixMilli()
	member := fmt.Sprintf("%d:%s", ts, strconv.FormatFloat(m.Value, 'g', -1, 64))

	seriesKey := seriesKeyPrefix + env.OrgID + ":" + m.Name + ":" + hash
	indexKey := indexKeyPrefix + env.OrgID + ":" + m.Name
	labelsKey := labelsKeyPrefix + env.OrgID + ":" + m.Name + ":" + hash

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, seriesKey, &redis.Z{Score: float64(ts), Member: member})
	pipe.SAdd(ctx, indexKey, hash)
	if len(m.Labels) > 0 {
		labelsJSON, err := json.Marshal(m.Labels)
		if err != nil {
			return fmt.Errorf("marshal labels: %w", err)
		}
		pipe.Set(ctx, labelsKey, labelsJSON, r.retention)
	}
	if r.retention > 0 {
		pipe.Expire(ctx, seriesKey, r.retention)
		pipe.Expire(ctx, indexKey, r.retention)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Range loads every series of metric whose labels include matchLabels.
func (r *RedisRepository) Range(ctx context.Context, orgID, metric string, matchLabels map[string]string, start, end time.Time) ([]Series, error) {
	indexKey := indexKeyPrefix + orgID + ":" + metric
	hashes, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	var out []Series
	for _, hash := range hashes {
		labels, err := r.loadLabels(ctx, orgID, metric, hash)
		if err != nil {
			return nil, err
		}
		if !labelsMatch(labels, matchLabels) {
			continue
		}

		seriesKey := seriesKeyPrefix + orgID + ":" + metric + ":" + hash
		members, err := r.client.ZRangeByScore(ctx, seriesKey, &redis.ZRangeBy{
			Min: strconv.FormatInt(start.UnixMilli(), 10),
			Max: "(" + strconv.FormatInt(end.UnixMilli(), 10),
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			continue
		}

		points := make([]Point, 0, len(members))
		for _, member := range members {
			p, ok := parseMember(member)
			if !ok {
				continue
			}
			points = append(points, p)
		}
		out = append(out, Series{Metric: metric, Labels: labels, Points: points})
	}

	sort.Slice(out, func(i, j int) bool { return labelHash(out[i].Labels) < labelHash(out[j].Labels) })
	return out, nil
}

func (r *RedisRepository) loadLabels(ctx context.Context, orgID, metric, hash string) (map[string]string, error) {
	raw, err := r.client.Get(ctx, labelsKeyPrefix+orgID+":"+metric+":"+hash).Result()
	if err == redis.Nil {
		return nil, nil // unlabeled series
	}
	if err != nil {
		return nil, err
	}
	var labels map[string]string
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	return labels, nil
}

func parseMember(member string) (Point, bool) {
	tsStr, valStr, ok := strings.Cut(member, ":")
	if !ok {
		return Point{}, false
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Point{}, false
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return Point{}, false
	}
	return Point{Timestamp: time.UnixMilli(ts).UTC(), Value: val}, true
}

// labelsMatch reports whether have contains every pair in want.
func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// labelHash is a stable digest of a label set, used as the series key suffix.
func labelHash(labels map[string]string) string {
	if len(labels) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
