// Package queue decouples the ingestion gateway from the normalizer workers:
// a named, partitioned, persistent append log per telemetry type with
// at-least-once consumer semantics and consumer-group offset tracking.
//
// Ordering is guaranteed per partition only. Envelopes are partitioned by
// organization ID, so per-org order is preserved and no global order is
// promised.
package queue

import (
	"context"
	"errors"

	"telemetry-ingest-plane/internal/event/domain"
)

// Message is one queued payload with enough position information to ack it.
type Message struct {
	Type      domain.TelemetryType
	Key       string // partition key (organization ID)
	Value     []byte // envelope JSON
	Partition int
	Offset    int64
}

// ErrClosed is returned by operations on a closed publisher or consumer.
var ErrClosed = errors.New("queue: closed")

// Publisher appends payloads to the per-type log. Publish blocks under
// backpressure; callers bound it with a context deadline.
type Publisher interface {
	// Publish appends value to the log for typ, partitioned by key.
	Publish(ctx context.Context, typ domain.TelemetryType, key string, value []byte) error
	Close() error
}

// Consumer reads one telemetry type on behalf of a consumer group. Multiple
// consumers in the same group share partitions without double-processing.
// Messages are redelivered until committed (at-least-once).
type Consumer interface {
	// Fetch blocks until a message is available or ctx is done.
	Fetch(ctx context.Context) (Message, error)
	// Commit acknowledges messages; the group will not see them again.
	Commit(ctx context.Context, msgs ...Message) error
	Close() error
}

// ConsumerFactory opens a consumer for one telemetry type. The worker opens
// one consumer per pool worker so the queue's group management spreads
// partitions across them.
type ConsumerFactory interface {
	NewConsumer(group string, typ domain.TelemetryType) (Consumer, error)
}
