// Package normalizer consumes raw envelopes from the queue, scrubs PII,
// deduplicates, enriches, and hands the result to the storage router. It is
// the only stage that mutates an envelope.
package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"telemetry-ingest-plane/internal/dedup"
	"telemetry-ingest-plane/internal/event/domain"
	"telemetry-ingest-plane/internal/normalizer/enrich"
	"telemetry-ingest-plane/internal/normalizer/scrub"
	"telemetry-ingest-plane/internal/queue"
	"telemetry-ingest-plane/internal/securityevent"
)

// batchFetchWait bounds how long a started batch waits for more messages.
const batchFetchWait = 100 * time.Millisecond

// Sink receives normalized envelopes. Implemented by the storage router.
type Sink interface {
	Persist(ctx context.Context, env *domain.Envelope) error
}

// Worker runs the normalization stage: one consumer loop per telemetry type
// per worker slot, sharing a consumer group so the queue spreads partitions.
type Worker struct {
	consumers queue.ConsumerFactory
	group     string
	sink      Sink
	dedup     dedup.Store
	scrubber  *scrub.Scrubber
	enricher  *enrich.Enricher
	events    securityevent.Recorder

	workers   int
	batchSize int
}

// NewWorker wires a normalizer. workers and batchSize fall back to 1 and 100.
func NewWorker(consumers queue.ConsumerFactory, group string, sink Sink, d dedup.Store, s *scrub.Scrubber, e *enrich.Enricher, events securityevent.Recorder, workers, batchSize int) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Worker{
		consumers: consumers,
		group:     group,
		sink:      sink,
		dedup:     d,
		scrubber:  s,
		enricher:  e,
		events:    events,
		workers:   workers,
		batchSize: batchSize,
	}
}

// Run blocks until ctx is cancelled, processing all telemetry types.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, typ := range domain.Types {
		for i := 0; i < w.workers; i++ {
			wg.Add(1)
			go func(typ domain.TelemetryType) {
				defer wg.Done()
				w.runLoop(ctx, typ)
			}(typ)
		}
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) runLoop(ctx context.Context, typ domain.TelemetryType) {
	consumer, err := w.consumers.NewConsumer(w.group, typ)
	if err != nil {
		log.Printf("normalizer: open consumer for %s: %v", typ, err)
		return
	}
	defer consumer.Close()

	for {
		msgs, err := w.fetchBatch(ctx, consumer)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, queue.ErrClosed) {
				log.Printf("normalizer: fetch %s: %v", typ, err)
			}
			return
		}

		// Failures of individual events never hold up the batch; the
		// router dead-letters what it cannot store, and anything beyond
		// that is logged as loss.
		for _, msg := range msgs {
			w.handle(ctx, msg)
		}

		if err := consumer.Commit(ctx, msgs...); err != nil && ctx.Err() == nil {
			log.Printf("normalizer: commit %s: %v", typ, err)
		}
	}
}

// fetchBatch blocks for the first message, then drains what is immediately
// available up to the batch size.
func (w *Worker) fetchBatch(ctx context.Context, consumer queue.Consumer) ([]queue.Message, error) {
	first, err := consumer.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []queue.Message{first}

	for len(msgs) < w.batchSize {
		fctx, cancel := context.WithTimeout(ctx, batchFetchWait)
		msg, err := consumer.Fetch(fctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			// Process what we have; the outer loop reports the error on
			// its next fetch.
			break
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// handle normalizes and persists one message. Malformed or duplicate
// messages are dropped here and still committed by the caller.
func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	var env domain.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		log.Printf("normalizer: dropping malformed %s message at partition %d offset %d: %v",
			msg.Type, msg.Partition, msg.Offset, err)
		return
	}
	if err := env.Validate(); err != nil {
		log.Printf("normalizer: dropping invalid %s envelope for org %s: %v", env.Type, env.OrgID, err)
		return
	}

	if env.IdempotencyKey != "" {
		first, err := w.dedup.Mark(ctx, env.OrgID, env.Type, env.IdempotencyKey)
		if err != nil {
			// Dedup store down: at-least-once wins over exactly-once, the
			// storage layer's idempotent writes absorb the repeats.
			log.Printf("normalizer: dedup check failed for org %s, processing anyway: %v", env.OrgID, err)
		} else if !first {
			return
		}
	}

	res := w.scrubEnvelope(&env)
	w.enricher.Apply(&env, res.IPs, res.Redactions)

	if err := w.sink.Persist(ctx, &env); err != nil {
		log.Printf("normalizer: lost %s envelope for org %s: %v", env.Type, env.OrgID, err)
		if w.events != nil {
			w.events.DataLoss(ctx, env.OrgID, err.Error())
		}
	}
}

// scrubEnvelope scrubs every free-text surface of the body in place.
func (w *Worker) scrubEnvelope(env *domain.Envelope) *scrub.Result {
	res := &scrub.Result{}
	switch {
	case env.Log != nil:
		env.Log.Message = w.scrubber.Text(env.Log.Message, res)
		env.Log.Attributes = w.scrubber.Map(env.Log.Attributes, res)
	case env.Metric != nil:
		env.Metric.Labels = w.scrubber.Map(env.Metric.Labels, res)
	case env.Span != nil:
		env.Span.Name = w.scrubber.Text(env.Span.Name, res)
	case env.Rum != nil:
		env.Rum.PageURL = w.scrubber.Text(env.Rum.PageURL, res)
		env.Rum.Attributes = w.scrubber.Map(env.Rum.Attributes, res)
	}
	return res
}
