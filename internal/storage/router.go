// Package storage routes normalized envelopes to their type-specific store:
// metrics to the Redis time-series store, everything else to the Postgres
// analytical store. Transient write failures are retried with exponential
// backoff behind a per-backend circuit breaker; envelopes that still cannot
// be written are diverted to the dead-letter store instead of being dropped.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"telemetry-ingest-plane/internal/event/domain"
	"telemetry-ingest-plane/internal/securityevent"
	"telemetry-ingest-plane/internal/storage/analytical"
	"telemetry-ingest-plane/internal/storage/deadletter"
	"telemetry-ingest-plane/internal/storage/timeseries"
)

const maxWriteRetries = 3

// Router persists envelopes. Implements the normalizer's Sink.
type Router struct {
	analytical analytical.Repository
	series     timeseries.Repository
	dead       deadletter.Repository
	events     securityevent.Recorder

	writeTimeout  time.Duration
	breakers      map[string]*gobreaker.CircuitBreaker
	nowF          func() time.Time
	retryInterval time.Duration // shortened in tests
}

// NewRouter wires the router. events may be nil; dead-letter diversions are
// then only written to the process log.
func NewRouter(a analytical.Repository, s timeseries.Repository, d deadletter.Repository, events securityevent.Recorder, writeTimeout time.Duration) *Router {
	breakers := make(map[string]*gobreaker.CircuitBreaker, 2)
	for _, backend := range []string{"analytical", "timeseries"} {
		breakers[backend] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    backend,
			Timeout: 15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("storage: %s breaker %s -> %s", name, from, to)
			},
		})
	}
	return &Router{
		analytical:   a,
		series:       s,
		dead:         d,
		events:       events,
		writeTimeout: writeTimeout,
		breakers:     breakers,
		nowF:         time.Now,
	}
}

// Persist writes env to its store. On persistent store failure the envelope
// is dead-lettered; an error is returned only when the dead-letter write
// fails too, in which case the caller decides whether to drop or retry.
func (r *Router) Persist(ctx context.Context, env *domain.Envelope) error {
	var (
		backend string
		write   func(context.Context) error
	)
	switch env.Type {
	case domain.TypeLog:
		backend = "analytical"
		write = func(ctx context.Context) error { return r.analytical.SaveLog(ctx, env) }
	case domain.TypeMetric:
		backend = "timeseries"
		write = func(ctx context.Context) error { return r.series.SavePoint(ctx, env) }
	case domain.TypeTrace:
		backend = "analytical"
		write = func(ctx context.Context) error { return r.analytical.SaveSpan(ctx, env) }
	case domain.TypeRum:
		backend = "analytical"
		write = func(ctx context.Context) error { return r.analytical.SaveRum(ctx, env) }
	default:
		return fmt.Errorf("storage: no store for telemetry type %q", env.Type)
	}

	err := r.writeWithRetry(ctx, backend, write)
	if err == nil {
		return nil
	}
	return r.divert(ctx, env, err)
}

func (r *Router) writeWithRetry(ctx context.Context, backend string, write func(context.Context) error) error {
	breaker := r.breakers[backend]
	attempt := func() error {
		_, err := breaker.Execute(func() (any, error) {
			wctx := ctx
			if r.writeTimeout > 0 {
				var cancel context.CancelFunc
				wctx, cancel = context.WithTimeout(ctx, r.writeTimeout)
				defer cancel()
			}
			return nil, write(wctx)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// The breaker is shedding load; retrying inside this call
			// cannot help.
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	if r.retryInterval > 0 {
		bo.InitialInterval = r.retryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxWriteRetries), ctx)
	return backoff.Retry(attempt, policy)
}

// divert writes env to the dead-letter store so nothing is silently lost.
func (r *Router) divert(ctx context.Context, env *domain.Envelope, cause error) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("storage: marshal for dead letter: %w", err)
	}
	entry := &deadletter.Entry{
		ID:             uuid.New().String(),
		OrgID:          env.OrgID,
		Type:           env.Type,
		IdempotencyKey: env.IdempotencyKey,
		Payload:        payload,
		Reason:         cause.Error(),
		CreatedAt:      r.nowF().UTC(),
	}
	if err := r.dead.Save(ctx, entry); err != nil {
		return fmt.Errorf("storage: dead letter write failed after store failure (%v): %w", cause, err)
	}
	log.Printf("storage: dead-lettered %s envelope for org %s: %v", env.Type, env.OrgID, cause)
	if r.events != nil {
		r.events.DeadLetter(ctx, env.OrgID, cause.Error(),
			fmt.Sprintf("type=%s idempotency_key=%s", env.Type, env.IdempotencyKey))
	}
	return nil
}
