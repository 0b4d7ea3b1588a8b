// Package handler implements the ingestion gateway: one POST endpoint per
// telemetry type, sharing a single pre-pipeline of parse, schema validation,
// admission, idempotency bookkeeping, and enqueue.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"telemetry-ingest-plane/internal/admission"
	"telemetry-ingest-plane/internal/dedup"
	"telemetry-ingest-plane/internal/event/domain"
	"telemetry-ingest-plane/internal/queue"
	"telemetry-ingest-plane/internal/securityevent"
	"telemetry-ingest-plane/internal/server/httpapi"
)

const maxBatchItems = 1000

// Handler serves the four ingestion endpoints. Authentication happens in
// middleware before any of its methods run.
type Handler struct {
	publisher      queue.Publisher
	admission      *admission.Controller
	dedup          dedup.Store
	events         securityevent.Recorder
	enqueueTimeout time.Duration
	nowF           func() time.Time
}

// New wires the gateway. events may be nil.
func New(publisher queue.Publisher, adm *admission.Controller, d dedup.Store, events securityevent.Recorder, enqueueTimeout time.Duration) *Handler {
	if enqueueTimeout <= 0 {
		enqueueTimeout = 5 * time.Second
	}
	return &Handler{
		publisher:      publisher,
		admission:      adm,
		dedup:          d,
		events:         events,
		enqueueTimeout: enqueueTimeout,
		nowF:           time.Now,
	}
}

// Logs handles POST /v1/logs.
func (h *Handler) Logs() http.HandlerFunc { return h.ingest(domain.TypeLog) }

// Metrics handles POST /v1/metrics.
func (h *Handler) Metrics() http.HandlerFunc { return h.ingest(domain.TypeMetric) }

// Traces handles POST /v1/traces.
func (h *Handler) Traces() http.HandlerFunc { return h.ingest(domain.TypeTrace) }

// Rum handles POST /v1/rum.
func (h *Handler) Rum() http.HandlerFunc { return h.ingest(domain.TypeRum) }

func (h *Handler) ingest(typ domain.TelemetryType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := httpapi.GetIdentity(r.Context())
		if !ok {
			httpapi.WriteError(w, http.StatusInternalServerError, "identity missing")
			return
		}
		source := sourceAddr(r)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		items, err := decodeItems(body)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(items) > maxBatchItems {
			httpapi.WriteError(w, http.StatusBadRequest, "batch too large")
			return
		}

		// Schema validation happens for the whole batch before anything
		// is enqueued: a malformed item rejects the request without
		// side effects.
		receivedAt := h.nowF().UTC()
		envelopes := make([]*domain.Envelope, 0, len(items))
		for _, item := range items {
			env, err := toEnvelope(typ, item, identity.OrgID, source, receivedAt)
			if err != nil {
				httpapi.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			envelopes = append(envelopes, env)
		}

		allowed, retryAfter := h.admission.Admit(r.Context(), identity.OrgID, source)
		if !allowed {
			if h.events != nil {
				h.events.RateLimited(r.Context(), identity.OrgID, source)
			}
			httpapi.WriteRateLimited(w, retryAfter)
			return
		}

		// Past admission the request is committed: enqueueing continues
		// even if the client disconnects.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.enqueueTimeout)
		defer cancel()

		accepted, duplicates := 0, 0
		for _, env := range envelopes {
			if seen, err := h.dedup.Seen(ctx, env.OrgID, env.Type, env.IdempotencyKey); err == nil && seen {
				// Already processed inside the window; acknowledge and
				// discard without re-queuing.
				duplicates++
				continue
			}
			payload, err := json.Marshal(env)
			if err != nil {
				httpapi.WriteError(w, http.StatusInternalServerError, "encode envelope")
				return
			}
			if err := h.publisher.Publish(ctx, typ, env.OrgID, payload); err != nil {
				log.Printf("ingest: enqueue %s for org %s failed: %v", typ, env.OrgID, err)
				httpapi.WriteError(w, http.StatusServiceUnavailable, "queue unavailable, retry later")
				return
			}
			accepted++
		}

		httpapi.WriteJSON(w, http.StatusAccepted, map[string]int{
			"accepted":   accepted,
			"duplicates": duplicates,
		})
	}
}

// deriveIdempotencyKey fills in a key for clients that did not supply one,
// so byte-identical resubmissions still dedup.
func deriveIdempotencyKey(orgID string, typ domain.TelemetryType, raw []byte) string {
	digest := sha256.New()
	digest.Write([]byte(orgID))
	digest.Write([]byte{'|'})
	digest.Write([]byte(typ))
	digest.Write([]byte{'|'})
	digest.Write(raw)
	return hex.EncodeToString(digest.Sum(nil))
}

func sourceAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
