// Package securityevent records operationally significant pipeline events:
// authentication failures (tracked per source as an attack signal), rate-limit
// trips, detected data loss, and dead-lettered writes. Recording is
// best-effort and never affects the hot path.
package securityevent

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"telemetry-ingest-plane/internal/securityevent/domain"
	secrepo "telemetry-ingest-plane/internal/securityevent/repository"
)

// SentinelOrgID is the org_id used for events that cannot be attributed to an
// org, such as auth failures for unknown keys.
const SentinelOrgID = "_system"

// Auth failures from one source inside burstWindow beyond burstThreshold are
// escalated as a probable brute-force or key-scanning attempt.
const (
	burstThreshold = 10
	burstWindow    = time.Minute
)

// Recorder is the write side used by handlers and the storage router.
type Recorder interface {
	AuthFailure(ctx context.Context, orgID, sourceAddr, detail string)
	RateLimited(ctx context.Context, orgID, sourceAddr string)
	DataLoss(ctx context.Context, orgID, detail string)
	DeadLetter(ctx context.Context, orgID, detail, metadata string)
}

// Logger implements Recorder against the security event repository.
type Logger struct {
	repo secrepo.Repository
	nowF func() time.Time

	mu     sync.Mutex
	bursts map[string]*burst // source addr -> auth failure burst state
}

type burst struct {
	windowStart time.Time
	count       int
	escalated   bool
}

// NewLogger returns a Logger persisting to repo. repo may be nil; events are
// then only written to the process log.
func NewLogger(repo secrepo.Repository) *Logger {
	return &Logger{repo: repo, nowF: time.Now, bursts: make(map[string]*burst)}
}

// AuthFailure records one rejected credential or signature. Repeated failures
// from the same source inside a short window are escalated once per window.
func (l *Logger) AuthFailure(ctx context.Context, orgID, sourceAddr, detail string) {
	if l.noteBurst(sourceAddr) {
		log.Printf("securityevent: %d auth failures from %s within %s, possible credential scanning",
			burstThreshold, sourceAddr, burstWindow)
	}
	l.record(ctx, orgID, domain.KindAuthFailure, sourceAddr, detail, "")
}

// RateLimited records a 429 rejection for the org.
func (l *Logger) RateLimited(ctx context.Context, orgID, sourceAddr string) {
	l.record(ctx, orgID, domain.KindRateLimited, sourceAddr, "rate limit exceeded", "")
}

// DataLoss records detected loss of queued events (eviction before consumption).
func (l *Logger) DataLoss(ctx context.Context, orgID, detail string) {
	l.record(ctx, orgID, domain.KindDataLoss, "", detail, "")
}

// DeadLetter records an envelope diverted to the dead-letter store. metadata
// carries identifying fields (type, idempotency key).
func (l *Logger) DeadLetter(ctx context.Context, orgID, detail, metadata string) {
	l.record(ctx, orgID, domain.KindDeadLetter, "", detail, metadata)
}

// noteBurst reports true exactly when sourceAddr crosses the burst threshold
// inside the current window.
func (l *Logger) noteBurst(sourceAddr string) bool {
	if sourceAddr == "" {
		return false
	}
	now := l.nowF()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bursts[sourceAddr]
	if !ok || now.Sub(b.windowStart) > burstWindow {
		b = &burst{windowStart: now}
		l.bursts[sourceAddr] = b
	}
	b.count++
	if b.count >= burstThreshold && !b.escalated {
		b.escalated = true
		return true
	}
	if len(l.bursts) > 10000 {
		for addr, st := range l.bursts {
			if now.Sub(st.windowStart) > burstWindow {
				delete(l.bursts, addr)
			}
		}
	}
	return false
}

// record writes one event. Best-effort: errors are logged and not returned.
func (l *Logger) record(ctx context.Context, orgID, kind, sourceAddr, detail, metadata string) {
	if l.repo == nil {
		return
	}
	if orgID == "" {
		orgID = SentinelOrgID
	}
	e := &domain.SecurityEvent{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		Kind:       kind,
		SourceAddr: sourceAddr,
		Detail:     detail,
		Metadata:   metadata,
		CreatedAt:  l.nowF().UTC(),
	}
	if err := l.repo.Create(ctx, e); err != nil {
		log.Printf("securityevent: failed to record %s for org %s: %v", kind, orgID, err)
	}
}
