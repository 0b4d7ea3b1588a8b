package domain

import "time"

// Event kinds recorded by the pipeline.
const (
	KindAuthFailure = "auth_failure"
	KindRateLimited = "rate_limited"
	KindDataLoss    = "data_loss"
	KindDeadLetter  = "dead_letter"
)

// SecurityEvent represents one operationally significant event: a rejected
// credential, a rate-limit trip, detected data loss, or a dead-lettered write.
type SecurityEvent struct {
	ID         string
	OrgID      string
	Kind       string
	SourceAddr string
	Detail     string
	Metadata   string
	CreatedAt  time.Time
}
