package domain

import "time"

// APIKey is an ingest/query credential belonging to one organization. The raw
// secret is never stored; only its SHA-256 digest is kept for comparison.
type APIKey struct {
	KeyID        string     `json:"key_id"`
	OrgID        string     `json:"org_id"`
	SecretSHA256 string     `json:"secret_sha256"` // hex digest of the key secret
	Scopes       []string   `json:"scopes"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the key has been revoked as of now.
func (k *APIKey) Revoked(now time.Time) bool {
	return k.RevokedAt != nil && !k.RevokedAt.After(now)
}

// HasScope reports whether the key carries the given scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
