// Package credential verifies API keys and signed requests for the ingest and
// query surfaces. Verification fails closed: any missing header, unknown key,
// stale timestamp, or mismatched signature yields not-ok and the caller must
// not proceed.
package credential

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"telemetry-ingest-plane/internal/credential/repository"
	orgdomain "telemetry-ingest-plane/internal/organization/domain"
)

const (
	// keyPrefix starts every API key: tip_<keyID>_<secret>.
	keyPrefix = "tip"
	// signaturePrefix starts the x-signature header value.
	signaturePrefix = "sha256="

	// ScopeIngest allows POST /v1/* ingestion.
	ScopeIngest = "ingest"
	// ScopeQuery allows the search/query endpoints.
	ScopeQuery = "query"
)

// Identity is the result of successful verification.
type Identity struct {
	OrgID  string
	KeyID  string
	Scopes []string
}

// HasScope reports whether the identity carries the given scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Request carries the credential material extracted from one HTTP request.
type Request struct {
	// APIKey is the full bearer key (tip_<keyID>_<secret>).
	APIKey string
	// Signature is the x-signature header (sha256=<hex>), empty for key-only auth.
	Signature string
	// Timestamp is the x-timestamp header; required whenever Signature is set.
	Timestamp string
	// Body is the exact request body bytes the signature was computed over.
	Body []byte
}

// OrgSource resolves an organization; satisfied by the organization repository.
type OrgSource interface {
	GetOrganizationByID(ctx context.Context, id string) (*orgdomain.Org, error)
}

// Verifier validates API keys and request signatures against stored credentials.
type Verifier struct {
	keys         repository.Repository
	orgs         OrgSource
	replayWindow time.Duration
	nowF         func() time.Time
}

// NewVerifier returns a Verifier using keys and orgs for lookups. replayWindow
// bounds the allowed skew of the declared timestamp on signed requests; zero
// or negative means 5 minutes.
func NewVerifier(keys repository.Repository, orgs OrgSource, replayWindow time.Duration) *Verifier {
	if replayWindow <= 0 {
		replayWindow = 5 * time.Minute
	}
	return &Verifier{keys: keys, orgs: orgs, replayWindow: replayWindow, nowF: time.Now}
}

// Verify authenticates the request. Key-only requests pass on a valid,
// unrevoked key whose org is active. Signed requests additionally require a
// declared timestamp within the replay window and an HMAC-SHA256 of the exact
// body bytes under the org's signing secret. Returns (nil, false) on any
// failure; the reason is deliberately not surfaced to the caller.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Identity, bool) {
	keyID, secret, ok := splitKey(req.APIKey)
	if !ok {
		return nil, false
	}

	key, err := v.keys.GetAPIKeyByID(ctx, keyID)
	if err != nil || key == nil {
		return nil, false
	}
	now := v.nowF().UTC()
	if key.Revoked(now) {
		return nil, false
	}

	digest := sha256.Sum256([]byte(secret))
	presented := hex.EncodeToString(digest[:])
	if subtle.ConstantTimeCompare([]byte(presented), []byte(key.SecretSHA256)) != 1 {
		return nil, false
	}

	org, err := v.orgs.GetOrganizationByID(ctx, key.OrgID)
	if err != nil || org == nil || org.Status != orgdomain.OrgStatusActive {
		return nil, false
	}

	if req.Signature != "" || req.Timestamp != "" {
		if !v.verifySignature(org.SigningSecret, req, now) {
			return nil, false
		}
	}

	return &Identity{OrgID: org.ID, KeyID: key.KeyID, Scopes: key.Scopes}, true
}

// verifySignature checks the replay window first (independent of signature
// validity, so a stale timestamp is rejected even when the signature matches)
// and then recomputes the keyed hash over the exact body bytes.
func (v *Verifier) verifySignature(secret string, req Request, now time.Time) bool {
	if secret == "" || req.Signature == "" || req.Timestamp == "" {
		return false
	}
	ts, ok := parseTimestamp(req.Timestamp)
	if !ok {
		return false
	}
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > v.replayWindow {
		return false
	}

	declared := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(req.Signature)), signaturePrefix)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(declared), []byte(expected))
}

// parseTimestamp accepts RFC3339 or unix seconds.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0), true
	}
	return time.Time{}, false
}

// splitKey splits tip_<keyID>_<secret> into its parts.
func splitKey(key string) (keyID, secret string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(key), "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Sign computes the x-signature header value for body under secret. Used by
// the seed tooling and tests; clients implement the same scheme.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// HashSecret returns the hex SHA-256 digest stored for an API key secret.
func HashSecret(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(digest[:])
}

// GenerateKey mints a new API key. Returns the key ID, the full bearer string
// handed to the client, and the digest to store. The raw secret is not returned
// separately; it exists only inside the bearer string.
func GenerateKey() (keyID, bearer, secretHash string, err error) {
	idBytes := make([]byte, 8)
	secretBytes := make([]byte, 24)
	if _, err = rand.Read(idBytes); err != nil {
		return "", "", "", err
	}
	if _, err = rand.Read(secretBytes); err != nil {
		return "", "", "", err
	}
	keyID = hex.EncodeToString(idBytes)
	secret := hex.EncodeToString(secretBytes)
	return keyID, keyPrefix + "_" + keyID + "_" + secret, HashSecret(secret), nil
}
