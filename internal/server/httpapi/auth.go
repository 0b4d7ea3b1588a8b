package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"telemetry-ingest-plane/internal/credential"
	"telemetry-ingest-plane/internal/securityevent"
)

// Request headers used by the authentication scheme.
const (
	HeaderAPIKey    = "x-api-key"
	HeaderSignature = "x-signature"
	HeaderTimestamp = "x-timestamp"
)

// Auth returns middleware that authenticates every request with the verifier
// and requires the given scope. The body is read here so the signature can be
// checked over the exact bytes, then restored for the handler. Failures are
// recorded as security events keyed by source address.
func Auth(verifier *credential.Verifier, events securityevent.Recorder, maxBody int64, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source := sourceAddr(r)

			body, err := readBody(r, maxBody)
			if err != nil {
				WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			req := credential.Request{
				APIKey:    apiKey(r),
				Signature: r.Header.Get(HeaderSignature),
				Timestamp: r.Header.Get(HeaderTimestamp),
				Body:      body,
			}
			identity, ok := verifier.Verify(r.Context(), req)
			if !ok {
				if events != nil {
					events.AuthFailure(r.Context(), "", source, "invalid key or signature")
				}
				WriteError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			if !identity.HasScope(scope) {
				if events != nil {
					events.AuthFailure(r.Context(), identity.OrgID, source, "missing scope "+scope)
				}
				WriteError(w, http.StatusForbidden, "missing required scope")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func apiKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return key
		}
	}
	return r.Header.Get(HeaderAPIKey)
}

func readBody(r *http.Request, maxBody int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	if maxBody <= 0 {
		return io.ReadAll(r.Body)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

var errBodyTooLarge = errors.New("httpapi: body exceeds limit")

// sourceAddr returns the client host without the ephemeral port.
func sourceAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
