package httpapi

import (
	"context"

	"telemetry-ingest-plane/internal/credential"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// WithIdentity returns a context carrying the authenticated caller. Handlers
// read it via GetIdentity; the org it names is the only org scope any
// downstream code sees.
func WithIdentity(ctx context.Context, id *credential.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the authenticated identity and true if set; otherwise
// nil, false.
func GetIdentity(ctx context.Context) (*credential.Identity, bool) {
	v, ok := ctx.Value(identityKey).(*credential.Identity)
	return v, ok
}
