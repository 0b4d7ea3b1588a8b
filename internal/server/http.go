// Package server assembles the HTTP surface: the ingestion gateway under
// /v1/<type>, the read API, and unauthenticated health probes.
package server

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"telemetry-ingest-plane/internal/credential"
	healthhandler "telemetry-ingest-plane/internal/health/handler"
	ingesthandler "telemetry-ingest-plane/internal/ingest/handler"
	queryhandler "telemetry-ingest-plane/internal/query/handler"
	"telemetry-ingest-plane/internal/securityevent"
	"telemetry-ingest-plane/internal/server/httpapi"
)

// Deps holds the handlers and cross-cutting dependencies for route assembly.
type Deps struct {
	Ingest   *ingesthandler.Handler
	Query    *queryhandler.Handler
	Health   *healthhandler.Handler
	Verifier *credential.Verifier
	// Events records auth failures and rate-limit escalations. May be nil.
	Events securityevent.Recorder
	// MaxBodyBytes caps request bodies read by the auth middleware.
	MaxBodyBytes int64
}

// Routes builds the full route table. Write endpoints require the ingest
// scope, read endpoints the query scope; health probes are unauthenticated.
func Routes(deps Deps) http.Handler {
	mux := http.NewServeMux()

	ingestAuth := httpapi.Auth(deps.Verifier, deps.Events, deps.MaxBodyBytes, credential.ScopeIngest)
	mux.Handle("POST /v1/logs", ingestAuth(deps.Ingest.Logs()))
	mux.Handle("POST /v1/metrics", ingestAuth(deps.Ingest.Metrics()))
	mux.Handle("POST /v1/traces", ingestAuth(deps.Ingest.Traces()))
	mux.Handle("POST /v1/rum", ingestAuth(deps.Ingest.Rum()))

	queryAuth := httpapi.Auth(deps.Verifier, deps.Events, deps.MaxBodyBytes, credential.ScopeQuery)
	mux.Handle("POST /logs/search", queryAuth(deps.Query.SearchLogs()))
	mux.Handle("POST /metrics/query", queryAuth(deps.Query.QueryMetrics()))
	mux.Handle("POST /traces/search", queryAuth(deps.Query.SearchTraces()))
	mux.Handle("GET /traces/{id}", queryAuth(deps.Query.GetTrace()))
	mux.Handle("POST /rum/search", queryAuth(deps.Query.SearchRum()))

	mux.Handle("GET /health/live", deps.Health.Live())
	mux.Handle("GET /health/ready", deps.Health.Ready())

	return otelhttp.NewHandler(mux, "telemetry-ingest-plane")
}

// NewHTTPServer returns a configured *http.Server for the route table.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
