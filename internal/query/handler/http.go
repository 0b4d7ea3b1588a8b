// Package handler exposes the read API over HTTP. Every endpoint resolves the
// org from the authenticated identity; there is no way to name another org in
// a request.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"telemetry-ingest-plane/internal/event/domain"
	"telemetry-ingest-plane/internal/query"
	"telemetry-ingest-plane/internal/server/httpapi"
	"telemetry-ingest-plane/internal/storage/analytical"
)

const maxResultLimit = 1000

// Handler serves the query endpoints over the engine.
type Handler struct {
	engine *query.Engine
}

// New returns a query Handler.
func New(engine *query.Engine) *Handler {
	return &Handler{engine: engine}
}

type timeRangeDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type logSearchDTO struct {
	Query   string `json:"query"`
	Filters struct {
		Level   string `json:"level"`
		Service string `json:"service"`
		TraceID string `json:"trace_id"`
	} `json:"filters"`
	TimeRange timeRangeDTO `json:"timeRange"`
	Limit     int32        `json:"limit"`
	Offset    int32        `json:"offset"`
}

// SearchLogs handles POST /logs/search.
func (h *Handler) SearchLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := httpapi.GetIdentity(r.Context())
		if !ok {
			httpapi.WriteError(w, http.StatusInternalServerError, "identity missing")
			return
		}
		var req logSearchDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		start, end, err := parseRange(req.TimeRange)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit, err := capLimit(req.Limit)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		records := h.engine.SearchLogs(r.Context(), identity.OrgID, analytical.LogFilter{
			Service: req.Filters.Service,
			Level:   domain.Level(req.Filters.Level),
			Query:   req.Query,
			TraceID: req.Filters.TraceID,
			Start:   start,
			End:     end,
			Limit:   limit,
			Offset:  req.Offset,
		})
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"logs": records})
	}
}

type metricQueryDTO struct {
	Query string `json:"query"`
	From  string `json:"from"`
	To    string `json:"to"`
	// Step is the bucket width in seconds; 0 means the 1-minute default.
	Step int64 `json:"step"`
}

// QueryMetrics handles POST /metrics/query.
func (h *Handler) QueryMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := httpapi.GetIdentity(r.Context())
		if !ok {
			httpapi.WriteError(w, http.StatusInternalServerError, "identity missing")
			return
		}
		var req metricQueryDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		from, to, err := parseRange(timeRangeDTO{From: req.From, To: req.To})
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if from.IsZero() || to.IsZero() {
			httpapi.WriteError(w, http.StatusBadRequest, "from and to are required")
			return
		}
		result, err := h.engine.QueryMetrics(r.Context(), identity.OrgID, req.Query, from, to, time.Duration(req.Step)*time.Second)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, result)
	}
}

type traceSearchDTO struct {
	Service       string       `json:"service"`
	Name          string       `json:"name"`
	Status        string       `json:"status"`
	MinDurationMs float64      `json:"min_duration_ms"`
	TimeRange     timeRangeDTO `json:"timeRange"`
	Limit         int32        `json:"limit"`
	Offset        int32        `json:"offset"`
}

// SearchTraces handles POST /traces/search.
func (h *Handler) SearchTraces() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := httpapi.GetIdentity(r.Context())
		if !ok {
			httpapi.WriteError(w, http.StatusInternalServerError, "identity missing")
			return
		}
		var req traceSearchDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		start, end, err := parseRange(req.TimeRange)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit, err := capLimit(req.Limit)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		spans := h.engine.SearchTraces(r.Context(), identity.OrgID, analytical.TraceFilter{
			Service:       req.Service,
			Name:          req.Name,
			Status:        domain.SpanStatus(req.Status),
			MinDurationMs: req.MinDurationMs,
			Start:         start,
			End:           end,
			Limit:         limit,
			Offset:        req.Offset,
		})
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"traces": spans})
	}
}

// GetTrace handles GET /traces/{id}.
func (h *Handler) GetTrace() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := httpapi.GetIdentity(r.Context())
		if !ok {
			httpapi.WriteError(w, http.StatusInternalServerError, "identity missing")
			return
		}
		traceID := r.PathValue("id")
		if traceID == "" {
			httpapi.WriteError(w, http.StatusBadRequest, "trace id required")
			return
		}
		roots := h.engine.GetTrace(r.Context(), identity.OrgID, traceID)
		if len(roots) == 0 {
			// Unknown trace and other-tenant trace are indistinguishable.
			httpapi.WriteError(w, http.StatusNotFound, "trace not found")
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"trace_id": traceID, "spans": roots})
	}
}

type rumSearchDTO struct {
	EventType string       `json:"event_type"`
	PageURL   string       `json:"page_url"`
	SessionID string       `json:"session_id"`
	TimeRange timeRangeDTO `json:"timeRange"`
	Limit     int32        `json:"limit"`
	Offset    int32        `json:"offset"`
}

// SearchRum handles POST /rum/search.
func (h *Handler) SearchRum() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := httpapi.GetIdentity(r.Context())
		if !ok {
			httpapi.WriteError(w, http.StatusInternalServerError, "identity missing")
			return
		}
		var req rumSearchDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		start, end, err := parseRange(req.TimeRange)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit, err := capLimit(req.Limit)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		events := h.engine.SearchRum(r.Context(), identity.OrgID, analytical.RumFilter{
			EventType: domain.RumEventType(req.EventType),
			PageURL:   req.PageURL,
			SessionID: req.SessionID,
			Start:     start,
			End:       end,
			Limit:     limit,
			Offset:    req.Offset,
		})
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

func parseRange(tr timeRangeDTO) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if tr.From != "" {
		if start, err = time.Parse(time.RFC3339Nano, tr.From); err != nil {
			return time.Time{}, time.Time{}, errBadTime("from")
		}
	}
	if tr.To != "" {
		if end, err = time.Parse(time.RFC3339Nano, tr.To); err != nil {
			return time.Time{}, time.Time{}, errBadTime("to")
		}
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return time.Time{}, time.Time{}, errEmptyRange
	}
	return start.UTC(), end.UTC(), nil
}

func capLimit(limit int32) (int32, error) {
	if limit < 0 {
		return 0, errNegativeLimit
	}
	if limit > maxResultLimit {
		return maxResultLimit, nil
	}
	return limit, nil
}

type queryError string

func (e queryError) Error() string { return string(e) }

func errBadTime(field string) error {
	return queryError(field + " must be RFC 3339")
}

const (
	errEmptyRange    = queryError("time range is empty")
	errNegativeLimit = queryError("limit must not be negative")
)
