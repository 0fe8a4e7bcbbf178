package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/domain"
	"github.com/opensource-finance/rfm/internal/rules"
	"github.com/opensource-finance/rfm/internal/summary"
	"github.com/opensource-finance/rfm/internal/worker"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	runner  worker.Runner
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{
		repo:    deps.Repository,
		cache:   deps.Cache,
		bus:     deps.Bus,
		engine:  deps.Engine,
		runner:  deps.Runner,
		version: version,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// RulesResponse is the response for GET /rules.
type RulesResponse struct {
	Quantiles int                  `json:"quantiles"`
	Rules     []domain.SegmentRule `json:"rules"`
	Coverage  []rules.RuleCoverage `json:"coverage"`
}

// CustomersResponse is the response for GET /runs/{id}/customers.
type CustomersResponse struct {
	RunID  string             `json:"runId"`
	Rows   []domain.ReportRow `json:"rows"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// SegmentsResponse is the response for GET /runs/{id}/segments.
type SegmentsResponse struct {
	RunID    string                  `json:"runId"`
	Segments []domain.SegmentSummary `json:"segments"`
	Counts   map[domain.Segment]int  `json:"counts"`
}

// Health reports the state of every configured collaborator.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "healthy"

	check := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports whether the server can answer report queries.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "rule engine not configured"})
		return
	}
	writeJSON(w, http.StatusOK, RulesResponse{
		Quantiles: h.engine.Quantiles(),
		Rules:     h.engine.Rules(),
		Coverage:  h.engine.Coverage(),
	})
}

// ListRuns handles GET /runs?limit=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}

	runs, err := h.repo.ListRuns(r.Context(), min(limit, maxPageSize))
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*domain.Report{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	report, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListCustomers handles GET /runs/{id}/customers?segment=&limit=&offset=.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit = min(limit, maxPageSize)

	runID := chi.URLParam(r, "id")
	rows, err := h.repo.ListRows(r.Context(), runID, domain.RowFilter{
		Segment: domain.Segment(r.URL.Query().Get("segment")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []domain.ReportRow{}
	}
	writeJSON(w, http.StatusOK, CustomersResponse{RunID: runID, Rows: rows, Limit: limit, Offset: offset})
}

// ListSegments handles GET /runs/{id}/segments.
func (h *Handler) ListSegments(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	report, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SegmentsResponse{
		RunID:    report.RunID,
		Segments: summary.Largest(report.Summary),
		Counts:   summary.Counts(report.Summary),
	})
}

// SubmitRun handles POST /runs. The request goes to a worker over the bus,
// or to the in-process runner when there is no bus.
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req domain.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return
	}

	var event domain.RunEvent
	switch {
	case h.bus != nil:
		payload, _ := json.Marshal(req)
		raw, err := h.bus.Request(r.Context(), domain.TopicRunRequested, payload)
		if err != nil {
			zap.L().Error("run request failed", zap.Error(err))
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "no worker answered the run request"})
			return
		}
		if err := json.Unmarshal(raw, &event); err != nil {
			writeError(w, eris.Wrap(err, "undecodable worker reply"))
			return
		}

	case h.runner != nil:
		result, err := h.runner.Execute(r.Context(), req)
		if err != nil {
			event = domain.RunEvent{Status: domain.RunStatusFailed, Error: err.Error(), Timestamp: time.Now().UTC()}
			break
		}
		event = domain.RunEvent{
			RunID:     result.Report.RunID,
			Status:    domain.RunStatusCompleted,
			Cached:    result.Cached,
			Stats:     result.Report.Stats,
			Summary:   result.Report.Summary,
			Timestamp: time.Now().UTC(),
		}

	default:
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "runs cannot be submitted: no bus or runner configured"})
		return
	}

	if event.Status != domain.RunStatusCompleted {
		writeJSON(w, http.StatusUnprocessableEntity, event)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "repository not configured"})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Wrapf(domain.ErrInvalidInput, "%s must be a non-negative integer", key)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
