package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/beaconhq/boardpulse/internal/collect"
	"github.com/beaconhq/boardpulse/internal/store"
	"github.com/beaconhq/boardpulse/internal/wiql"
)

// ReportReader reads persisted collection runs.
type ReportReader interface {
	LatestRun(ctx context.Context, project string) (*store.Run, []store.RunQueryResult, error)
	ListRuns(ctx context.Context, project string, limit int) ([]store.Run, error)
}

// OnDemandCollector runs a collection for one project outside the schedule.
type OnDemandCollector interface {
	CollectProject(ctx context.Context, project string) (*collect.CollectionReport, error)
}

// ReportsHandler serves collected metric reports.
type ReportsHandler struct {
	Store     ReportReader
	Collector OnDemandCollector
}

type latestRunResponse struct {
	Run     *store.Run             `json:"run"`
	Results []store.RunQueryResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// requestProject extracts and validates the project path parameter.
func requestProject(w http.ResponseWriter, r *http.Request) (string, bool) {
	project := strings.TrimSpace(chi.URLParam(r, "project"))
	if _, err := wiql.ValidateProject(project); err != nil {
		writeError(w, http.StatusBadRequest, "invalid project name")
		return "", false
	}
	return project, true
}

// Latest returns the most recent run for a project with per-query results.
func (h *ReportsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	project, ok := requestProject(w, r)
	if !ok {
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "report storage is not configured")
		return
	}

	run, results, err := h.Store.LatestRun(r.Context(), project)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "no collection runs for project")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}

	_ = json.NewEncoder(w).Encode(latestRunResponse{Run: run, Results: results})
}

// ListRuns returns recent runs for a project, newest first.
func (h *ReportsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	project, ok := requestProject(w, r)
	if !ok {
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "report storage is not configured")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := h.Store.ListRuns(r.Context(), project, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{"runs": runs})
}

// CollectNow runs a collection for the project immediately and returns the
// fresh report.
func (h *ReportsHandler) CollectNow(w http.ResponseWriter, r *http.Request) {
	project, ok := requestProject(w, r)
	if !ok {
		return
	}
	if h.Collector == nil {
		writeError(w, http.StatusServiceUnavailable, "collection is not configured")
		return
	}

	report, err := h.Collector.CollectProject(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusBadGateway, "collection failed: "+err.Error())
		return
	}

	_ = json.NewEncoder(w).Encode(report)
}
