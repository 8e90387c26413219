// Package api serves the HTTP surface: health, collected metric reports,
// client metrics, and the websocket endpoint for run events.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/beaconhq/boardpulse/internal/fetchmetrics"
	"github.com/beaconhq/boardpulse/internal/ws"
)

var startTime = time.Now()

type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// RouterDeps carries the wired dependencies for the HTTP surface.
type RouterDeps struct {
	Hub       *ws.Hub
	Reports   ReportReader
	Collector OnDemandCollector
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/health", handleHealth)
	r.Get("/", handleRoot)
	r.Get("/api/metrics", handleClientMetrics)

	if deps.Hub != nil {
		r.Handle("/ws", &ws.Handler{Hub: deps.Hub})
	}

	reportsHandler := &ReportsHandler{Store: deps.Reports, Collector: deps.Collector}
	r.Get("/api/projects/{project}/reports/latest", reportsHandler.Latest)
	r.Get("/api/projects/{project}/runs", reportsHandler.ListRuns)
	r.Post("/api/projects/{project}/collect", reportsHandler.CollectNow)

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Version:   getVersion(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":    "BoardPulse",
		"tagline": "Engineering health metrics from your work item tracker",
		"health":  "/health",
	})
}

// handleClientMetrics exposes tracker client counters for diagnostics.
func handleClientMetrics(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(fetchmetrics.SnapshotNow())
}

func getVersion() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
