// Package fetchmetrics keeps in-process counters for query runs and batch
// fetches, exposed as a JSON snapshot on the metrics endpoint.
package fetchmetrics

import (
	"strings"
	"sync"
	"time"
)

type QueryMetrics struct {
	RunsTotal          int64 `json:"runs_total"`
	SuccessTotal       int64 `json:"success_total"`
	FailureTotal       int64 `json:"failure_total"`
	ItemsTotal         int64 `json:"items_total"`
	ExcludedTotal      int64 `json:"excluded_total"`
	TotalLatencyMillis int64 `json:"total_latency_millis"`
}

type FetchMetrics struct {
	PagesTotal       int64 `json:"pages_total"`
	PageRetriesTotal int64 `json:"page_retries_total"`
	PagesFailedTotal int64 `json:"pages_failed_total"`
	ItemsTotal       int64 `json:"items_total"`
}

type QuotaMetrics struct {
	Limit          int       `json:"limit"`
	Remaining      int       `json:"remaining"`
	ResetAt        time.Time `json:"reset_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ThrottleEvents int64     `json:"throttle_events"`
}

type Snapshot struct {
	Queries     map[string]QueryMetrics `json:"queries"`
	Fetch       FetchMetrics            `json:"fetch"`
	Quota       map[string]QuotaMetrics `json:"quota"`
	GeneratedAt time.Time               `json:"generated_at"`
}

type registry struct {
	mu      sync.RWMutex
	queries map[string]*QueryMetrics
	fetch   FetchMetrics
	quota   map[string]*QuotaMetrics
}

var globalRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{
		queries: make(map[string]*QueryMetrics),
		quota:   make(map[string]*QuotaMetrics),
	}
}

func ResetForTests() {
	globalRegistry = newRegistry()
}

func RecordQueryStarted(queryName string) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.queryMetricsLocked(queryName).RunsTotal++
}

func RecordQuerySucceeded(queryName string, items, excluded int, latency time.Duration) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	metrics := globalRegistry.queryMetricsLocked(queryName)
	metrics.SuccessTotal++
	metrics.ItemsTotal += int64(items)
	metrics.ExcludedTotal += int64(excluded)
	if latency > 0 {
		metrics.TotalLatencyMillis += latency.Milliseconds()
	}
}

func RecordQueryFailed(queryName string) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.queryMetricsLocked(queryName).FailureTotal++
}

func RecordPageFetched(items int) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.fetch.PagesTotal++
	globalRegistry.fetch.ItemsTotal += int64(items)
}

func RecordPageRetry() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.fetch.PageRetriesTotal++
}

func RecordPageFailed() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.fetch.PagesFailedTotal++
}

func RecordQuota(resource string, limit, remaining int, resetAt time.Time) {
	key := normalizeKey(resource)
	if key == "" {
		return
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	quotaMetrics := globalRegistry.quotaMetricsLocked(key)
	quotaMetrics.Limit = limit
	quotaMetrics.Remaining = remaining
	quotaMetrics.ResetAt = resetAt.UTC()
	quotaMetrics.UpdatedAt = time.Now().UTC()
}

func RecordThrottle(resource string) {
	key := normalizeKey(resource)
	if key == "" {
		return
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	quotaMetrics := globalRegistry.quotaMetricsLocked(key)
	quotaMetrics.ThrottleEvents++
	quotaMetrics.UpdatedAt = time.Now().UTC()
}

func SnapshotNow() Snapshot {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	snapshot := Snapshot{
		Queries:     make(map[string]QueryMetrics, len(globalRegistry.queries)),
		Fetch:       globalRegistry.fetch,
		Quota:       make(map[string]QuotaMetrics, len(globalRegistry.quota)),
		GeneratedAt: time.Now().UTC(),
	}

	for key, metrics := range globalRegistry.queries {
		snapshot.Queries[key] = *metrics
	}
	for key, metrics := range globalRegistry.quota {
		snapshot.Quota[key] = *metrics
	}

	return snapshot
}

func (r *registry) queryMetricsLocked(queryName string) *QueryMetrics {
	key := normalizeKey(queryName)
	if key == "" {
		key = "unknown"
	}

	metrics, ok := r.queries[key]
	if !ok {
		metrics = &QueryMetrics{}
		r.queries[key] = metrics
	}
	return metrics
}

func (r *registry) quotaMetricsLocked(key string) *QuotaMetrics {
	metrics, ok := r.quota[key]
	if !ok {
		metrics = &QuotaMetrics{}
		r.quota[key] = metrics
	}
	return metrics
}

func normalizeKey(raw string) string {
	return strings.TrimSpace(strings.ToLower(raw))
}
