package fetchmetrics

import (
	"testing"
	"time"
)

func TestSnapshotCapturesQueryFetchAndQuotaMetrics(t *testing.T) {
	ResetForTests()

	RecordQueryStarted("stale_bugs")
	RecordQueryFailed("stale_bugs")
	RecordQueryStarted("stale_bugs")
	RecordQuerySucceeded("stale_bugs", 42, 3, 180*time.Millisecond)

	RecordPageFetched(200)
	RecordPageFetched(50)
	RecordPageRetry()
	RecordPageFailed()

	resetAt := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	RecordQuota("wit", 200, 120, resetAt)
	RecordThrottle("wit")

	snapshot := SnapshotNow()

	queryMetrics, ok := snapshot.Queries["stale_bugs"]
	if !ok {
		t.Fatalf("expected stale_bugs metrics")
	}
	if queryMetrics.RunsTotal != 2 {
		t.Fatalf("expected runs_total=2, got %d", queryMetrics.RunsTotal)
	}
	if queryMetrics.SuccessTotal != 1 || queryMetrics.FailureTotal != 1 {
		t.Fatalf("unexpected success/failure: %+v", queryMetrics)
	}
	if queryMetrics.ItemsTotal != 42 || queryMetrics.ExcludedTotal != 3 {
		t.Fatalf("unexpected item counts: %+v", queryMetrics)
	}
	if queryMetrics.TotalLatencyMillis != 180 {
		t.Fatalf("expected latency=180ms, got %d", queryMetrics.TotalLatencyMillis)
	}

	if snapshot.Fetch.PagesTotal != 2 || snapshot.Fetch.ItemsTotal != 250 {
		t.Fatalf("unexpected fetch metrics: %+v", snapshot.Fetch)
	}
	if snapshot.Fetch.PageRetriesTotal != 1 || snapshot.Fetch.PagesFailedTotal != 1 {
		t.Fatalf("unexpected retry/failure metrics: %+v", snapshot.Fetch)
	}

	quotaMetrics, ok := snapshot.Quota["wit"]
	if !ok {
		t.Fatalf("expected wit quota metrics")
	}
	if quotaMetrics.Limit != 200 || quotaMetrics.Remaining != 120 {
		t.Fatalf("unexpected quota metrics: %+v", quotaMetrics)
	}
	if !quotaMetrics.ResetAt.Equal(resetAt) {
		t.Fatalf("expected reset_at=%s, got %s", resetAt, quotaMetrics.ResetAt)
	}
	if quotaMetrics.ThrottleEvents != 1 {
		t.Fatalf("expected throttle_events=1, got %d", quotaMetrics.ThrottleEvents)
	}
}

func TestNormalizeKeyFoldsCaseAndSpace(t *testing.T) {
	ResetForTests()

	RecordQueryStarted(" Priority_Counts ")
	snapshot := SnapshotNow()
	if _, ok := snapshot.Queries["priority_counts"]; !ok {
		t.Fatalf("expected normalized key, got %v", snapshot.Queries)
	}
}
