package collect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beaconhq/boardpulse/internal/fetchmetrics"
	"github.com/beaconhq/boardpulse/internal/tracker"
)

// fakeBulkClient serves pages from memory and fails selected pages a fixed
// number of times. Pages are keyed by their first id.
type fakeBulkClient struct {
	calls        [][]int
	failuresLeft map[int]int
	failWith     error
}

func (c *fakeBulkClient) FetchWorkItemsBatch(ctx context.Context, ids []int, fields []string) ([]tracker.WorkItem, error) {
	copied := append([]int(nil), ids...)
	c.calls = append(c.calls, copied)

	if len(ids) > 0 {
		if remaining, ok := c.failuresLeft[ids[0]]; ok && remaining > 0 {
			c.failuresLeft[ids[0]] = remaining - 1
			if c.failWith != nil {
				return nil, c.failWith
			}
			return nil, &tracker.HTTPError{StatusCode: 503, Body: "unavailable"}
		}
	}

	items := make([]tracker.WorkItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, tracker.WorkItem{ID: id, Fields: map[string]any{}})
	}
	return items, nil
}

func sequentialIDs(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}

func newTestFetcher(client *fakeBulkClient) (*BatchFetcher, *[]time.Duration) {
	sleeps := &[]time.Duration{}
	fetcher := NewBatchFetcher(client)
	fetcher.Sleep = func(ctx context.Context, delay time.Duration) error {
		*sleeps = append(*sleeps, delay)
		return nil
	}
	return fetcher, sleeps
}

func TestFetchAllPartitionsIntoPages(t *testing.T) {
	fetchmetrics.ResetForTests()

	client := &fakeBulkClient{}
	fetcher, sleeps := newTestFetcher(client)

	outcome, err := fetcher.FetchAll(context.Background(), sequentialIDs(450), nil)
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}

	if len(client.calls) != 3 {
		t.Fatalf("expected ceil(450/200)=3 fetch calls, got %d", len(client.calls))
	}
	if len(client.calls[0]) != 200 || len(client.calls[1]) != 200 || len(client.calls[2]) != 50 {
		t.Fatalf("unexpected page sizes: %d, %d, %d", len(client.calls[0]), len(client.calls[1]), len(client.calls[2]))
	}
	if len(outcome.Items) != 450 || len(outcome.FailedIDs) != 0 {
		t.Fatalf("expected 450 items and no failures, got %d/%d", len(outcome.Items), len(outcome.FailedIDs))
	}
	if outcome.Items[0].ID != 1 || outcome.Items[449].ID != 450 {
		t.Fatalf("expected page order preserved, got first=%d last=%d", outcome.Items[0].ID, outcome.Items[449].ID)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no backoff sleeps on the happy path, got %v", *sleeps)
	}
}

func TestFetchAllSurvivesOneFailedPage(t *testing.T) {
	fetchmetrics.ResetForTests()

	// Page 2 starts at id 201 and fails every one of its 3 attempts.
	client := &fakeBulkClient{failuresLeft: map[int]int{201: 3}}
	fetcher, sleeps := newTestFetcher(client)

	outcome, err := fetcher.FetchAll(context.Background(), sequentialIDs(450), nil)
	if err != nil {
		t.Fatalf("expected partial success, got %v", err)
	}

	if len(outcome.Items) != 250 {
		t.Fatalf("expected items from pages 1 and 3 (250), got %d", len(outcome.Items))
	}
	if len(outcome.FailedIDs) != 200 {
		t.Fatalf("expected the 200 ids of page 2 to fail, got %d", len(outcome.FailedIDs))
	}
	if outcome.FailedIDs[0] != 201 || outcome.FailedIDs[199] != 400 {
		t.Fatalf("unexpected failed id range: %d..%d", outcome.FailedIDs[0], outcome.FailedIDs[199])
	}
	if got := len(outcome.Items) + len(outcome.FailedIDs); got != 450 {
		t.Fatalf("expected items+failed to cover all 450 ids, got %d", got)
	}

	// 3 attempts on page 2 means 2 backoff waits: 1s then 2s.
	if len(*sleeps) != 2 || (*sleeps)[0] != time.Second || (*sleeps)[1] != 2*time.Second {
		t.Fatalf("expected exponential backoff [1s 2s], got %v", *sleeps)
	}
	// 2 clean pages + 3 attempts on page 2.
	if len(client.calls) != 5 {
		t.Fatalf("expected 5 fetch calls, got %d", len(client.calls))
	}
}

func TestFetchAllRecoversPageWithinRetryBudget(t *testing.T) {
	fetchmetrics.ResetForTests()

	client := &fakeBulkClient{failuresLeft: map[int]int{1: 2}}
	fetcher, _ := newTestFetcher(client)

	outcome, err := fetcher.FetchAll(context.Background(), sequentialIDs(10), nil)
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}
	if len(outcome.Items) != 10 || len(outcome.FailedIDs) != 0 {
		t.Fatalf("expected full recovery on third attempt, got %d/%d", len(outcome.Items), len(outcome.FailedIDs))
	}
	if len(client.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(client.calls))
	}
}

func TestFetchAllFailsWhenEveryPageFails(t *testing.T) {
	fetchmetrics.ResetForTests()

	client := &fakeBulkClient{failuresLeft: map[int]int{1: 3, 201: 3}}
	fetcher, _ := newTestFetcher(client)

	_, err := fetcher.FetchAll(context.Background(), sequentialIDs(400), nil)
	var batchErr *BatchFetchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchFetchError, got %v", err)
	}
	if batchErr.Requested != 400 || len(batchErr.FailedIDs) != 400 {
		t.Fatalf("unexpected error payload: %+v", batchErr)
	}
}

func TestFetchAllDoesNotRetryTerminalErrors(t *testing.T) {
	fetchmetrics.ResetForTests()

	client := &fakeBulkClient{
		failuresLeft: map[int]int{1: 3},
		failWith:     &tracker.HTTPError{StatusCode: 400, Body: "bad request"},
	}
	fetcher, sleeps := newTestFetcher(client)

	_, err := fetcher.FetchAll(context.Background(), sequentialIDs(10), nil)
	var batchErr *BatchFetchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchFetchError for an all-failed batch, got %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected a single attempt for a terminal error, got %d", len(client.calls))
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no backoff for a terminal error, got %v", *sleeps)
	}
}

func TestFetchAllHonorsRetryAfterWhenLonger(t *testing.T) {
	fetchmetrics.ResetForTests()

	client := &fakeBulkClient{
		failuresLeft: map[int]int{1: 1},
		failWith:     &tracker.RateLimitError{StatusCode: 429, RetryAfter: 10 * time.Second},
	}
	fetcher, sleeps := newTestFetcher(client)

	outcome, err := fetcher.FetchAll(context.Background(), sequentialIDs(5), nil)
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}
	if len(outcome.Items) != 5 {
		t.Fatalf("expected recovery after throttle, got %d items", len(outcome.Items))
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 10*time.Second {
		t.Fatalf("expected the service's 10s retry-after to win over 1s backoff, got %v", *sleeps)
	}
}

func TestFetchAllEmptyInputIssuesNoCalls(t *testing.T) {
	client := &fakeBulkClient{}
	fetcher, _ := newTestFetcher(client)

	outcome, err := fetcher.FetchAll(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}
	if len(outcome.Items) != 0 || len(outcome.FailedIDs) != 0 {
		t.Fatalf("expected empty outcome, got %+v", outcome)
	}
	if len(client.calls) != 0 {
		t.Fatalf("expected no calls for empty input, got %d", len(client.calls))
	}
}

func TestFetchAllRejectsNonPositivePageSize(t *testing.T) {
	fetcher := NewBatchFetcher(&fakeBulkClient{})
	fetcher.PageSize = 0
	if _, err := fetcher.FetchAll(context.Background(), sequentialIDs(3), nil); err == nil {
		t.Fatalf("expected zero page size to fail fast")
	}

	fetcher.PageSize = -5
	if _, err := fetcher.FetchAll(context.Background(), sequentialIDs(3), nil); err == nil {
		t.Fatalf("expected negative page size to fail fast")
	}
}

func TestFetchAllStopsOnCancelledContext(t *testing.T) {
	fetchmetrics.ResetForTests()

	client := &fakeBulkClient{failuresLeft: map[int]int{1: 3}}
	fetcher := NewBatchFetcher(client)
	ctx, cancel := context.WithCancel(context.Background())
	fetcher.Sleep = func(ctx context.Context, delay time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := fetcher.FetchAll(ctx, sequentialIDs(10), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation to surface, got %v", err)
	}
}
