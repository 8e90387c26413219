package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beaconhq/boardpulse/internal/fetchmetrics"
	"github.com/beaconhq/boardpulse/internal/tracker"
)

// DefaultPageSize matches the remote API's per-call id cap.
const DefaultPageSize = tracker.MaxBatchSize

// BulkFetchClient is the collaborator that materializes full records for one
// page of ids.
type BulkFetchClient interface {
	FetchWorkItemsBatch(ctx context.Context, ids []int, fields []string) ([]tracker.WorkItem, error)
}

// FetchOutcome is the partial-success result of a batch fetch. Items holds
// every record recovered, in page order; FailedIDs holds the ids of pages
// that exhausted their retries. When the remote returns every record of each
// surviving page, len(Items)+len(FailedIDs) equals the number of requested
// ids.
type FetchOutcome struct {
	Items     []tracker.WorkItem
	FailedIDs []int
}

// BatchFetchError reports a batch fetch that recovered nothing: every page
// exhausted its retries.
type BatchFetchError struct {
	Requested int
	FailedIDs []int
}

func (e *BatchFetchError) Error() string {
	return fmt.Sprintf("batch fetch recovered 0 of %d items (%d ids failed)", e.Requested, len(e.FailedIDs))
}

// BatchFetcher retrieves full records for arbitrarily many ids by slicing
// them into pages and retrying each page independently. Pages degrade
// gracefully: a page that exhausts its retries contributes its ids to
// FailedIDs and fetching moves on.
type BatchFetcher struct {
	Client   BulkFetchClient
	PageSize int
	Policy   RetryPolicy
	Sleep    func(ctx context.Context, delay time.Duration) error
	Logf     func(string, ...any)
}

func NewBatchFetcher(client BulkFetchClient) *BatchFetcher {
	return &BatchFetcher{
		Client:   client,
		PageSize: DefaultPageSize,
		Policy:   DefaultRetryPolicy(),
		Sleep:    sleepWithContext,
	}
}

// FetchAll fetches records for every id. It returns an error only when the
// input is a programmer mistake, the context is cancelled, or the entire
// batch failed; otherwise it returns the partial outcome and lets the caller
// decide whether partial data is acceptable.
func (f *BatchFetcher) FetchAll(ctx context.Context, ids []int, fields []string) (FetchOutcome, error) {
	if len(ids) == 0 {
		return FetchOutcome{}, nil
	}
	if f.Client == nil {
		return FetchOutcome{}, fmt.Errorf("batch fetcher requires a client")
	}
	if f.PageSize <= 0 {
		return FetchOutcome{}, fmt.Errorf("batch fetcher page size must be positive, got %d", f.PageSize)
	}

	outcome := FetchOutcome{}
	for start := 0; start < len(ids); start += f.PageSize {
		end := start + f.PageSize
		if end > len(ids) {
			end = len(ids)
		}
		page := ids[start:end]

		items, err := f.fetchPage(ctx, page, fields)
		if err != nil {
			if ctx.Err() != nil {
				return FetchOutcome{}, ctx.Err()
			}
			f.logf("page of %d ids failed after retries: %v", len(page), err)
			fetchmetrics.RecordPageFailed()
			outcome.FailedIDs = append(outcome.FailedIDs, page...)
			continue
		}
		fetchmetrics.RecordPageFetched(len(items))
		outcome.Items = append(outcome.Items, items...)
	}

	if len(outcome.Items) == 0 && len(outcome.FailedIDs) > 0 {
		return FetchOutcome{}, &BatchFetchError{Requested: len(ids), FailedIDs: outcome.FailedIDs}
	}
	return outcome, nil
}

func (f *BatchFetcher) fetchPage(ctx context.Context, page []int, fields []string) ([]tracker.WorkItem, error) {
	maxAttempts := f.Policy.maxAttempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		items, err := f.Client.FetchWorkItemsBatch(ctx, page, fields)
		if err == nil {
			return items, nil
		}
		lastErr = err

		classification := ClassifyError(err)
		if !classification.Retryable {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := f.retryDelay(attempt, err)
		fetchmetrics.RecordPageRetry()
		f.logf("page fetch attempt %d/%d failed (%s), retrying in %s: %v", attempt, maxAttempts, classification.Class, delay, err)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// retryDelay is the policy backoff, stretched to honor an explicit
// Retry-After from the service when it is longer.
func (f *BatchFetcher) retryDelay(attempt int, err error) time.Duration {
	delay := f.Policy.Backoff(attempt)
	var rateLimitErr *tracker.RateLimitError
	if errors.As(err, &rateLimitErr) && rateLimitErr.RetryAfter > delay {
		retryAfter := rateLimitErr.RetryAfter
		if max := f.Policy.MaxDelay; max > 0 && retryAfter > max {
			retryAfter = max
		}
		return retryAfter
	}
	return delay
}

func (f *BatchFetcher) sleep(ctx context.Context, delay time.Duration) error {
	if f.Sleep != nil {
		return f.Sleep(ctx, delay)
	}
	return sleepWithContext(ctx, delay)
}

func (f *BatchFetcher) logf(format string, args ...any) {
	if f.Logf != nil {
		f.Logf(format, args...)
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
