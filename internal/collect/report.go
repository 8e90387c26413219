package collect

import (
	"time"

	"github.com/beaconhq/boardpulse/internal/tracker"
)

// QueryResult is the validated, fetched, and noise-filtered outcome of one
// query command. Never mutated after return.
type QueryResult struct {
	Project       string             `json:"project"`
	Query         string             `json:"query"`
	Counts        map[string]int     `json:"counts"`
	Items         []tracker.WorkItem `json:"items,omitempty"`
	FailedIDs     []int              `json:"failed_ids,omitempty"`
	ExcludedCount int                `json:"excluded_count"`
	QueriedAt     time.Time          `json:"queried_at"`
}

// ItemCount is the number of records that survived noise exclusion.
func (r *QueryResult) ItemCount() int {
	if r == nil {
		return 0
	}
	return len(r.Items)
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// QueryError captures a failed query: the message plus a classification so
// callers can tell malformed input from an unavailable service.
type QueryError struct {
	Message string `json:"message"`
	Class   string `json:"class"`
}

// QueryOutcome is one entry of a collection report: either a result or an
// error, never both.
type QueryOutcome struct {
	Status string       `json:"status"`
	Result *QueryResult `json:"result,omitempty"`
	Error  *QueryError  `json:"error,omitempty"`
}

type ReportSummary struct {
	TotalItems      int `json:"total_items"`
	QueriesExecuted int `json:"queries_executed"`
	QueriesFailed   int `json:"queries_failed"`
}

// CollectionReport aggregates every configured query's outcome for one
// project. Created fresh per run; never mutated after return.
type CollectionReport struct {
	Project     string                  `json:"project"`
	Results     map[string]QueryOutcome `json:"results"`
	Summary     ReportSummary           `json:"summary"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
}

// ProjectReport is one entry of a multi-project run: a report, or the error
// that made the whole project unobtainable.
type ProjectReport struct {
	Project string            `json:"project"`
	Report  *CollectionReport `json:"report,omitempty"`
	Error   string            `json:"error,omitempty"`
}
