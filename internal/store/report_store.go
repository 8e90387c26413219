// Package store persists collection runs and their per-query results in
// PostgreSQL so the dashboard can read metric history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/beaconhq/boardpulse/internal/collect"
)

// ErrRunNotFound is returned when a project has no recorded runs.
var ErrRunNotFound = errors.New("collection run not found")

// Run is one persisted collection run.
type Run struct {
	ID              int64     `json:"id"`
	Project         string    `json:"project"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	TotalItems      int       `json:"total_items"`
	QueriesExecuted int       `json:"queries_executed"`
	QueriesFailed   int       `json:"queries_failed"`
	CreatedAt       time.Time `json:"created_at"`
}

// RunQueryResult is one persisted per-query outcome of a run.
type RunQueryResult struct {
	ID            int64          `json:"id"`
	RunID         int64          `json:"run_id"`
	QueryName     string         `json:"query_name"`
	Status        string         `json:"status"`
	ItemCount     int            `json:"item_count"`
	ExcludedCount int            `json:"excluded_count"`
	Counts        map[string]int `json:"counts,omitempty"`
	FailedIDs     []int          `json:"failed_ids,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	ErrorClass    *string        `json:"error_class,omitempty"`
	QueriedAt     *time.Time     `json:"queried_at,omitempty"`
}

// ReportStore provides access to persisted collection reports.
type ReportStore struct {
	db *sql.DB
}

func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

const runSelectColumns = "id, project, started_at, completed_at, total_items, queries_executed, queries_failed, created_at"

// SaveReport persists a collection report and its per-query outcomes in one
// transaction.
func (s *ReportStore) SaveReport(ctx context.Context, report *collect.CollectionReport) (*Run, error) {
	if report == nil {
		return nil, fmt.Errorf("report is required")
	}
	if report.Project == "" {
		return nil, fmt.Errorf("report project is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save report: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run := &Run{}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO collection_runs (project, started_at, completed_at, total_items, queries_executed, queries_failed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+runSelectColumns,
		report.Project,
		report.StartedAt,
		report.CompletedAt,
		report.Summary.TotalItems,
		report.Summary.QueriesExecuted,
		report.Summary.QueriesFailed,
	).Scan(
		&run.ID, &run.Project, &run.StartedAt, &run.CompletedAt,
		&run.TotalItems, &run.QueriesExecuted, &run.QueriesFailed, &run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert collection run: %w", err)
	}

	for queryName, outcome := range report.Results {
		if err := insertQueryResult(ctx, tx, run.ID, queryName, outcome); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save report: %w", err)
	}
	return run, nil
}

func insertQueryResult(ctx context.Context, tx *sql.Tx, runID int64, queryName string, outcome collect.QueryOutcome) error {
	var (
		itemCount     int
		excludedCount int
		countsJSON    []byte
		failedJSON    []byte
		errorMessage  *string
		errorClass    *string
		queriedAt     *time.Time
		err           error
	)

	if outcome.Result != nil {
		itemCount = outcome.Result.ItemCount()
		excludedCount = outcome.Result.ExcludedCount
		queried := outcome.Result.QueriedAt
		queriedAt = &queried
		if countsJSON, err = json.Marshal(outcome.Result.Counts); err != nil {
			return fmt.Errorf("encode counts for %s: %w", queryName, err)
		}
		if len(outcome.Result.FailedIDs) > 0 {
			if failedJSON, err = json.Marshal(outcome.Result.FailedIDs); err != nil {
				return fmt.Errorf("encode failed ids for %s: %w", queryName, err)
			}
		}
	}
	if outcome.Error != nil {
		errorMessage = &outcome.Error.Message
		errorClass = &outcome.Error.Class
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collection_query_results
			(run_id, query_name, status, item_count, excluded_count, counts, failed_ids, error_message, error_class, queried_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		runID, queryName, outcome.Status, itemCount, excludedCount,
		nullableJSON(countsJSON), nullableJSON(failedJSON), errorMessage, errorClass, queriedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query result %s: %w", queryName, err)
	}
	return nil
}

// nullableJSON passes JSON as text so pq does not encode it as bytea.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// LatestRun returns the most recently completed run for a project with its
// query results, or ErrRunNotFound.
func (s *ReportStore) LatestRun(ctx context.Context, project string) (*Run, []RunQueryResult, error) {
	if project == "" {
		return nil, nil, fmt.Errorf("project is required")
	}

	run := &Run{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+runSelectColumns+`
		FROM collection_runs
		WHERE project = $1
		ORDER BY completed_at DESC, id DESC
		LIMIT 1`, project,
	).Scan(
		&run.ID, &run.Project, &run.StartedAt, &run.CompletedAt,
		&run.TotalItems, &run.QueriesExecuted, &run.QueriesFailed, &run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrRunNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query latest run: %w", err)
	}

	results, err := s.queryResults(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	return run, results, nil
}

// ListRuns returns recent runs for a project, newest first.
func (s *ReportStore) ListRuns(ctx context.Context, project string, limit int) ([]Run, error) {
	if project == "" {
		return nil, fmt.Errorf("project is required")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runSelectColumns+`
		FROM collection_runs
		WHERE project = $1
		ORDER BY completed_at DESC, id DESC
		LIMIT $2`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.Project, &run.StartedAt, &run.CompletedAt,
			&run.TotalItems, &run.QueriesExecuted, &run.QueriesFailed, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *ReportStore) queryResults(ctx context.Context, runID int64) ([]RunQueryResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, query_name, status, item_count, excluded_count, counts, failed_ids, error_message, error_class, queried_at
		FROM collection_query_results
		WHERE run_id = $1
		ORDER BY query_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run results: %w", err)
	}
	defer rows.Close()

	results := make([]RunQueryResult, 0)
	for rows.Next() {
		var (
			result     RunQueryResult
			countsJSON []byte
			failedJSON []byte
		)
		if err := rows.Scan(
			&result.ID, &result.RunID, &result.QueryName, &result.Status,
			&result.ItemCount, &result.ExcludedCount, &countsJSON, &failedJSON,
			&result.ErrorMessage, &result.ErrorClass, &result.QueriedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query result: %w", err)
		}
		if len(countsJSON) > 0 {
			if err := json.Unmarshal(countsJSON, &result.Counts); err != nil {
				return nil, fmt.Errorf("decode counts for %s: %w", result.QueryName, err)
			}
		}
		if len(failedJSON) > 0 {
			if err := json.Unmarshal(failedJSON, &result.FailedIDs); err != nil {
				return nil, fmt.Errorf("decode failed ids for %s: %w", result.QueryName, err)
			}
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
