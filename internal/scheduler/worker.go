// Package scheduler runs the periodic metrics collection loop.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beaconhq/boardpulse/internal/collect"
	"github.com/beaconhq/boardpulse/internal/store"
)

const (
	defaultCollectionInterval = time.Hour
	defaultRunTimeout         = 15 * time.Minute
)

// ProjectCollector runs the query command set across project targets.
type ProjectCollector interface {
	CollectProjects(ctx context.Context, targets []collect.ProjectTarget) []collect.ProjectReport
}

// ReportSaver persists a finished collection report.
type ReportSaver interface {
	SaveReport(ctx context.Context, report *collect.CollectionReport) (*store.Run, error)
}

// Broadcaster pushes run events to connected dashboard clients.
type Broadcaster interface {
	Broadcast(project string, payload []byte)
}

// CollectionWorkerConfig tunes the collection loop.
type CollectionWorkerConfig struct {
	Interval   time.Duration
	RunTimeout time.Duration
	Projects   []string
}

// CollectionWorker periodically collects metrics for every configured
// project, persists the reports, and broadcasts run events.
type CollectionWorker struct {
	Collector   ProjectCollector
	Saver       ReportSaver
	Broadcaster Broadcaster
	Config      CollectionWorkerConfig
	Now         func() time.Time
	Logf        func(string, ...any)
}

func NewCollectionWorker(collector ProjectCollector, saver ReportSaver, cfg CollectionWorkerConfig) *CollectionWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultCollectionInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}

	return &CollectionWorker{
		Collector: collector,
		Saver:     saver,
		Config:    cfg,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start loops until the context is cancelled, collecting once per interval.
func (w *CollectionWorker) Start(ctx context.Context) {
	for {
		if _, err := w.RunOnce(ctx); err != nil && w.Logf != nil {
			w.Logf("collection run failed: %v", err)
		}
		if err := sleepWithContext(ctx, w.Config.Interval); err != nil {
			return
		}
	}
}

// runEvent is the payload broadcast after each project run.
type runEvent struct {
	Type            string    `json:"type"`
	Project         string    `json:"project"`
	RunID           int64     `json:"run_id,omitempty"`
	TotalItems      int       `json:"total_items"`
	QueriesExecuted int       `json:"queries_executed"`
	QueriesFailed   int       `json:"queries_failed"`
	CompletedAt     time.Time `json:"completed_at"`
	Error           string    `json:"error,omitempty"`
}

// RunOnce collects every configured project once and returns the number of
// project reports that were persisted.
func (w *CollectionWorker) RunOnce(ctx context.Context) (int, error) {
	if w == nil || w.Collector == nil {
		return 0, fmt.Errorf("collection worker is not configured")
	}
	if len(w.Config.Projects) == 0 {
		return 0, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, w.Config.RunTimeout)
	defer cancel()

	targets := make([]collect.ProjectTarget, 0, len(w.Config.Projects))
	for _, project := range w.Config.Projects {
		targets = append(targets, collect.ProjectTarget{Name: project, Project: project})
	}

	saved := 0
	for _, projectReport := range w.Collector.CollectProjects(runCtx, targets) {
		if projectReport.Error != "" {
			w.logf("collection failed for project %q: %s", projectReport.Project, projectReport.Error)
			w.broadcastEvent(runEvent{
				Type:        "RunFailed",
				Project:     projectReport.Project,
				CompletedAt: w.now(),
				Error:       projectReport.Error,
			})
			continue
		}

		event := runEvent{
			Type:            "RunCompleted",
			Project:         projectReport.Project,
			TotalItems:      projectReport.Report.Summary.TotalItems,
			QueriesExecuted: projectReport.Report.Summary.QueriesExecuted,
			QueriesFailed:   projectReport.Report.Summary.QueriesFailed,
			CompletedAt:     projectReport.Report.CompletedAt,
		}

		if w.Saver != nil {
			run, err := w.Saver.SaveReport(runCtx, projectReport.Report)
			if err != nil {
				w.logf("persist report for project %q: %v", projectReport.Project, err)
			} else {
				event.RunID = run.ID
				saved++
			}
		}

		w.broadcastEvent(event)
	}
	return saved, nil
}

func (w *CollectionWorker) broadcastEvent(event runEvent) {
	if w.Broadcaster == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		w.logf("encode run event for project %q: %v", event.Project, err)
		return
	}
	w.Broadcaster.Broadcast(event.Project, payload)
}

func (w *CollectionWorker) logf(format string, args ...any) {
	if w.Logf != nil {
		w.Logf(format, args...)
	}
}

func (w *CollectionWorker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
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
