package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/beaconhq/boardpulse/internal/wiql"
)

// Collector runs a configured set of query commands against a project and
// aggregates the outcomes into one report. Commands are independent: one
// command's failure is recorded without aborting the others.
//
// A Collector holds no mutable state across runs, so separate projects may
// be collected concurrently with separate calls.
type Collector struct {
	Commands []QueryCommand
	Scope    *wiql.AreaScope
	Logf     func(string, ...any)
	Now      func() time.Time
}

func NewCollector(commands []QueryCommand) *Collector {
	return &Collector{Commands: commands}
}

// Collect runs every command in configured order and always returns a
// structured report, even under partial failure.
func (c *Collector) Collect(ctx context.Context, project string) *CollectionReport {
	report := &CollectionReport{
		Project:   project,
		Results:   make(map[string]QueryOutcome, len(c.Commands)),
		StartedAt: c.now(),
	}

	for _, command := range c.Commands {
		result, err := c.executeCommand(ctx, command, project)
		report.Summary.QueriesExecuted++
		if err != nil {
			classification := ClassifyError(err)
			report.Summary.QueriesFailed++
			report.Results[command.Name()] = QueryOutcome{
				Status: StatusFailed,
				Error:  &QueryError{Message: err.Error(), Class: classification.Class},
			}
			c.logf("query %s failed for project %q (%s): %v", command.Name(), project, classification.Class, err)
			continue
		}
		report.Summary.TotalItems += result.ItemCount()
		report.Results[command.Name()] = QueryOutcome{
			Status: StatusSucceeded,
			Result: result,
		}
	}

	report.CompletedAt = c.now()
	return report
}

func (c *Collector) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

// executeCommand isolates one command run, converting a panic into an error
// entry so a misbehaving variant cannot take down the whole collection.
func (c *Collector) executeCommand(ctx context.Context, command QueryCommand, project string) (result *QueryResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = fmt.Errorf("query %s for project %q panicked: %v", command.Name(), project, recovered)
		}
	}()
	return command.Execute(ctx, project, c.Scope)
}

// ProjectTarget names one project of a multi-project run.
type ProjectTarget struct {
	Name    string
	Project string
}

// CollectProjects runs the collection per target, sequentially. Targets
// without a project identifier are skipped. Every attempted target yields
// exactly one entry; a target whose run is entirely unobtainable carries the
// error instead of a report.
func (c *Collector) CollectProjects(ctx context.Context, targets []ProjectTarget) []ProjectReport {
	reports := make([]ProjectReport, 0, len(targets))
	for _, target := range targets {
		if target.Project == "" {
			c.logf("skipping target %q: no project identifier", target.Name)
			continue
		}
		if err := ctx.Err(); err != nil {
			reports = append(reports, ProjectReport{Project: target.Project, Error: err.Error()})
			continue
		}
		reports = append(reports, ProjectReport{
			Project: target.Project,
			Report:  c.Collect(ctx, target.Project),
		})
	}
	return reports
}

func (c *Collector) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}
