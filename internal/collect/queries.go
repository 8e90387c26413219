package collect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/beaconhq/boardpulse/internal/fetchmetrics"
	"github.com/beaconhq/boardpulse/internal/tracker"
	"github.com/beaconhq/boardpulse/internal/wiql"
)

// WorkItemQuerier is the collaborator that executes an assembled query
// string and returns the matched item references.
type WorkItemQuerier interface {
	QueryWorkItems(ctx context.Context, project, query string) ([]tracker.WorkItemRef, error)
}

// QueryCommand is one metric query variant. Variants differ only in the
// predicate clause of their template and in the counts they derive from the
// fetched records.
type QueryCommand interface {
	Name() string
	BuildQuery(project string, scope *wiql.AreaScope) (string, error)
	Execute(ctx context.Context, project string, scope *wiql.AreaScope) (*QueryResult, error)
}

// fetchFields is the field list requested for every variant. Internal and
// fixed; configuration-sourced field names go through wiql.ValidateFieldName
// before joining this list.
var fetchFields = []string{
	"System.Id",
	"System.Title",
	"System.State",
	"System.WorkItemType",
	"System.CreatedDate",
	"System.CreatedBy",
	"System.Tags",
	"System.AreaPath",
	"Microsoft.VSTS.Common.Priority",
}

// Runner carries the collaborators shared by every query command.
type Runner struct {
	Querier WorkItemQuerier
	Fetcher *BatchFetcher
	Noise   NoiseFilter
	Now     func() time.Time
}

func NewRunner(querier WorkItemQuerier, fetcher *BatchFetcher, noise NoiseFilter) *Runner {
	if noise == nil {
		noise = KeepAll
	}
	return &Runner{
		Querier: querier,
		Fetcher: fetcher,
		Noise:   noise,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// run drives the shared pipeline: build (validates), query, fetch, filter,
// aggregate. Errors carry the stage and query name so report entries can be
// traced to the failing call.
func (r *Runner) run(
	ctx context.Context,
	name string,
	project string,
	query string,
	aggregate func(items []tracker.WorkItem) map[string]int,
) (*QueryResult, error) {
	started := r.now()
	fetchmetrics.RecordQueryStarted(name)

	refs, err := r.Querier.QueryWorkItems(ctx, project, query)
	if err != nil {
		fetchmetrics.RecordQueryFailed(name)
		return nil, fmt.Errorf("query %s for project %q: %w", name, project, err)
	}

	ids := make([]int, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}

	outcome, err := r.Fetcher.FetchAll(ctx, ids, fetchFields)
	if err != nil {
		fetchmetrics.RecordQueryFailed(name)
		return nil, fmt.Errorf("fetch %s for project %q: %w", name, project, err)
	}

	filtered, excluded := r.Noise(outcome.Items)
	counts := aggregate(filtered)

	fetchmetrics.RecordQuerySucceeded(name, len(filtered), excluded, r.now().Sub(started))
	return &QueryResult{
		Project:       project,
		Query:         name,
		Counts:        counts,
		Items:         filtered,
		FailedIDs:     outcome.FailedIDs,
		ExcludedCount: excluded,
		QueriedAt:     started,
	}, nil
}

// buildScopedQuery renders a template with the project parameter and appends
// the optional area scope clause. All query commands assemble through here,
// so nothing reaches the query string unvalidated.
func buildScopedQuery(template, project string, extra map[string]wiql.Param, scope *wiql.AreaScope) (string, error) {
	params := map[string]wiql.Param{
		"project": wiql.ProjectParam(project),
	}
	for name, param := range extra {
		params[name] = param
	}

	query, err := wiql.RenderTemplate(template, params)
	if err != nil {
		return "", err
	}
	return wiql.AppendScope(query, scope)
}

// PriorityCountsQuery counts active bugs bucketed by priority 1-4.
type PriorityCountsQuery struct {
	Runner *Runner
}

const priorityCountsTemplate = "SELECT [System.Id] FROM WorkItems " +
	"WHERE [System.TeamProject] = '{project}' " +
	"AND [System.WorkItemType] = 'Bug' " +
	"AND [System.State] <> 'Closed' AND [System.State] <> 'Removed' " +
	"AND [Microsoft.VSTS.Common.Priority] >= 1 AND [Microsoft.VSTS.Common.Priority] <= 4"

func (q *PriorityCountsQuery) Name() string { return "priority_counts" }

func (q *PriorityCountsQuery) BuildQuery(project string, scope *wiql.AreaScope) (string, error) {
	return buildScopedQuery(priorityCountsTemplate, project, nil, scope)
}

func (q *PriorityCountsQuery) Execute(ctx context.Context, project string, scope *wiql.AreaScope) (*QueryResult, error) {
	query, err := q.BuildQuery(project, scope)
	if err != nil {
		return nil, err
	}
	return q.Runner.run(ctx, q.Name(), project, query, func(items []tracker.WorkItem) map[string]int {
		counts := map[string]int{
			"total":      len(items),
			"priority_1": 0,
			"priority_2": 0,
			"priority_3": 0,
			"priority_4": 0,
		}
		for _, item := range items {
			if priority := item.Priority(); priority >= 1 && priority <= 4 {
				counts[fmt.Sprintf("priority_%d", priority)]++
			}
		}
		return counts
	})
}

// StaleBugsQuery counts open bugs created before an age threshold and
// reports age statistics in days.
type StaleBugsQuery struct {
	Runner  *Runner
	AgeDays int
}

const staleBugsTemplate = "SELECT [System.Id] FROM WorkItems " +
	"WHERE [System.TeamProject] = '{project}' " +
	"AND [System.WorkItemType] = 'Bug' " +
	"AND [System.State] <> 'Closed' AND [System.State] <> 'Removed' " +
	"AND [System.CreatedDate] <= '{cutoff}'"

const defaultStaleAgeDays = 30

func (q *StaleBugsQuery) Name() string { return "stale_bugs" }

func (q *StaleBugsQuery) ageDays() int {
	if q.AgeDays <= 0 {
		return defaultStaleAgeDays
	}
	return q.AgeDays
}

func (q *StaleBugsQuery) cutoff() string {
	return q.Runner.now().AddDate(0, 0, -q.ageDays()).Format("2006-01-02")
}

func (q *StaleBugsQuery) BuildQuery(project string, scope *wiql.AreaScope) (string, error) {
	return buildScopedQuery(staleBugsTemplate, project, map[string]wiql.Param{
		"cutoff": wiql.DateParam(q.cutoff()),
	}, scope)
}

func (q *StaleBugsQuery) Execute(ctx context.Context, project string, scope *wiql.AreaScope) (*QueryResult, error) {
	query, err := q.BuildQuery(project, scope)
	if err != nil {
		return nil, err
	}
	now := q.Runner.now()
	return q.Runner.run(ctx, q.Name(), project, query, func(items []tracker.WorkItem) map[string]int {
		counts := map[string]int{
			"total":            len(items),
			"oldest_age_days":  0,
			"average_age_days": 0,
		}
		if len(items) == 0 {
			return counts
		}
		totalAge := 0
		oldest := 0
		for _, item := range items {
			created := item.CreatedDate()
			if created.IsZero() {
				continue
			}
			age := int(now.Sub(created).Hours() / 24)
			if age < 0 {
				age = 0
			}
			totalAge += age
			if age > oldest {
				oldest = age
			}
		}
		counts["oldest_age_days"] = oldest
		counts["average_age_days"] = totalAge / len(items)
		return counts
	})
}

// BlockedItemsQuery counts open items tagged as blocked, grouped by state.
type BlockedItemsQuery struct {
	Runner *Runner
}

const blockedItemsTemplate = "SELECT [System.Id] FROM WorkItems " +
	"WHERE [System.TeamProject] = '{project}' " +
	"AND [System.Tags] CONTAINS 'Blocked' " +
	"AND [System.State] <> 'Closed' AND [System.State] <> 'Removed'"

func (q *BlockedItemsQuery) Name() string { return "blocked_items" }

func (q *BlockedItemsQuery) BuildQuery(project string, scope *wiql.AreaScope) (string, error) {
	return buildScopedQuery(blockedItemsTemplate, project, nil, scope)
}

func (q *BlockedItemsQuery) Execute(ctx context.Context, project string, scope *wiql.AreaScope) (*QueryResult, error) {
	query, err := q.BuildQuery(project, scope)
	if err != nil {
		return nil, err
	}
	return q.Runner.run(ctx, q.Name(), project, query, func(items []tracker.WorkItem) map[string]int {
		counts := map[string]int{"total": len(items)}
		states := make([]string, 0, 4)
		byState := make(map[string]int)
		for _, item := range items {
			state := item.State()
			if state == "" {
				state = "unknown"
			}
			if _, seen := byState[state]; !seen {
				states = append(states, state)
			}
			byState[state]++
		}
		sort.Strings(states)
		for _, state := range states {
			counts["state_"+state] = byState[state]
		}
		return counts
	})
}

// TestGapQuery inspects resolved and closed bugs for a test-case reference
// and reports the coverage gap.
type TestGapQuery struct {
	Runner *Runner
	// TestedTag marks a bug as covered by a test case. Defaults to
	// "tested-by".
	TestedTag string
}

const testGapTemplate = "SELECT [System.Id] FROM WorkItems " +
	"WHERE [System.TeamProject] = '{project}' " +
	"AND [System.WorkItemType] = 'Bug' " +
	"AND ([System.State] = 'Resolved' OR [System.State] = 'Closed')"

func (q *TestGapQuery) Name() string { return "test_gap" }

func (q *TestGapQuery) testedTag() string {
	if q.TestedTag == "" {
		return "tested-by"
	}
	return q.TestedTag
}

func (q *TestGapQuery) BuildQuery(project string, scope *wiql.AreaScope) (string, error) {
	return buildScopedQuery(testGapTemplate, project, nil, scope)
}

func (q *TestGapQuery) Execute(ctx context.Context, project string, scope *wiql.AreaScope) (*QueryResult, error) {
	query, err := q.BuildQuery(project, scope)
	if err != nil {
		return nil, err
	}
	tag := q.testedTag()
	return q.Runner.run(ctx, q.Name(), project, query, func(items []tracker.WorkItem) map[string]int {
		covered := 0
		for _, item := range items {
			if item.HasTag(tag) {
				covered++
			}
		}
		counts := map[string]int{
			"total":             len(items),
			"missing_test_link": len(items) - covered,
			"coverage_percent":  100,
		}
		if len(items) > 0 {
			counts["coverage_percent"] = covered * 100 / len(items)
		}
		return counts
	})
}

// DefaultCommands is the standard collection set, in report order.
func DefaultCommands(runner *Runner, staleAgeDays int) []QueryCommand {
	return []QueryCommand{
		&PriorityCountsQuery{Runner: runner},
		&StaleBugsQuery{Runner: runner, AgeDays: staleAgeDays},
		&BlockedItemsQuery{Runner: runner},
		&TestGapQuery{Runner: runner},
	}
}
