// Command collect runs a one-shot metrics collection and prints the
// resulting reports as JSON.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/beaconhq/boardpulse/internal/collect"
	"github.com/beaconhq/boardpulse/internal/config"
	"github.com/beaconhq/boardpulse/internal/store"
	"github.com/beaconhq/boardpulse/internal/tracker"
	"github.com/beaconhq/boardpulse/internal/wiql"
)

func main() {
	projectFlag := flag.String("project", "", "collect a single project instead of TRACKER_PROJECTS")
	saveFlag := flag.Bool("save", false, "persist reports to DATABASE_URL in addition to printing them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	projects := cfg.Tracker.Projects
	if *projectFlag != "" {
		projects = []string{*projectFlag}
	}
	if len(projects) == 0 {
		log.Fatalf("no projects configured: set TRACKER_PROJECTS or pass -project")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := buildCollector(cfg)
	if err != nil {
		log.Fatalf("collector: %v", err)
	}

	var reportStore *store.ReportStore
	if *saveFlag {
		if cfg.DatabaseURL == "" {
			log.Fatalf("-save requires DATABASE_URL")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		reportStore = store.NewReportStore(db)
	}

	targets := make([]collect.ProjectTarget, 0, len(projects))
	for _, project := range projects {
		targets = append(targets, collect.ProjectTarget{Name: project, Project: project})
	}

	reports := collector.CollectProjects(ctx, targets)

	if reportStore != nil {
		for _, report := range reports {
			if report.Error != "" || report.Report == nil {
				continue
			}
			run, err := reportStore.SaveReport(ctx, report.Report)
			if err != nil {
				log.Fatalf("persist report for project %q: %v", report.Project, err)
			}
			log.Printf("saved run %d for project %q", run.ID, report.Project)
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(reports); err != nil {
		log.Fatalf("encode reports: %v", err)
	}

	for _, report := range reports {
		if report.Error != "" {
			fmt.Fprintf(os.Stderr, "collection failed for project %q: %s\n", report.Project, report.Error)
			os.Exit(1)
		}
	}
}

func buildCollector(cfg config.Config) (*collect.Collector, error) {
	options := []tracker.Option{}
	if cfg.Tracker.PersonalAccessToken != "" {
		options = append(options, tracker.WithPersonalAccessToken(cfg.Tracker.PersonalAccessToken))
	}
	client, err := tracker.NewClient(cfg.Tracker.BaseURL, options...)
	if err != nil {
		return nil, err
	}

	fetcher := collect.NewBatchFetcher(client)
	fetcher.PageSize = cfg.Tracker.PageSize
	fetcher.Logf = log.Printf

	runner := collect.NewRunner(client, fetcher, collect.AutomationAccountFilter(cfg.Collection.NoiseAccounts))
	collector := collect.NewCollector(collect.DefaultCommands(runner, cfg.Collection.StaleAgeDays))
	collector.Logf = log.Printf

	if cfg.Collection.AreaPath != "" {
		mode := wiql.ScopeUnder
		if cfg.Collection.AreaMode == "not-under" {
			mode = wiql.ScopeNotUnder
		}
		collector.Scope = &wiql.AreaScope{Path: cfg.Collection.AreaPath, Mode: mode}
	}
	return collector, nil
}
