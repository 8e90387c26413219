// Command server runs the boardpulse HTTP API and the periodic metrics
// collection worker.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/beaconhq/boardpulse/internal/api"
	"github.com/beaconhq/boardpulse/internal/automigrate"
	"github.com/beaconhq/boardpulse/internal/collect"
	"github.com/beaconhq/boardpulse/internal/config"
	"github.com/beaconhq/boardpulse/internal/scheduler"
	"github.com/beaconhq/boardpulse/internal/store"
	"github.com/beaconhq/boardpulse/internal/tracker"
	"github.com/beaconhq/boardpulse/internal/wiql"
	"github.com/beaconhq/boardpulse/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reportStore *store.ReportStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()

		if err := automigrate.Run(db, "migrations", log.Printf); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		reportStore = store.NewReportStore(db)
	} else {
		log.Printf("DATABASE_URL not set, reports will not be persisted")
	}

	hub := ws.NewHub()
	go hub.Run()

	var collector *collect.Collector
	if cfg.Collection.Enabled {
		collector, err = buildCollector(cfg)
		if err != nil {
			log.Fatalf("collector: %v", err)
		}

		worker := scheduler.NewCollectionWorker(collector, saverOrNil(reportStore), scheduler.CollectionWorkerConfig{
			Interval: cfg.Collection.Interval,
			Projects: cfg.Tracker.Projects,
		})
		worker.Broadcaster = hub
		worker.Logf = log.Printf
		go worker.Start(ctx)
	}

	router := api.NewRouter(api.RouterDeps{
		Hub:       hub,
		Reports:   readerOrNil(reportStore),
		Collector: onDemandOrNil(collector, reportStore),
	})

	log.Printf("boardpulse server listening on port %s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildCollector(cfg config.Config) (*collect.Collector, error) {
	options := []tracker.Option{}
	if cfg.Tracker.PersonalAccessToken != "" {
		options = append(options, tracker.WithPersonalAccessToken(cfg.Tracker.PersonalAccessToken))
	}
	client, err := tracker.NewClient(cfg.Tracker.BaseURL, options...)
	if err != nil {
		return nil, fmt.Errorf("tracker client: %w", err)
	}

	fetcher := collect.NewBatchFetcher(client)
	fetcher.PageSize = cfg.Tracker.PageSize
	fetcher.Logf = log.Printf

	runner := collect.NewRunner(client, fetcher, collect.AutomationAccountFilter(cfg.Collection.NoiseAccounts))
	collector := collect.NewCollector(collect.DefaultCommands(runner, cfg.Collection.StaleAgeDays))
	collector.Logf = log.Printf
	collector.Scope = areaScope(cfg.Collection)
	return collector, nil
}

func areaScope(cfg config.CollectionConfig) *wiql.AreaScope {
	if cfg.AreaPath == "" {
		return nil
	}
	mode := wiql.ScopeUnder
	if cfg.AreaMode == "not-under" {
		mode = wiql.ScopeNotUnder
	}
	return &wiql.AreaScope{Path: cfg.AreaPath, Mode: mode}
}

// Typed-nil guards: a nil *ReportStore must become a nil interface.
func saverOrNil(reportStore *store.ReportStore) scheduler.ReportSaver {
	if reportStore == nil {
		return nil
	}
	return reportStore
}

func readerOrNil(reportStore *store.ReportStore) api.ReportReader {
	if reportStore == nil {
		return nil
	}
	return reportStore
}

// onDemandCollector runs a single-project collection for POST /collect,
// persisting the result like a scheduled run.
type onDemandCollector struct {
	collector *collect.Collector
	saver     *store.ReportStore
}

func (o *onDemandCollector) CollectProject(ctx context.Context, project string) (*collect.CollectionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report := o.collector.Collect(ctx, project)
	if o.saver != nil {
		if _, err := o.saver.SaveReport(ctx, report); err != nil {
			log.Printf("persist on-demand report for project %q: %v", project, err)
		}
	}
	return report, nil
}

func onDemandOrNil(collector *collect.Collector, reportStore *store.ReportStore) api.OnDemandCollector {
	if collector == nil {
		return nil
	}
	return &onDemandCollector{collector: collector, saver: reportStore}
}
