package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DATABASE_URL", "APP_ENV", "ENVIRONMENT", "GO_ENV",
		"TRACKER_BASE_URL", "TRACKER_PAT", "TRACKER_PROJECTS", "TRACKER_PAGE_SIZE",
		"COLLECTION_ENABLED", "COLLECTION_INTERVAL", "COLLECTION_STALE_AGE_DAYS",
		"COLLECTION_AREA_PATH", "COLLECTION_AREA_MODE", "COLLECTION_NOISE_ACCOUNTS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	// Collection is on by default, so the tracker must be pointed somewhere.
	t.Setenv("TRACKER_BASE_URL", "https://dev.azure.com/beaconhq")
	t.Setenv("TRACKER_PROJECTS", "Alpha")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %q, got %q", defaultPort, cfg.Port)
	}
	if cfg.Environment != defaultEnvironment {
		t.Fatalf("expected default environment %q, got %q", defaultEnvironment, cfg.Environment)
	}
	if !cfg.Collection.Enabled {
		t.Fatalf("expected collection enabled by default")
	}
	if cfg.Collection.Interval != defaultCollectionInterval {
		t.Fatalf("expected default interval %v, got %v", defaultCollectionInterval, cfg.Collection.Interval)
	}
	if cfg.Collection.StaleAgeDays != defaultCollectionStaleAgeDays {
		t.Fatalf("expected default stale age %d, got %d", defaultCollectionStaleAgeDays, cfg.Collection.StaleAgeDays)
	}
	if cfg.Collection.AreaMode != "under" {
		t.Fatalf("expected default area mode under, got %q", cfg.Collection.AreaMode)
	}
	if cfg.Tracker.PageSize != defaultTrackerPageSize {
		t.Fatalf("expected default page size %d, got %d", defaultTrackerPageSize, cfg.Tracker.PageSize)
	}
}

func TestLoadParsesTrackerSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("TRACKER_BASE_URL", "https://tracker.example.com")
	t.Setenv("TRACKER_PAT", "secret-token")
	t.Setenv("TRACKER_PROJECTS", "Alpha, Beta ,Gamma")
	t.Setenv("TRACKER_PAGE_SIZE", "50")
	t.Setenv("COLLECTION_INTERVAL", "30m")
	t.Setenv("COLLECTION_STALE_AGE_DAYS", "14")
	t.Setenv("COLLECTION_AREA_PATH", `Alpha\Platform`)
	t.Setenv("COLLECTION_AREA_MODE", "not-under")
	t.Setenv("COLLECTION_NOISE_ACCOUNTS", "bot@bots.example, monitor@bots.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Tracker.BaseURL != "https://tracker.example.com" {
		t.Fatalf("unexpected base URL %q", cfg.Tracker.BaseURL)
	}
	if cfg.Tracker.PersonalAccessToken != "secret-token" {
		t.Fatalf("unexpected token %q", cfg.Tracker.PersonalAccessToken)
	}
	if len(cfg.Tracker.Projects) != 3 || cfg.Tracker.Projects[1] != "Beta" {
		t.Fatalf("unexpected projects %v", cfg.Tracker.Projects)
	}
	if cfg.Tracker.PageSize != 50 {
		t.Fatalf("unexpected page size %d", cfg.Tracker.PageSize)
	}
	if cfg.Collection.Interval != 30*time.Minute {
		t.Fatalf("unexpected interval %v", cfg.Collection.Interval)
	}
	if cfg.Collection.StaleAgeDays != 14 {
		t.Fatalf("unexpected stale age %d", cfg.Collection.StaleAgeDays)
	}
	if cfg.Collection.AreaMode != "not-under" {
		t.Fatalf("unexpected area mode %q", cfg.Collection.AreaMode)
	}
	if len(cfg.Collection.NoiseAccounts) != 2 {
		t.Fatalf("unexpected noise accounts %v", cfg.Collection.NoiseAccounts)
	}
}

func TestLoadDisabledCollectionSkipsTrackerValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("COLLECTION_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Collection.Enabled {
		t.Fatalf("expected collection disabled")
	}
}

func TestLoadRejectsOversizedPageSize(t *testing.T) {
	clearEnv(t)
	t.Setenv("COLLECTION_ENABLED", "false")
	t.Setenv("TRACKER_PAGE_SIZE", "500")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TRACKER_PAGE_SIZE") {
		t.Fatalf("expected page size error, got %v", err)
	}
}

func TestLoadRejectsBadAreaMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("COLLECTION_ENABLED", "false")
	t.Setenv("COLLECTION_AREA_MODE", "sideways")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "COLLECTION_AREA_MODE") {
		t.Fatalf("expected area mode error, got %v", err)
	}
}

func TestLoadRequiresProjectsWhenEnabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACKER_BASE_URL", "https://tracker.example.com")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TRACKER_PROJECTS") {
		t.Fatalf("expected projects error, got %v", err)
	}
}

func TestLoadRequiresTokenOutsideDevelopment(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("TRACKER_BASE_URL", "https://tracker.example.com")
	t.Setenv("TRACKER_PROJECTS", "Alpha")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TRACKER_PAT") {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestLoadRejectsBadBool(t *testing.T) {
	clearEnv(t)
	t.Setenv("COLLECTION_ENABLED", "maybe")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "COLLECTION_ENABLED") {
		t.Fatalf("expected boolean error, got %v", err)
	}
}
