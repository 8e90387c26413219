package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func init() {
	// Auto-load .env file if present (don't override existing env vars)
	loadDotEnv(".env")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		// Remove surrounding quotes
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

const (
	defaultPort        = "4300"
	defaultEnvironment = "development"

	defaultCollectionEnabled      = true
	defaultCollectionInterval     = time.Hour
	defaultCollectionStaleAgeDays = 30
	defaultCollectionAreaMode     = "under"

	defaultTrackerPageSize = 200
)

// TrackerConfig covers the connection to the work item tracking service.
type TrackerConfig struct {
	BaseURL             string
	PersonalAccessToken string
	Projects            []string
	PageSize            int
}

// CollectionConfig covers the periodic metrics collection worker.
type CollectionConfig struct {
	Enabled       bool
	Interval      time.Duration
	StaleAgeDays  int
	AreaPath      string
	AreaMode      string
	NoiseAccounts []string
}

type Config struct {
	Port        string
	DatabaseURL string
	Environment string
	Tracker     TrackerConfig
	Collection  CollectionConfig
}

func Load() (Config, error) {
	cfg := Config{
		Port:        firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), defaultPort),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Environment: resolveEnvironment(),
		Tracker: TrackerConfig{
			BaseURL:             strings.TrimSpace(os.Getenv("TRACKER_BASE_URL")),
			PersonalAccessToken: strings.TrimSpace(os.Getenv("TRACKER_PAT")),
			Projects:            splitList(os.Getenv("TRACKER_PROJECTS")),
		},
		Collection: CollectionConfig{
			AreaPath: strings.TrimSpace(os.Getenv("COLLECTION_AREA_PATH")),
			AreaMode: strings.ToLower(firstNonEmpty(
				strings.TrimSpace(os.Getenv("COLLECTION_AREA_MODE")),
				defaultCollectionAreaMode,
			)),
			NoiseAccounts: splitList(os.Getenv("COLLECTION_NOISE_ACCOUNTS")),
		},
	}

	pageSize, err := parseInt("TRACKER_PAGE_SIZE", defaultTrackerPageSize)
	if err != nil {
		return Config{}, err
	}
	cfg.Tracker.PageSize = pageSize

	collectionEnabled, err := parseBool("COLLECTION_ENABLED", defaultCollectionEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.Collection.Enabled = collectionEnabled

	collectionInterval, err := parseDuration("COLLECTION_INTERVAL", defaultCollectionInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.Collection.Interval = collectionInterval

	staleAgeDays, err := parseInt("COLLECTION_STALE_AGE_DAYS", defaultCollectionStaleAgeDays)
	if err != nil {
		return Config{}, err
	}
	cfg.Collection.StaleAgeDays = staleAgeDays

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Tracker.PageSize <= 0 || c.Tracker.PageSize > 200 {
		return fmt.Errorf("TRACKER_PAGE_SIZE must be between 1 and 200")
	}

	switch c.Collection.AreaMode {
	case "under", "not-under":
	default:
		return fmt.Errorf("COLLECTION_AREA_MODE must be \"under\" or \"not-under\"")
	}

	if !c.Collection.Enabled {
		return nil
	}

	if c.Collection.Interval <= 0 {
		return fmt.Errorf("COLLECTION_INTERVAL must be greater than zero")
	}
	if c.Collection.StaleAgeDays <= 0 {
		return fmt.Errorf("COLLECTION_STALE_AGE_DAYS must be greater than zero")
	}
	if c.Tracker.BaseURL == "" {
		return fmt.Errorf("TRACKER_BASE_URL is required when collection is enabled")
	}
	if len(c.Tracker.Projects) == 0 {
		return fmt.Errorf("TRACKER_PROJECTS is required when collection is enabled")
	}

	if !isNonDevelopment(c.Environment) {
		return nil
	}

	if c.Tracker.PersonalAccessToken == "" {
		return fmt.Errorf("TRACKER_PAT is required when collection is enabled in non-development environments")
	}

	return nil
}

func resolveEnvironment() string {
	return strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("APP_ENV")),
		strings.TrimSpace(os.Getenv("ENVIRONMENT")),
		strings.TrimSpace(os.Getenv("GO_ENV")),
		defaultEnvironment,
	))
}

func isNonDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}

func parseBool(name string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean value", name)
	}
}

func parseDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", name, err)
	}

	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}

	return parsed, nil
}

func parseInt(name string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", name, err)
	}
	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
