// Command migrate manages the boardpulse database schema.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch command, args := os.Args[1], os.Args[2:]; command {
	case "up":
		err = migrateUp(args)
	case "down":
		err = migrateDown(args)
	case "status":
		err = printStatus()
	case "create":
		err = createMigration(args)
	case "force":
		err = forceVersion(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		err = fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [args]

Commands:
  up [n]         Apply all pending migrations, or the next n
  down [n]       Roll back all migrations, or the last n
  status         Show the current schema version
  create <name>  Create numbered up/down migration files
  force <ver>    Force the schema version (clears dirty state)

Environment:
  DATABASE_URL    PostgreSQL connection string (required except for create)
  MIGRATIONS_DIR  Migration directory (default: migrations)
`, filepath.Base(os.Args[0]))
}

func migrationsDir() (string, error) {
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	return filepath.Abs(dir)
}

func openMigrator() (*migrate.Migrate, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	dir, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	return migrate.New("file://"+dir, databaseURL)
}

func closeMigrator(m *migrate.Migrate) {
	if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
		fmt.Fprintf(os.Stderr, "migrate: close: source=%v db=%v\n", sourceErr, dbErr)
	}
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid step count %q", args[0])
	}
	return steps, nil
}

func migrateUp(args []string) error {
	steps, err := parseSteps(args)
	if err != nil {
		return err
	}
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if steps > 0 {
		err = m.Steps(steps)
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("no pending migrations")
		return nil
	}
	return err
}

func migrateDown(args []string) error {
	steps, err := parseSteps(args)
	if err != nil {
		return err
	}
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if steps > 0 {
		err = m.Steps(-steps)
	} else {
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("nothing to roll back")
		return nil
	}
	return err
}

func printStatus() error {
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("schema version: none")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("schema version: %d (dirty=%v)\n", version, dirty)
	return nil
}

func forceVersion(args []string) error {
	if len(args) == 0 {
		return errors.New("force requires a version number")
	}
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Force(version); err != nil {
		return err
	}
	fmt.Printf("forced schema version to %d\n", version)
	return nil
}

var namePattern = regexp.MustCompile(`[^a-z0-9_]+`)

func createMigration(args []string) error {
	if len(args) == 0 {
		return errors.New("create requires a migration name")
	}
	name := strings.Trim(namePattern.ReplaceAllString(
		strings.ReplaceAll(strings.ToLower(args[0]), "-", "_"), "_"), "_")
	if name == "" {
		return errors.New("migration name must contain alphanumeric characters")
	}

	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	version, err := nextVersion(dir)
	if err != nil {
		return err
	}

	base := fmt.Sprintf("%03d_%s", version, name)
	for _, suffix := range []string{".up.sql", ".down.sql"} {
		path := filepath.Join(dir, base+suffix)
		if err := os.WriteFile(path, []byte("-- "+base+suffix+"\n"), 0o644); err != nil {
			return err
		}
		fmt.Printf("created %s\n", path)
	}
	return nil
}

// nextVersion scans the migrations directory for the highest numeric prefix.
func nextVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, entry := range entries {
		prefix, _, found := strings.Cut(entry.Name(), "_")
		if !found {
			continue
		}
		if version, err := strconv.Atoi(prefix); err == nil && version > highest {
			highest = version
		}
	}
	return highest + 1, nil
}
