package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	sqlite3mig "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

const (
	// LatestMigrationVersion is the latest migration version of the
	// database. This is used to implement downgrade protection for the
	// daemon.
	//
	// NOTE: This MUST be updated when a new migration is added.
	LatestMigrationVersion uint = 1
)

var (
	// ErrMigrationDowngrade is returned when a database downgrade is
	// detected.
	ErrMigrationDowngrade = errors.New("database downgrade detected")
)

// migrationLogger wraps slog.Logger to implement the migrate.Logger interface.
type migrationLogger struct {
	log *slog.Logger
}

// Printf implements the migrate.Logger interface.
func (m *migrationLogger) Printf(format string, v ...any) {
	// Trim trailing newlines from the format.
	format = strings.TrimRight(format, "\n")
	m.log.Info(fmt.Sprintf(format, v...))
}

// Verbose returns true when verbose logging is enabled.
func (m *migrationLogger) Verbose() bool {
	return true
}

// ApplyMigrations executes all migration files embedded in the binary against
// the given database, bringing the schema up to the latest version. It
// refuses to run against a database that is newer than the migrations known
// to this binary, or one left dirty by a previous failed migration.
func ApplyMigrations(db *sql.DB, log *slog.Logger) error {
	driver, err := sqlite3mig.WithInstance(
		db, &sqlite3mig.Config{},
	)
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	// Create a new migration source using the embedded file system.
	migrateFileServer, err := httpfs.New(
		http.FS(sqlSchemas), "migrations",
	)
	if err != nil {
		return err
	}

	// Create the migration instance with our driver and source.
	sqlMigrate, err := migrate.NewWithInstance(
		"migrations", migrateFileServer, "sqlite3", driver,
	)
	if err != nil {
		return err
	}

	migrationVersion, dirty, err := sqlMigrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration "+
			"version: %w", err)
	}

	// If the migration version is dirty, we should not proceed with
	// further migrations, as this indicates that a previous migration did
	// not complete successfully and requires manual intervention.
	if dirty {
		return fmt.Errorf("database is in a dirty state at version "+
			"%v, manual intervention required", migrationVersion)
	}

	// As the down migrations may end up *dropping* data, we want to
	// prevent that without explicit accounting.
	if migrationVersion > LatestMigrationVersion {
		return fmt.Errorf("%w: database version is newer than the "+
			"latest migration version, preventing downgrade: "+
			"db_version=%v, latest_migration_version=%v",
			ErrMigrationDowngrade, migrationVersion,
			LatestMigrationVersion)
	}

	log.Info("Attempting to apply migration(s)",
		"current_db_version", migrationVersion,
		"latest_migration_version", LatestMigrationVersion,
	)

	// Apply our local logger to the migration instance.
	sqlMigrate.Log = &migrationLogger{log}

	if err := sqlMigrate.Up(); err != nil &&
		!errors.Is(err, migrate.ErrNoChange) {

		return err
	}

	newVersion, _, err := sqlMigrate.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.Info("Database version after migration",
		"current_db_version", newVersion,
	)

	return nil
}
