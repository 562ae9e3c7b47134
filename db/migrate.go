// Package db runs embedded schema migrations.
package db

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/quillhq/quill/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending migrations. Migrations are embedded at compile
// time and tracked in the schema_migrations table; already-applied versions
// are skipped.
//
// connURL must use the postgres:// or postgresql:// scheme.
func Migrate(connURL string, logger log.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	dbURL, err := convertToMigrateURL(connURL)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("closing migration source", "error", srcErr)
		}
		if dbErr != nil {
			logger.Warn("closing migration database connection", "error", dbErr)
		}
	}()

	version, dirty, verErr := m.Version()
	if verErr != nil && !errors.Is(verErr, migrate.ErrNilVersion) {
		return fmt.Errorf("checking migration version: %w", verErr)
	}
	if dirty {
		return fmt.Errorf("database in dirty state (version=%d), manual cleanup required", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("running migrations: %w", err)
	}

	if finalVersion, _, verErr := m.Version(); verErr == nil {
		logger.Info("migrations completed", "version", finalVersion)
	}
	return nil
}

// convertToMigrateURL rewrites the connection URL scheme to pgx5:// for
// golang-migrate's pgx v5 driver.
func convertToMigrateURL(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme: %s", u.Scheme)
	}
}
