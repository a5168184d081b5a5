package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// schemaMu serialises schema changes across every SQLiteStorage in the process.
var schemaMu sync.Mutex

// newMigrator wires the embedded migrations to a dedicated connection. The
// sqlite3 driver closes its database on Close, so it never gets s.db.
func (s *SQLiteStorage) newMigrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	conn, err := sql.Open("sqlite3", s.path)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}

	target, err := sqlite3.WithInstance(conn, &sqlite3.Config{})
	if err != nil {
		src.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to prepare migration target: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", target)
	if err != nil {
		src.Close()
		target.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// Migrate brings the schema up to the newest embedded version. An
// up-to-date schema is not an error.
func (s *SQLiteStorage) Migrate() (err error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	m, err := s.newMigrator()
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrationStatus is the schema version recorded by the migrator.
type MigrationStatus struct {
	Version uint
	Dirty   bool
}

// GetMigrationStatus reads the recorded schema version.
func (s *SQLiteStorage) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	var status MigrationStatus
	err := s.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).
		Scan(&status.Version, &status.Dirty)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: no migrations applied", ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	return &status, nil
}
