package models

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrateAdapter runs the embedded SQL migrations against the PostgreSQL
// connection behind a GORM handle.
type MigrateAdapter struct {
	db *gorm.DB
}

// NewMigrateAdapter creates a new migration adapter
func NewMigrateAdapter(db *gorm.DB) *MigrateAdapter {
	return &MigrateAdapter{db: db}
}

func (m *MigrateAdapter) migrator() (*migrate.Migrate, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return nil, fmt.Errorf("could not get sql.DB from gorm: %w", err)
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("could not create migration driver: %w", err)
	}

	migration, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("could not create migration instance: %w", err)
	}
	return migration, nil
}

// RunMigrations applies every pending up migration.
func (m *MigrateAdapter) RunMigrations() error {
	migration, err := m.migrator()
	if err != nil {
		return err
	}

	defer closeMigrator(migration)

	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// GetMigrationVersion gets the current migration version. A database with no
// applied migration reports version 0.
func (m *MigrateAdapter) GetMigrationVersion() (uint, bool, error) {
	migration, err := m.migrator()
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(migration)

	version, dirty, err := migration.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// closeMigrator returns the dedicated connection the postgres driver holds.
// The pool itself stays open.
func closeMigrator(migration *migrate.Migrate) {
	_, _ = migration.Close()
}
